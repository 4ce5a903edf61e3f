package mapping

import (
	"fmt"
	"strconv"
	"strings"
)

// directive is one annotation parsed from a tag, e.g. "slug:fields=Title,unique".
type directive struct {
	name string
	opts map[string]string
}

func (d directive) has(key string) bool {
	_, ok := d.opts[key]
	return ok
}

func (d directive) str(key, def string) string {
	if v, ok := d.opts[key]; ok && v != "" {
		return v
	}
	return def
}

func (d directive) list(key string) []string {
	v, ok := d.opts[key]
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (d directive) boolean(key string, def bool) (bool, error) {
	v, ok := d.opts[key]
	if !ok {
		return def, nil
	}
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s option %q is not a boolean: %q", ErrInvalidMapping, d.name, key, v)
	}
	return b, nil
}

// parseTag splits a behavior tag into directives. Directives are separated by
// ';', a directive's options follow a ':' and are separated by ','.
func parseTag(tag string) ([]directive, error) {
	var out []directive
	for _, raw := range strings.Split(tag, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, rest, _ := strings.Cut(raw, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty directive in %q", ErrInvalidMapping, tag)
		}
		d := directive{name: name, opts: map[string]string{}}
		for _, opt := range strings.Split(rest, ",") {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				continue
			}
			k, v, _ := strings.Cut(opt, "=")
			d.opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		out = append(out, d)
	}
	return out, nil
}
