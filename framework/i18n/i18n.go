// Package i18n holds the process wide translation locale. The translatable
// listener falls back to it when neither the object nor the context names a
// locale.
package i18n

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownLocale is returned when a locale outside the configured set is
// made current.
var ErrUnknownLocale = errors.New("i18n: unknown locale")

var (
	mu      sync.RWMutex
	current string
	known   map[string]struct{}
)

// Configure restricts the accepted locales to locales and makes locale the
// current one. With no locales any locale is accepted.
func Configure(locale string, locales ...string) error {
	mu.Lock()
	known = nil
	if len(locales) > 0 {
		known = make(map[string]struct{}, len(locales))
		for _, l := range locales {
			if l = strings.TrimSpace(l); l != "" {
				known[l] = struct{}{}
			}
		}
	}
	current = ""
	mu.Unlock()
	return SetLocale(locale)
}

// SetLocale makes locale the current one. An empty locale clears it.
func SetLocale(locale string) error {
	locale = strings.TrimSpace(locale)
	mu.Lock()
	defer mu.Unlock()
	if locale != "" && known != nil {
		if _, ok := known[locale]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLocale, locale)
		}
	}
	current = locale
	return nil
}

// GetLocale returns the current locale, empty when none is set.
func GetLocale() string {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// AvailableLocales returns the accepted locales in order, or nil when any
// locale is accepted.
func AvailableLocales() []string {
	mu.RLock()
	defer mu.RUnlock()
	if known == nil {
		return nil
	}
	out := make([]string, 0, len(known))
	for l := range known {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
