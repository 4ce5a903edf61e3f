package tree

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// materializedPath stores on every node the path of source values leading to
// it, each followed by the separator.
type materializedPath struct {
	log *zap.Logger
}

func (s materializedPath) source(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) (string, error) {
	v := toString(nonZero(ea.FieldValue(obj, cfg.PathSource)))
	if strings.Contains(v, cfg.PathSeparator) {
		return "", fmt.Errorf("tree: path source %q of %s contains the separator %q", v, ea.Schema().Name, cfg.PathSeparator)
	}
	return v, nil
}

func (s materializedPath) parentPath(ea *event.ORM, cfg *mapping.TreeConfig, parent any) (string, error) {
	if parent == nil {
		return "", nil
	}
	p, err := loadParent(ea, cfg, parent)
	if err != nil {
		return "", err
	}
	return p.path, nil
}

func (s materializedPath) level(cfg *mapping.TreeConfig, path string) int64 {
	return int64(strings.Count(path, cfg.PathSeparator)) - 1
}

// segment is the part of the path a node adds below its parent.
func (s materializedPath) segment(cfg *mapping.TreeConfig, src string, id any) string {
	if cfg.PathAppendID {
		src += "-" + fmt.Sprint(id)
	}
	return src + cfg.PathSeparator
}

// unique fails when a row other than id already holds path. Paths carrying
// the identifier cannot collide.
func (s materializedPath) unique(ea *event.ORM, cfg *mapping.TreeConfig, path string, id any) error {
	if cfg.PathAppendID {
		return nil
	}
	q := session(ea).Where(clause.Eq{Column: col(cfg.Path.DBName), Value: path})
	if id != nil {
		q = q.Not(clause.Eq{Column: col(pkField(ea.Schema()).DBName), Value: id})
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("tree: look up path %q: %w", path, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %q", ErrDuplicatePath, path)
	}
	return nil
}

func (s materializedPath) beforeCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error {
	src, err := s.source(ea, cfg, obj)
	if err != nil {
		return err
	}
	id := identity(ea, obj)
	if src == "" || (cfg.PathAppendID && id == nil) {
		// generated sources and identifiers are only known after the insert
		return nil
	}
	prefix, err := s.parentPath(ea, cfg, parentOf(ea, cfg, obj))
	if err != nil {
		return err
	}
	path := prefix + s.segment(cfg, src, id)
	if err := s.unique(ea, cfg, path, nil); err != nil {
		return err
	}
	if err := set(ea, obj, cfg.Path, path); err != nil {
		return err
	}
	return set(ea, obj, cfg.Level, s.level(cfg, path))
}

func (s materializedPath) afterCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error {
	if current := toString(ea.FieldValue(obj, cfg.Path)); current != "" {
		return nil
	}
	src, err := s.source(ea, cfg, obj)
	if err != nil {
		return err
	}
	if src == "" {
		return fmt.Errorf("tree: path source %s of %s is empty", cfg.PathSource.Name, ea.Schema().Name)
	}
	prefix, err := s.parentPath(ea, cfg, parentOf(ea, cfg, obj))
	if err != nil {
		return err
	}
	id := identity(ea, obj)
	path := prefix + s.segment(cfg, src, id)
	if err := s.unique(ea, cfg, path, id); err != nil {
		return err
	}
	columns := map[string]any{cfg.Path.DBName: path}
	if cfg.Level != nil {
		columns[cfg.Level.DBName] = s.level(cfg, path)
	}
	err = session(ea).Where(clause.Eq{Column: col(pkField(ea.Schema()).DBName), Value: id}).
		UpdateColumns(columns).Error
	if err != nil {
		return fmt.Errorf("tree: set path of %s#%v: %w", ea.Schema().Name, id, err)
	}
	if err := cfg.Path.Set(ea.Context(), obj, path); err != nil {
		return err
	}
	if cfg.Level != nil {
		return cfg.Level.Set(ea.Context(), obj, s.level(cfg, path))
	}
	return nil
}

func (s materializedPath) beforeUpdate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value, stored *node) error {
	parent := stored.parent
	if ea.Updating(obj, cfg.Parent) {
		parent = parentOf(ea, cfg, obj)
	}
	src := stored.source
	if ea.Updating(obj, cfg.PathSource) {
		var err error
		if src, err = s.source(ea, cfg, obj); err != nil {
			return err
		}
	}
	if parent != nil && sameValue(parent, stored.id) {
		return ErrInvalidMove
	}
	prefix, err := s.parentPath(ea, cfg, parent)
	if err != nil {
		return err
	}
	if stored.path != "" && strings.HasPrefix(prefix, stored.path) {
		return ErrInvalidMove
	}
	path := prefix + s.segment(cfg, src, stored.id)
	if path != stored.path && stored.path != "" {
		if err := s.unique(ea, cfg, path, stored.id); err != nil {
			return err
		}
		columns := map[string]any{
			cfg.Path.DBName: gorm.Expr("CAST(? AS TEXT) || SUBSTR(?, ?)",
				path, col(cfg.Path.DBName), utf8.RuneCountInString(stored.path)+1),
		}
		if cfg.Level != nil {
			columns[cfg.Level.DBName] = gorm.Expr("? + ?", col(cfg.Level.DBName), s.level(cfg, path)-s.level(cfg, stored.path))
		}
		err := session(ea).
			Where(likePrefix(cfg.Path.DBName, stored.path)).
			Not(clause.Eq{Column: col(pkField(ea.Schema()).DBName), Value: stored.id}).
			UpdateColumns(columns).Error
		if err != nil {
			return fmt.Errorf("tree: rewrite paths under %s#%v: %w", ea.Schema().Name, stored.id, err)
		}
		s.log.Debug("path changed",
			zap.String("model", ea.Schema().Name),
			zap.String("from", stored.path),
			zap.String("to", path))
	}
	if err := set(ea, obj, cfg.Path, path); err != nil {
		return err
	}
	return set(ea, obj, cfg.Level, s.level(cfg, path))
}

func (s materializedPath) removeDescendants(ea *event.ORM, cfg *mapping.TreeConfig, removed []*node) error {
	for _, n := range removed {
		if n.path == "" {
			continue
		}
		err := session(ea).Where(likePrefix(cfg.Path.DBName, n.path)).
			Delete(reflect.New(ea.Schema().ModelType).Interface()).Error
		if err != nil {
			return fmt.Errorf("tree: remove descendants of %s#%v: %w", ea.Schema().Name, n.id, err)
		}
	}
	return nil
}

// ancestorPaths lists the paths of every ancestor of path, root first.
func ancestorPaths(path, sep string) []string {
	parts := strings.SplitAfter(path, sep)
	var out []string
	prefix := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		prefix += p
		out = append(out, prefix)
	}
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out
}

func likePrefix(column, prefix string) clause.Expression {
	return clause.Expr{SQL: "? LIKE ? ESCAPE '\\'", Vars: []any{col(column), escapeLike(prefix) + "%"}}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
