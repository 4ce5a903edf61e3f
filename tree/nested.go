package tree

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// nested keeps left and right bounds on every node; a node's descendants are
// the rows whose bounds lie within its own.
type nested struct {
	log *zap.Logger
}

func (s nested) beforeCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error {
	parent := parentOf(ea, cfg, obj)
	n := &node{id: identity(ea, obj), parent: parent}
	switch {
	case parent != nil:
		p, err := loadParent(ea, cfg, parent)
		if err != nil {
			return err
		}
		// last child of parent
		if err := s.shift(ea, cfg, p.root, p.right, 2); err != nil {
			return err
		}
		n.left, n.right, n.level, n.root = p.right, p.right+1, p.level+1, p.root
	case cfg.Root != nil:
		// own tree; the root key is known once the row exists
		n.left, n.right, n.root = 1, 2, n.id
	default:
		last, err := s.lastRight(ea, cfg)
		if err != nil {
			return err
		}
		n.left, n.right = last+1, last+2
	}
	return s.write(ea, cfg, obj, n)
}

func (s nested) afterCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error {
	if cfg.Root == nil || parentOf(ea, cfg, obj) != nil {
		return nil
	}
	id := identity(ea, obj)
	if v, _ := cfg.Root.ValueOf(ea.Context(), obj); sameValue(v, id) {
		return nil
	}
	err := session(ea).Where(clause.Eq{Column: col(pkField(ea.Schema()).DBName), Value: id}).
		UpdateColumn(cfg.Root.DBName, id).Error
	if err != nil {
		return fmt.Errorf("tree: set root of %s#%v: %w", ea.Schema().Name, id, err)
	}
	return cfg.Root.Set(ea.Context(), obj, id)
}

func (s nested) beforeUpdate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value, stored *node) error {
	parent := stored.parent
	if ea.Updating(obj, cfg.Parent) {
		parent = parentOf(ea, cfg, obj)
	}
	if sameValue(parent, stored.parent) {
		// bounds are managed; whatever the object holds is overwritten
		return s.write(ea, cfg, obj, stored)
	}
	moved, err := s.move(ea, cfg, stored, parent)
	if err != nil {
		return err
	}
	s.log.Debug("node moved",
		zap.String("model", ea.Schema().Name),
		zap.Any("id", stored.id),
		zap.Any("parent", parent))
	return s.write(ea, cfg, obj, moved)
}

// move places the subtree of n as the last child of parent, or as a root
// when parent is nil.
func (s nested) move(ea *event.ORM, cfg *mapping.TreeConfig, n *node, parent any) (*node, error) {
	if parent != nil {
		if sameValue(parent, n.id) {
			return nil, ErrInvalidMove
		}
		p, err := loadParent(ea, cfg, parent)
		if err != nil {
			return nil, err
		}
		if n.contains(p) {
			return nil, ErrInvalidMove
		}
	}
	width := n.width()

	// detach the subtree into negative bounds and close its gap
	err := inTree(session(ea), cfg, n.root).
		Where(clause.Gte{Column: col(cfg.Left.DBName), Value: n.left}).
		Where(clause.Lte{Column: col(cfg.Right.DBName), Value: n.right}).
		UpdateColumns(map[string]any{
			cfg.Left.DBName:  gorm.Expr("0 - ?", col(cfg.Left.DBName)),
			cfg.Right.DBName: gorm.Expr("0 - ?", col(cfg.Right.DBName)),
		}).Error
	if err != nil {
		return nil, fmt.Errorf("tree: detach %s#%v: %w", ea.Schema().Name, n.id, err)
	}
	if err := s.shift(ea, cfg, n.root, n.right+1, -width); err != nil {
		return nil, err
	}

	moved := &node{id: n.id, parent: parent}
	switch {
	case parent != nil:
		p, err := loadParent(ea, cfg, parent)
		if err != nil {
			return nil, err
		}
		moved.left, moved.level, moved.root = p.right, p.level+1, p.root
	case cfg.Root != nil:
		moved.left, moved.root = 1, n.id
	default:
		last, err := s.lastRight(ea, cfg)
		if err != nil {
			return nil, err
		}
		moved.left = last + 1
	}
	moved.right = moved.left + width - 1

	if err := s.shift(ea, cfg, moved.root, moved.left, width); err != nil {
		return nil, err
	}
	offset := moved.left - n.left
	columns := map[string]any{
		cfg.Left.DBName:  gorm.Expr("? - ?", offset, col(cfg.Left.DBName)),
		cfg.Right.DBName: gorm.Expr("? - ?", offset, col(cfg.Right.DBName)),
	}
	if cfg.Level != nil {
		columns[cfg.Level.DBName] = gorm.Expr("? + ?", col(cfg.Level.DBName), moved.level-n.level)
	}
	if cfg.Root != nil {
		columns[cfg.Root.DBName] = moved.root
	}
	err = inTree(session(ea), cfg, n.root).
		Where(clause.Lt{Column: col(cfg.Left.DBName), Value: 0}).
		UpdateColumns(columns).Error
	if err != nil {
		return nil, fmt.Errorf("tree: attach %s#%v: %w", ea.Schema().Name, n.id, err)
	}
	return moved, nil
}

func (s nested) removeDescendants(ea *event.ORM, cfg *mapping.TreeConfig, removed []*node) error {
	var done []*node
	for _, n := range removed {
		var gone int64
		covered := false
		for _, d := range done {
			if d.contains(n) {
				covered = true
				break
			}
			if sameValue(d.root, n.root) && d.right < n.left {
				gone += d.width()
			}
		}
		if covered {
			continue
		}
		left, right := n.left-gone, n.right-gone
		if right-left > 1 {
			err := inTree(session(ea), cfg, n.root).
				Where(clause.Gt{Column: col(cfg.Left.DBName), Value: left}).
				Where(clause.Lt{Column: col(cfg.Right.DBName), Value: right}).
				Delete(reflect.New(ea.Schema().ModelType).Interface()).Error
			if err != nil {
				return fmt.Errorf("tree: remove descendants of %s#%v: %w", ea.Schema().Name, n.id, err)
			}
		}
		if err := s.shift(ea, cfg, n.root, right+1, -(right - left + 1)); err != nil {
			return err
		}
		done = append(done, n)
	}
	return nil
}

// shift moves every bound at or after from by delta.
func (s nested) shift(ea *event.ORM, cfg *mapping.TreeConfig, root any, from, delta int64) error {
	for _, f := range []string{cfg.Left.DBName, cfg.Right.DBName} {
		err := inTree(session(ea), cfg, root).
			Where(clause.Gte{Column: col(f), Value: from}).
			UpdateColumn(f, gorm.Expr("? + ?", col(f), delta)).Error
		if err != nil {
			return fmt.Errorf("tree: shift %s: %w", f, err)
		}
	}
	return nil
}

func (s nested) lastRight(ea *event.ORM, cfg *mapping.TreeConfig) (int64, error) {
	var last int64
	err := session(ea).Select("COALESCE(MAX(?), 0)", col(cfg.Right.DBName)).Scan(&last).Error
	if err != nil {
		return 0, fmt.Errorf("tree: read last bound: %w", err)
	}
	return last, nil
}

func (s nested) write(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value, n *node) error {
	if err := set(ea, obj, cfg.Left, n.left); err != nil {
		return err
	}
	if err := set(ea, obj, cfg.Right, n.right); err != nil {
		return err
	}
	if err := set(ea, obj, cfg.Level, n.level); err != nil {
		return err
	}
	if cfg.Root != nil && n.root != nil {
		return set(ea, obj, cfg.Root, n.root)
	}
	return nil
}

// swap exchanges the adjacent sibling subtrees a and b, a coming first.
func (s nested) swap(ea *event.ORM, cfg *mapping.TreeConfig, a, b *node) error {
	l := col(cfg.Left.DBName)
	err := inTree(session(ea), cfg, a.root).
		Where(clause.Gte{Column: l, Value: a.left}).
		Where(clause.Lte{Column: col(cfg.Right.DBName), Value: b.right}).
		UpdateColumns(map[string]any{
			cfg.Left.DBName: gorm.Expr("CASE WHEN ? >= ? THEN ? - ? ELSE ? + ? END",
				l, b.left, l, a.width(), l, b.width()),
			cfg.Right.DBName: gorm.Expr("CASE WHEN ? >= ? THEN ? - ? ELSE ? + ? END",
				l, b.left, col(cfg.Right.DBName), a.width(), col(cfg.Right.DBName), b.width()),
		}).Error
	if err != nil {
		return fmt.Errorf("tree: swap %v and %v: %w", a.id, b.id, err)
	}
	return nil
}

func loadParent(ea *event.ORM, cfg *mapping.TreeConfig, id any) (*node, error) {
	p, err := loadNode(ea, cfg, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("tree: parent %s#%v not found", ea.Schema().Name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("tree: load parent %s#%v: %w", ea.Schema().Name, id, err)
	}
	return p, nil
}
