package tree

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// ClosureEntry links a node to each of its ancestors, itself included at
// depth 0.
type ClosureEntry struct {
	Ancestor   int64 `gorm:"primaryKey;autoIncrement:false"`
	Descendant int64 `gorm:"primaryKey;autoIncrement:false"`
	Depth      int   `gorm:"not null"`
}

// MigrateClosure creates the closure tables of the given closure tree models.
// Models using another strategy are ignored.
func MigrateClosure(db *gorm.DB, models ...any) error {
	for _, model := range models {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return err
		}
		meta, err := mapping.For(stmt.Schema)
		if err != nil {
			return err
		}
		if meta.Tree == nil || meta.Tree.Type != mapping.TreeClosure {
			continue
		}
		if err := db.Table(meta.Tree.Closure).AutoMigrate(&ClosureEntry{}); err != nil {
			return fmt.Errorf("tree: migrate %s: %w", meta.Tree.Closure, err)
		}
	}
	return nil
}

// closure keeps every ancestor and descendant pair in a side table.
type closure struct {
	log *zap.Logger
}

func closureTable(cfg *mapping.TreeConfig) clause.Table {
	return clause.Table{Name: cfg.Closure}
}

func (s closure) beforeCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error {
	if cfg.Level == nil {
		return nil
	}
	var level int64
	if parent := parentOf(ea, cfg, obj); parent != nil {
		p, err := loadParent(ea, cfg, parent)
		if err != nil {
			return err
		}
		level = p.level + 1
	}
	return set(ea, obj, cfg.Level, level)
}

func (s closure) afterCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error {
	id := toInt64(identity(ea, obj))
	om := ea.ObjectManager()
	if err := om.Table(cfg.Closure).Create(&ClosureEntry{Ancestor: id, Descendant: id}).Error; err != nil {
		return fmt.Errorf("tree: link %s#%d: %w", ea.Schema().Name, id, err)
	}
	parent := parentOf(ea, cfg, obj)
	if parent == nil {
		return nil
	}
	err := ea.ObjectManager().Exec("INSERT INTO ? (ancestor, descendant, depth) SELECT ancestor, ?, depth + 1 FROM ? WHERE descendant = ?",
		closureTable(cfg), id, closureTable(cfg), toInt64(parent)).Error
	if err != nil {
		return fmt.Errorf("tree: link %s#%d to its ancestors: %w", ea.Schema().Name, id, err)
	}
	return nil
}

func (s closure) beforeUpdate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value, stored *node) error {
	parent := stored.parent
	if ea.Updating(obj, cfg.Parent) {
		parent = parentOf(ea, cfg, obj)
	}
	if sameValue(parent, stored.parent) {
		return set(ea, obj, cfg.Level, stored.level)
	}
	id := toInt64(stored.id)
	var level int64
	if parent != nil {
		if sameValue(parent, stored.id) {
			return ErrInvalidMove
		}
		var below int64
		err := ea.ObjectManager().Table(cfg.Closure).
			Where("ancestor = ? AND descendant = ?", id, toInt64(parent)).
			Count(&below).Error
		if err != nil {
			return fmt.Errorf("tree: check move of %s#%d: %w", ea.Schema().Name, id, err)
		}
		if below > 0 {
			return ErrInvalidMove
		}
		p, err := loadParent(ea, cfg, parent)
		if err != nil {
			return err
		}
		level = p.level + 1
	}

	t := closureTable(cfg)
	om := ea.ObjectManager()
	err := om.Exec("DELETE FROM ? WHERE descendant IN (SELECT descendant FROM ? WHERE ancestor = ?) "+
		"AND ancestor NOT IN (SELECT descendant FROM ? WHERE ancestor = ?)", t, t, id, t, id).Error
	if err != nil {
		return fmt.Errorf("tree: unlink %s#%d: %w", ea.Schema().Name, id, err)
	}
	if parent != nil {
		err = ea.ObjectManager().Exec("INSERT INTO ? (ancestor, descendant, depth) "+
			"SELECT super.ancestor, sub.descendant, super.depth + sub.depth + 1 FROM ? super CROSS JOIN ? sub "+
			"WHERE super.descendant = ? AND sub.ancestor = ?", t, t, t, toInt64(parent), id).Error
		if err != nil {
			return fmt.Errorf("tree: relink %s#%d: %w", ea.Schema().Name, id, err)
		}
	}
	if cfg.Level != nil && level != stored.level {
		err = session(ea).
			Where("? IN (SELECT descendant FROM ? WHERE ancestor = ? AND depth > 0)", col(pkField(ea.Schema()).DBName), t, id).
			UpdateColumn(cfg.Level.DBName, gorm.Expr("? + ?", col(cfg.Level.DBName), level-stored.level)).Error
		if err != nil {
			return fmt.Errorf("tree: relevel under %s#%d: %w", ea.Schema().Name, id, err)
		}
	}
	s.log.Debug("node moved",
		zap.String("model", ea.Schema().Name),
		zap.Int64("id", id),
		zap.Any("parent", parent))
	return set(ea, obj, cfg.Level, level)
}

func (s closure) removeDescendants(ea *event.ORM, cfg *mapping.TreeConfig, removed []*node) error {
	pk := pkField(ea.Schema())
	for _, n := range removed {
		id := toInt64(n.id)
		var ids []int64
		err := ea.ObjectManager().Table(cfg.Closure).Where("ancestor = ?", id).Pluck("descendant", &ids).Error
		if err != nil {
			return fmt.Errorf("tree: list descendants of %s#%d: %w", ea.Schema().Name, id, err)
		}
		if len(ids) == 0 {
			continue
		}
		if len(ids) > 1 {
			err = session(ea).Where(clause.IN{Column: col(pk.DBName), Values: int64s(ids)}).
				Delete(reflect.New(ea.Schema().ModelType).Interface()).Error
			if err != nil {
				return fmt.Errorf("tree: remove descendants of %s#%d: %w", ea.Schema().Name, id, err)
			}
		}
		err = ea.ObjectManager().Table(cfg.Closure).
			Where(clause.IN{Column: col("descendant"), Values: int64s(ids)}).
			Delete(&ClosureEntry{}).Error
		if err != nil {
			return fmt.Errorf("tree: unlink descendants of %s#%d: %w", ea.Schema().Name, id, err)
		}
	}
	return nil
}

func int64s(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
