// Package tree maintains hierarchies of objects as nested sets,
// materialized paths or closure tables.
package tree

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

const (
	behavior   = "tree"
	pendingKey = "behave:tree:removed"
)

var (
	// ErrInvalidMove is returned when a node would become its own descendant.
	ErrInvalidMove = errors.New("tree: cannot move a node under itself or its descendants")
	// ErrDuplicatePath is returned when two nodes would share a materialized
	// path.
	ErrDuplicatePath = errors.New("tree: path is already taken")
	// ErrUnsupported is returned for operations the tree strategy lacks.
	ErrUnsupported = errors.New("tree: operation not supported by this strategy")
)

type strategy interface {
	beforeCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error
	afterCreate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value) error
	beforeUpdate(ea *event.ORM, cfg *mapping.TreeConfig, obj reflect.Value, stored *node) error
	// removeDescendants runs once the given nodes were deleted.
	removeDescendants(ea *event.ORM, cfg *mapping.TreeConfig, removed []*node) error
}

// Listener is the tree GORM plugin.
type Listener struct {
	log        *zap.Logger
	strategies map[string]strategy
}

type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// New creates a tree listener. Register it with db.Use.
func New(opts ...Option) *Listener {
	l := &Listener{log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.strategies = map[string]strategy{
		mapping.TreeNested:           nested{log: l.log},
		mapping.TreeMaterializedPath: materializedPath{log: l.log},
		mapping.TreeClosure:          closure{log: l.log},
	}
	return l
}

func (l *Listener) Name() string { return "behave:" + behavior }

func (l *Listener) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").
		Register(orm.CallbackName(behavior, "before_create"), l.beforeCreate); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").
		Register(orm.CallbackName(behavior, "after_create"), l.afterCreate); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").
		Register(orm.CallbackName(behavior, "before_update"), l.beforeUpdate); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").
		Register(orm.CallbackName(behavior, "before_delete"), l.beforeDelete); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").
		Register(orm.CallbackName(behavior, "after_delete"), l.afterDelete)
}

func (l *Listener) prepare(tx *gorm.DB) (*event.ORM, *mapping.TreeConfig, strategy) {
	if event.Skip(tx) {
		return nil, nil, nil
	}
	meta, err := mapping.For(tx.Statement.Schema)
	if err != nil {
		l.fail(tx, err)
		return nil, nil, nil
	}
	if meta.Tree == nil {
		return nil, nil, nil
	}
	return event.NewORM(tx), meta.Tree, l.strategies[meta.Tree.Type]
}

func (l *Listener) fail(tx *gorm.DB, err error) {
	event.RecordError(behavior)
	tx.AddError(err)
}

func (l *Listener) beforeCreate(tx *gorm.DB) {
	ea, cfg, s := l.prepare(tx)
	if s == nil {
		return
	}
	if err := ea.Each(func(obj reflect.Value) error {
		return s.beforeCreate(ea, cfg, obj)
	}); err != nil {
		l.fail(tx, err)
	}
}

func (l *Listener) afterCreate(tx *gorm.DB) {
	ea, cfg, s := l.prepare(tx)
	if s == nil {
		return
	}
	if err := ea.Each(func(obj reflect.Value) error {
		if err := s.afterCreate(ea, cfg, obj); err != nil {
			return err
		}
		event.RecordEvent(behavior, "insert")
		return nil
	}); err != nil {
		l.fail(tx, err)
	}
}

func (l *Listener) beforeUpdate(tx *gorm.DB) {
	ea, cfg, s := l.prepare(tx)
	if s == nil {
		return
	}
	err := ea.Each(func(obj reflect.Value) error {
		id := identity(ea, obj)
		if id == nil {
			return nil
		}
		stored, err := loadNode(ea, cfg, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tree: load %s#%v: %w", ea.Schema().Name, id, err)
		}
		return s.beforeUpdate(ea, cfg, obj, stored)
	})
	if err != nil {
		l.fail(tx, err)
	}
}

func (l *Listener) beforeDelete(tx *gorm.DB) {
	ea, cfg, s := l.prepare(tx)
	if s == nil {
		return
	}
	var removed []*node
	err := ea.Each(func(obj reflect.Value) error {
		id := identity(ea, obj)
		if id == nil {
			return nil
		}
		n, err := loadNode(ea, cfg, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tree: load %s#%v: %w", ea.Schema().Name, id, err)
		}
		removed = append(removed, n)
		return nil
	})
	if err != nil {
		l.fail(tx, err)
		return
	}
	if len(removed) > 0 {
		ea.InstanceSet(pendingKey, removed)
	}
}

func (l *Listener) afterDelete(tx *gorm.DB) {
	if event.IsSoftDelete(tx) {
		return
	}
	ea, cfg, s := l.prepare(tx)
	if s == nil {
		return
	}
	v, ok := tx.InstanceGet(pendingKey)
	if !ok {
		return
	}
	removed, _ := v.([]*node)
	sort.Slice(removed, func(i, j int) bool { return removed[i].left < removed[j].left })
	if err := s.removeDescendants(ea, cfg, removed); err != nil {
		l.fail(tx, err)
		return
	}
	event.RecordEvent(behavior, "remove")
	l.log.Debug("subtrees removed",
		zap.String("model", ea.Schema().Name),
		zap.Int("nodes", len(removed)))
}
