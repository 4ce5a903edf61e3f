// Package loggable records a versioned history of changes made to objects.
package loggable

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

const (
	behavior   = "loggable"
	pendingKey = "behave:loggable:pending"
)

// Listener is the loggable GORM plugin.
type Listener struct {
	log   *zap.Logger
	store Store
	now   func() time.Time

	mu       sync.RWMutex
	username string
}

type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithStore sets where entries are kept. The default is a GormStore on the
// database the listener is registered with.
func WithStore(s Store) Option {
	return func(l *Listener) { l.store = s }
}

// WithDefaultUsername sets the username of changes made without one in context.
func WithDefaultUsername(username string) Option {
	return func(l *Listener) { l.username = username }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// New creates a loggable listener. Register it with db.Use.
func New(opts ...Option) *Listener {
	l := &Listener{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) Name() string { return "behave:" + behavior }

func (l *Listener) Initialize(db *gorm.DB) error {
	if l.store == nil {
		l.store = NewGormStore(db, "")
	}
	cb := db.Callback()
	if err := cb.Create().After("gorm:create").
		Register(orm.CallbackName(behavior, "after_create"), l.afterCreate); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").
		Register(orm.CallbackName(behavior, "before_update"), l.beforeUpdate); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").
		Register(orm.CallbackName(behavior, "after_update"), l.afterUpdate); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").
		Register(orm.CallbackName(behavior, "after_delete"), l.afterDelete)
}

// Store returns the store entries are written to.
func (l *Listener) Store() Store { return l.store }

// SetUsername sets the username of changes made without one in context.
func (l *Listener) SetUsername(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.username = username
}

func (l *Listener) usernameFor(tx *gorm.DB) string {
	if u, ok := UsernameFromContext(tx.Statement.Context); ok {
		return u
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.username
}

func (l *Listener) metadata(tx *gorm.DB) *mapping.Metadata {
	meta, err := mapping.For(tx.Statement.Schema)
	if err != nil {
		event.RecordError(behavior)
		tx.AddError(err)
		return nil
	}
	if meta.Loggable == nil {
		return nil
	}
	return meta
}

func (l *Listener) fail(tx *gorm.DB, err error) {
	event.RecordError(behavior)
	tx.AddError(err)
}

func (l *Listener) afterCreate(tx *gorm.DB) {
	if event.Skip(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	la := NewAdapter(event.NewORM(tx), l.store)
	err := la.Each(func(obj reflect.Value) error {
		if _, ok := la.Identifier(obj); !ok {
			if la.IsPostInsertGenerator(la.Schema()) {
				return fmt.Errorf("loggable: %s was inserted without an identifier", meta.Class)
			}
			l.log.Warn("object without identifier not logged", zap.String("class", meta.Class))
			return nil
		}
		data := make(map[string]any, len(meta.Loggable.Versioned))
		for _, f := range meta.Loggable.Versioned {
			data[f.Name] = event.Deref(la.FieldValue(obj, f))
		}
		return l.write(tx, la, meta, obj, ActionCreate, data)
	})
	if err != nil {
		l.fail(tx, err)
	}
}

type pending struct {
	obj  reflect.Value
	data map[string]any
}

func (l *Listener) beforeUpdate(tx *gorm.DB) {
	if event.Skip(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil || len(meta.Loggable.Versioned) == 0 {
		return
	}
	ea := event.NewORM(tx)
	var queue []pending
	err := ea.Each(func(obj reflect.Value) error {
		original, err := ea.Original(obj)
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrPrimaryKeyRequired) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loggable: load %s: %w", meta.Class, err)
		}
		data := map[string]any{}
		for _, f := range meta.Loggable.Versioned {
			if !ea.Updating(obj, f) {
				continue
			}
			before, _ := f.ValueOf(ea.Context(), original)
			after := ea.FieldValue(obj, f)
			if !event.Equal(before, after) {
				data[f.Name] = event.Deref(after)
			}
		}
		if len(data) > 0 {
			queue = append(queue, pending{obj: obj, data: data})
		}
		return nil
	})
	if err != nil {
		l.fail(tx, err)
		return
	}
	if len(queue) > 0 {
		ea.InstanceSet(pendingKey, queue)
	}
}

func (l *Listener) afterUpdate(tx *gorm.DB) {
	if event.Skip(tx) {
		return
	}
	v, ok := tx.InstanceGet(pendingKey)
	if !ok {
		return
	}
	queue, _ := v.([]pending)
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	la := NewAdapter(event.NewORM(tx), l.store)
	for _, p := range queue {
		if err := l.write(tx, la, meta, p.obj, ActionUpdate, p.data); err != nil {
			l.fail(tx, err)
			return
		}
	}
}

func (l *Listener) afterDelete(tx *gorm.DB) {
	if event.Skip(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	la := NewAdapter(event.NewORM(tx), l.store)
	err := la.Each(func(obj reflect.Value) error {
		if _, ok := la.Identifier(obj); !ok {
			return nil
		}
		return l.write(tx, la, meta, obj, ActionRemove, nil)
	})
	if err != nil {
		l.fail(tx, err)
	}
}

func (l *Listener) write(tx *gorm.DB, la *Adapter, meta *mapping.Metadata, obj reflect.Value, action string, data map[string]any) error {
	id, _ := la.Identifier(obj)
	version, err := la.NewVersion(la.Schema(), obj)
	if err != nil {
		return err
	}
	entry := &LogEntry{
		Action:      action,
		LoggedAt:    l.now(),
		ObjectID:    id,
		ObjectClass: meta.Class,
		Version:     version,
		Data:        data,
		Username:    l.usernameFor(tx),
	}
	if err := l.store.Save(la.Context(), la.ObjectManager(), entry); err != nil {
		return err
	}
	event.RecordEvent(behavior, action)
	l.log.Debug("change logged",
		zap.String("class", meta.Class),
		zap.String("id", id),
		zap.String("action", action),
		zap.Int("version", version))
	return nil
}
