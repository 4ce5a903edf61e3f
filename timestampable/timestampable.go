// Package timestampable sets date fields when objects are created, updated,
// or when a watched field changes.
package timestampable

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

const behavior = "timestampable"

// Listener is the timestampable GORM plugin.
type Listener struct {
	log *zap.Logger
	now func() time.Time
}

type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// New creates a timestampable listener. Register it with db.Use.
func New(opts ...Option) *Listener {
	l := &Listener{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) Name() string { return "behave:" + behavior }

func (l *Listener) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").
		Register(orm.CallbackName(behavior, "before_create"), l.beforeCreate); err != nil {
		return err
	}
	return db.Callback().Update().Before("gorm:update").
		Register(orm.CallbackName(behavior, "before_update"), l.beforeUpdate)
}

func (l *Listener) metadata(tx *gorm.DB) *mapping.Metadata {
	meta, err := mapping.For(tx.Statement.Schema)
	if err != nil {
		event.RecordError(behavior)
		tx.AddError(err)
		return nil
	}
	if len(meta.Timestamps) == 0 {
		return nil
	}
	return meta
}

func (l *Listener) beforeCreate(tx *gorm.DB) {
	if event.Skip(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	ea := event.NewORM(tx)
	now := l.now()
	err := ea.Each(func(obj reflect.Value) error {
		for _, tc := range meta.Timestamps {
			if _, zero := tc.Field.ValueOf(ea.Context(), obj); !zero {
				continue
			}
			if tc.On == mapping.OnChange {
				watched := event.Deref(ea.FieldValue(obj, tc.Watch))
				if watched == nil || !matches(tc, watched) {
					continue
				}
			}
			if err := l.stamp(ea, obj, tc, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		event.RecordError(behavior)
		tx.AddError(err)
	}
}

func (l *Listener) beforeUpdate(tx *gorm.DB) {
	if event.Skip(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	ea := event.NewORM(tx)
	now := l.now()
	tracksChanges := slices.ContainsFunc(meta.Timestamps, func(tc *mapping.TimestampConfig) bool {
		return tc.On == mapping.OnChange
	})
	err := ea.Each(func(obj reflect.Value) error {
		var original reflect.Value
		if tracksChanges {
			o, err := ea.Original(obj)
			if err != nil && err != gorm.ErrRecordNotFound && err != gorm.ErrPrimaryKeyRequired {
				return fmt.Errorf("timestampable: load %s: %w", meta.Class, err)
			}
			original = o
		}
		for _, tc := range meta.Timestamps {
			switch tc.On {
			case mapping.OnCreate:
				continue
			case mapping.OnChange:
				if !original.IsValid() || !ea.Updating(obj, tc.Watch) {
					continue
				}
				before, _ := tc.Watch.ValueOf(ea.Context(), original)
				after := ea.FieldValue(obj, tc.Watch)
				if event.Equal(before, after) || !matches(tc, event.Deref(after)) {
					continue
				}
			}
			if err := l.stamp(ea, obj, tc, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		event.RecordError(behavior)
		tx.AddError(err)
	}
}

// matches reports whether a watched value is one the trigger waits for.
func matches(tc *mapping.TimestampConfig, v any) bool {
	if len(tc.Values) == 0 {
		return true
	}
	return slices.Contains(tc.Values, fmt.Sprint(v))
}

func (l *Listener) stamp(ea *event.ORM, obj reflect.Value, tc *mapping.TimestampConfig, now time.Time) error {
	var v any = now
	if k := indirectKind(tc.Field.FieldType); k >= reflect.Int && k <= reflect.Int64 {
		v = now.Unix()
	}
	if err := ea.SetFieldValue(obj, tc.Field, v); err != nil {
		return fmt.Errorf("timestampable: set %s: %w", tc.Field.Name, err)
	}
	event.RecordEvent(behavior, tc.On)
	l.log.Debug("timestamp set",
		zap.String("model", ea.Schema().Name),
		zap.String("field", tc.Field.Name),
		zap.String("on", tc.On))
	return nil
}

func indirectKind(t reflect.Type) reflect.Kind {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Kind()
}
