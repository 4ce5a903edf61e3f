// Package softdeleteable turns deletes into an update of a deletion date and
// hides deleted rows from queries.
package softdeleteable

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

const (
	behavior = "softdeleteable"

	withDeletedKey = "behave:softdeleteable:with_deleted"
	onlyDeletedKey = "behave:softdeleteable:only_deleted"
	filterClause   = "behave:softdeleteable:filter"
)

// Listener is the softdeleteable GORM plugin.
type Listener struct {
	log *zap.Logger
	now func() time.Time
}

type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// New creates a softdeleteable listener. Register it with db.Use.
func New(opts ...Option) *Listener {
	l := &Listener{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) Name() string { return "behave:" + behavior }

func (l *Listener) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").
		Register(orm.CallbackName(behavior, "query_filter"), l.filter); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").
		Register(orm.CallbackName(behavior, "row_filter"), l.filter); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").
		Register(orm.CallbackName(behavior, "before_delete"), l.beforeDelete); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").
		Register(orm.CallbackName(behavior, "after_delete"), l.afterDelete)
}

// WithDeleted is a scope disabling the filter for one query.
func WithDeleted(db *gorm.DB) *gorm.DB {
	return db.Set(withDeletedKey, true)
}

// OnlyDeleted is a scope selecting deleted rows only.
func OnlyDeleted(db *gorm.DB) *gorm.DB {
	return db.Set(onlyDeletedKey, true)
}

func config(tx *gorm.DB) *mapping.SoftDeleteConfig {
	if tx.Statement.Schema == nil {
		return nil
	}
	meta, err := mapping.For(tx.Statement.Schema)
	if err != nil {
		event.RecordError(behavior)
		tx.AddError(err)
		return nil
	}
	return meta.SoftDeleteable
}

func setting(tx *gorm.DB, key string) bool {
	v, ok := tx.Get(key)
	return ok && v == true
}

func column(sd *mapping.SoftDeleteConfig) clause.Column {
	return clause.Column{Table: clause.CurrentTable, Name: sd.Field.DBName}
}

// visible matches rows not deleted, or deleted in the future when time aware.
func (l *Listener) visible(sd *mapping.SoftDeleteConfig) clause.Expression {
	isNull := clause.Eq{Column: column(sd), Value: nil}
	if !sd.TimeAware {
		return isNull
	}
	return clause.Or(isNull, clause.Gt{Column: column(sd), Value: l.now()})
}

func (l *Listener) deleted(sd *mapping.SoftDeleteConfig) clause.Expression {
	notNull := clause.Neq{Column: column(sd), Value: nil}
	if !sd.TimeAware {
		return notNull
	}
	return clause.And(notNull, clause.Lte{Column: column(sd), Value: l.now()})
}

func (l *Listener) filter(tx *gorm.DB) {
	stmt := tx.Statement
	if tx.Error != nil || stmt.Unscoped || setting(tx, withDeletedKey) {
		return
	}
	sd := config(tx)
	if sd == nil {
		return
	}
	if _, ok := stmt.Clauses[filterClause]; ok {
		return
	}
	// a lone OR condition would otherwise swallow the filter
	if c, ok := stmt.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok && len(where.Exprs) > 1 {
			for _, expr := range where.Exprs {
				if or, ok := expr.(clause.OrConditions); ok && len(or.Exprs) == 1 {
					where.Exprs = []clause.Expression{clause.And(where.Exprs...)}
					c.Expression = where
					stmt.Clauses["WHERE"] = c
					break
				}
			}
		}
	}
	cond := l.visible(sd)
	if setting(tx, onlyDeletedKey) {
		cond = l.deleted(sd)
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{cond}})
	stmt.Clauses[filterClause] = clause.Clause{}
}

func (l *Listener) beforeDelete(tx *gorm.DB) {
	stmt := tx.Statement
	if event.Skip(tx) || stmt.Unscoped || stmt.SQL.Len() > 0 {
		return
	}
	sd := config(tx)
	if sd == nil {
		return
	}
	ea := event.NewORM(tx)
	if sd.HardDelete {
		gone, err := l.alreadyDeleted(ea, sd)
		if err != nil {
			event.RecordError(behavior)
			tx.AddError(err)
			return
		}
		if gone {
			l.log.Debug("removing soft deleted rows", zap.String("model", stmt.Schema.Name))
			return
		}
	}

	if err := ea.Each(func(obj reflect.Value) error {
		if !obj.CanAddr() {
			return nil
		}
		if h, ok := obj.Addr().Interface().(orm.PreSoftDeleteHook); ok {
			return h.PreSoftDelete(tx)
		}
		return nil
	}); err != nil {
		tx.AddError(err)
		return
	}

	now := l.now()
	stmt.AddClause(clause.Set{{Column: clause.Column{Name: sd.Field.DBName}, Value: now}})
	switch stmt.ReflectValue.Kind() {
	case reflect.Slice, reflect.Array:
		stmt.SetColumn(sd.Field.DBName, now, true)
	case reflect.Struct:
		if stmt.ReflectValue.CanAddr() {
			stmt.SetColumn(sd.Field.DBName, now, true)
		}
	}

	_, queryValues := schema.GetIdentityFieldValuesMap(stmt.Context, stmt.ReflectValue, stmt.Schema.PrimaryFields)
	col, values := schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, queryValues)
	if len(values) > 0 {
		stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.IN{Column: col, Values: values}}})
	}
	if stmt.Model != nil && stmt.Dest != stmt.Model {
		_, queryValues = schema.GetIdentityFieldValuesMap(stmt.Context, reflect.ValueOf(stmt.Model), stmt.Schema.PrimaryFields)
		col, values = schema.ToQueryValues(stmt.Table, stmt.Schema.PrimaryFieldDBNames, queryValues)
		if len(values) > 0 {
			stmt.AddClause(clause.Where{Exprs: []clause.Expression{clause.IN{Column: col, Values: values}}})
		}
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{l.visible(sd)}})

	stmt.AddClauseIfNotExists(clause.Update{})
	stmt.Build(tx.Callback().Update().Clauses...)
	ea.InstanceSet(event.SoftDeletedKey, true)
}

// alreadyDeleted reports whether every object of the statement is stored
// with a deletion date in the past.
func (l *Listener) alreadyDeleted(ea *event.ORM, sd *mapping.SoftDeleteConfig) (bool, error) {
	seen := false
	all := true
	now := l.now()
	err := ea.Each(func(obj reflect.Value) error {
		original, err := ea.Original(obj)
		if errors.Is(err, gorm.ErrPrimaryKeyRequired) || errors.Is(err, gorm.ErrRecordNotFound) {
			all = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("softdeleteable: load %s: %w", ea.Schema().Name, err)
		}
		seen = true
		v, _ := sd.Field.ValueOf(ea.Context(), original)
		at, ok := event.Deref(v).(time.Time)
		if !ok || at.After(now) {
			all = false
		}
		return nil
	})
	return seen && all, err
}

func (l *Listener) afterDelete(tx *gorm.DB) {
	if tx.Error != nil || !event.IsSoftDelete(tx) {
		return
	}
	ea := event.NewORM(tx)
	err := ea.Each(func(obj reflect.Value) error {
		if !obj.CanAddr() {
			return nil
		}
		if h, ok := obj.Addr().Interface().(orm.PostSoftDeleteHook); ok {
			return h.PostSoftDelete(tx)
		}
		return nil
	})
	if err != nil {
		tx.AddError(err)
		return
	}
	event.RecordEvent(behavior, "soft_delete")
	l.log.Debug("rows soft deleted",
		zap.String("model", tx.Statement.Schema.Name),
		zap.Int64("rows", tx.RowsAffected))
}
