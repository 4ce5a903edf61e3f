// Package event bridges behavior listeners to GORM's callback chain.
//
// A listener receives the *gorm.DB of the running callback, wraps it with
// NewORM and works exclusively through the Adapter: iterating the objects of
// the statement, reading and writing their fields and issuing internal queries
// that other listeners ignore.
package event

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// InternalKey is set on every session a listener opens for its own queries.
// Listeners skip statements carrying it.
const InternalKey = "behave:internal"

// SoftDeletedKey is set on a delete statement the softdeleteable listener
// turned into an update.
const SoftDeletedKey = "behave:soft_deleted"

// IsSoftDelete reports whether the running delete only stamps a deletion date.
func IsSoftDelete(tx *gorm.DB) bool {
	v, ok := tx.InstanceGet(SoftDeletedKey)
	return ok && v == true
}

// Adapter is the view a listener has of one lifecycle event.
type Adapter interface {
	// Statement is the GORM statement being executed.
	Statement() *gorm.Statement
	Context() context.Context
	Schema() *schema.Schema
	// ObjectManager opens a fresh internal session bound to the statement's
	// connection, so its queries run inside the same transaction.
	ObjectManager() *gorm.DB
	// Each calls fn for every object of the statement, batches included.
	Each(fn func(obj reflect.Value) error) error
	FieldValue(obj reflect.Value, f *schema.Field) any
	SetFieldValue(obj reflect.Value, f *schema.Field, v any) error
	// Identifier renders the primary key of obj; ok is false while it is unset.
	Identifier(obj reflect.Value) (id string, ok bool)
	// Original loads the stored row of obj into a new value of the model type.
	Original(obj reflect.Value) (reflect.Value, error)
}

// LoggableAdapter is the Adapter extension used by the Loggable behavior.
type LoggableAdapter interface {
	Adapter
	// DefaultLogEntryModel returns the model log entries are stored as.
	DefaultLogEntryModel() any
	// IsPostInsertGenerator reports whether identifiers of the model are
	// only known once the row has been inserted.
	IsPostInsertGenerator(sch *schema.Schema) bool
	// NewVersion returns the next log version of obj.
	NewVersion(sch *schema.Schema, obj reflect.Value) (int, error)
}

// ORM is the Adapter over a running GORM callback.
type ORM struct {
	tx *gorm.DB
}

// NewORM wraps the *gorm.DB handed to a callback.
func NewORM(tx *gorm.DB) *ORM {
	return &ORM{tx: tx}
}

// Skip reports whether a callback should leave the statement alone: it
// failed already, it has no model, or it was issued by a listener.
func Skip(tx *gorm.DB) bool {
	if tx.Error != nil || tx.Statement.Schema == nil {
		return true
	}
	v, ok := tx.Get(InternalKey)
	return ok && v == true
}

// Internal opens a session for listener queries on db.
func Internal(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true, SkipHooks: true}).Set(InternalKey, true)
}

func (a *ORM) DB() *gorm.DB                  { return a.tx }
func (a *ORM) Statement() *gorm.Statement    { return a.tx.Statement }
func (a *ORM) Context() context.Context      { return a.tx.Statement.Context }
func (a *ORM) Schema() *schema.Schema        { return a.tx.Statement.Schema }
func (a *ORM) ObjectManager() *gorm.DB       { return Internal(a.tx) }
func (a *ORM) InstanceGet(key string) any    { v, _ := a.tx.InstanceGet(key); return v }
func (a *ORM) InstanceSet(key string, v any) { a.tx.InstanceSet(key, v) }

func (a *ORM) Each(fn func(obj reflect.Value) error) error {
	stmt := a.tx.Statement
	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		defer func() { stmt.CurDestIndex = 0 }()
		for i := 0; i < rv.Len(); i++ {
			obj := reflect.Indirect(rv.Index(i))
			if obj.Kind() != reflect.Struct {
				continue
			}
			stmt.CurDestIndex = i
			if err := fn(obj); err != nil {
				return err
			}
		}
	case reflect.Struct:
		return fn(rv)
	}
	return nil
}

// FieldValue returns the value an update is about to write when the
// statement carries a map, and the object's value otherwise.
func (a *ORM) FieldValue(obj reflect.Value, f *schema.Field) any {
	if m, ok := a.tx.Statement.Dest.(map[string]any); ok {
		if v, ok := m[f.DBName]; ok {
			return v
		}
		if v, ok := m[f.Name]; ok {
			return v
		}
	}
	v, _ := f.ValueOf(a.Context(), obj)
	return v
}

func (a *ORM) SetFieldValue(obj reflect.Value, f *schema.Field, v any) error {
	stmt := a.tx.Statement
	if m, ok := stmt.Dest.(map[string]any); ok {
		delete(m, f.Name)
		m[f.DBName] = v
		return f.Set(stmt.Context, obj, v)
	}
	if stmt.ReflectValue.Kind() == reflect.Struct && stmt.ReflectValue.CanAddr() &&
		obj.CanAddr() && obj.Addr().Pointer() != stmt.ReflectValue.Addr().Pointer() {
		return f.Set(stmt.Context, obj, v)
	}
	stmt.SetColumn(f.Name, v)
	return a.tx.Error
}

// Updating reports whether the running update writes f. Struct updates
// without Select skip zero values, as GORM does.
func (a *ORM) Updating(obj reflect.Value, f *schema.Field) bool {
	stmt := a.tx.Statement
	if m, ok := stmt.Dest.(map[string]any); ok {
		_, byColumn := m[f.DBName]
		_, byName := m[f.Name]
		return byColumn || byName
	}
	selected, restricted := stmt.SelectAndOmitColumns(false, true)
	if v, ok := selected[f.DBName]; ok {
		return v
	}
	if restricted {
		return false
	}
	_, zero := f.ValueOf(a.Context(), obj)
	return !zero
}

func (a *ORM) Identifier(obj reflect.Value) (string, bool) {
	return Identifier(a.Context(), a.Schema(), obj)
}

// Identifier renders the primary key of obj, composite keys joined by "-".
func Identifier(ctx context.Context, sch *schema.Schema, obj reflect.Value) (string, bool) {
	if len(sch.PrimaryFields) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(sch.PrimaryFields))
	for _, pf := range sch.PrimaryFields {
		v, zero := pf.ValueOf(ctx, obj)
		if zero {
			return "", false
		}
		parts = append(parts, fmt.Sprint(Deref(v)))
	}
	return strings.Join(parts, "-"), true
}

// PrimaryKey builds the WHERE clause matching obj by its primary key.
func PrimaryKey(ctx context.Context, sch *schema.Schema, obj reflect.Value) (clause.Expression, bool) {
	exprs := make([]clause.Expression, 0, len(sch.PrimaryFields))
	for _, pf := range sch.PrimaryFields {
		v, zero := pf.ValueOf(ctx, obj)
		if zero {
			return nil, false
		}
		exprs = append(exprs, clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: pf.DBName}, Value: v})
	}
	if len(exprs) == 0 {
		return nil, false
	}
	return clause.And(exprs...), true
}

func (a *ORM) Original(obj reflect.Value) (reflect.Value, error) {
	sch := a.Schema()
	where, ok := PrimaryKey(a.Context(), sch, obj)
	if !ok {
		return reflect.Value{}, gorm.ErrPrimaryKeyRequired
	}
	out := reflect.New(sch.ModelType)
	err := a.ObjectManager().Unscoped().Table(sch.Table).Clauses(clause.Where{Exprs: []clause.Expression{where}}).Take(out.Interface()).Error
	if err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// IsPostInsertGenerator reports whether the database assigns the identifier
// of sch on insert.
func IsPostInsertGenerator(sch *schema.Schema) bool {
	pf := sch.PrioritizedPrimaryField
	if pf == nil {
		return false
	}
	return pf.AutoIncrement || (pf.HasDefaultValue && pf.DefaultValueInterface == nil)
}

// Deref dereferences pointers, returning nil for nil pointers.
func Deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// Equal compares two field values after dereferencing pointers.
func Equal(a, b any) bool {
	a, b = Deref(a), Deref(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
