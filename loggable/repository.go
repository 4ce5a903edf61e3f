package loggable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// ErrUnknownVersion is returned by Revert for a version never logged.
var ErrUnknownVersion = errors.New("loggable: unknown version")

// Repository reads the history of objects.
type Repository struct {
	db    *gorm.DB
	store Store
}

// NewRepository returns a repository reading from store.
func NewRepository(db *gorm.DB, store Store) *Repository {
	return &Repository{db: db, store: store}
}

func (r *Repository) target(ctx context.Context, obj any) (*schema.Schema, *mapping.Metadata, string, error) {
	stmt := &gorm.Statement{DB: r.db}
	if err := stmt.Parse(obj); err != nil {
		return nil, nil, "", err
	}
	meta, err := mapping.For(stmt.Schema)
	if err != nil {
		return nil, nil, "", err
	}
	if meta.Loggable == nil {
		return nil, nil, "", fmt.Errorf("loggable: %s is not loggable", stmt.Schema.Name)
	}
	id, ok := event.Identifier(ctx, stmt.Schema, reflect.Indirect(reflect.ValueOf(obj)))
	if !ok {
		return nil, nil, "", fmt.Errorf("loggable: %s has no identifier", meta.Class)
	}
	return stmt.Schema, meta, id, nil
}

// Entries returns the log entries of obj, newest first.
func (r *Repository) Entries(ctx context.Context, obj any) ([]LogEntry, error) {
	_, meta, id, err := r.target(ctx, obj)
	if err != nil {
		return nil, err
	}
	return r.store.Entries(ctx, meta.Class, id)
}

// Revert sets the versioned fields of obj to their values at version. The
// object is not saved.
func (r *Repository) Revert(ctx context.Context, obj any, version int) error {
	sch, meta, id, err := r.target(ctx, obj)
	if err != nil {
		return err
	}
	entries, err := r.store.Entries(ctx, meta.Class, id)
	if err != nil {
		return err
	}
	state := map[string]any{}
	found := false
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Version > version {
			break
		}
		if e.Version == version {
			found = true
		}
		for k, v := range e.Data {
			state[k] = v
		}
	}
	if !found {
		return fmt.Errorf("%w: %s#%s version %d", ErrUnknownVersion, meta.Class, id, version)
	}
	rv := reflect.Indirect(reflect.ValueOf(obj))
	for name, v := range state {
		if !meta.Loggable.IsVersioned(name) {
			continue
		}
		f := sch.LookUpField(name)
		if f == nil {
			continue
		}
		value, err := decode(v, f.FieldType)
		if err != nil {
			return fmt.Errorf("loggable: revert %s.%s: %w", meta.Class, name, err)
		}
		if err := f.Set(ctx, rv, value); err != nil {
			return fmt.Errorf("loggable: revert %s.%s: %w", meta.Class, name, err)
		}
	}
	return nil
}

// decode converts a logged value back into t. Values read back from JSON or
// BSON lose their Go type, so they go through a JSON round trip.
func decode(v any, t reflect.Type) (any, error) {
	if v == nil {
		return reflect.Zero(t).Interface(), nil
	}
	if reflect.TypeOf(v) == t {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := reflect.New(t)
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}
