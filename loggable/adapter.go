package loggable

import (
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// Adapter is the event.LoggableAdapter over a running GORM callback.
type Adapter struct {
	*event.ORM
	store Store
}

var _ event.LoggableAdapter = (*Adapter)(nil)

// NewAdapter pairs a callback adapter with the store versions are read from.
func NewAdapter(ea *event.ORM, store Store) *Adapter {
	return &Adapter{ORM: ea, store: store}
}

func (a *Adapter) DefaultLogEntryModel() any { return &LogEntry{} }

func (a *Adapter) IsPostInsertGenerator(sch *schema.Schema) bool {
	return event.IsPostInsertGenerator(sch)
}

func (a *Adapter) NewVersion(sch *schema.Schema, obj reflect.Value) (int, error) {
	meta, err := mapping.For(sch)
	if err != nil {
		return 0, err
	}
	id, ok := event.Identifier(a.Context(), sch, obj)
	if !ok {
		return 0, fmt.Errorf("loggable: %s has no identifier yet", meta.Class)
	}
	return a.store.NextVersion(a.Context(), a.ObjectManager(), meta.Class, id)
}
