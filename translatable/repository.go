package translatable

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// Repository reads and writes translations outside of the listener flow.
type Repository struct {
	db       *gorm.DB
	listener *Listener
}

// NewRepository returns a repository using the settings of l.
func NewRepository(db *gorm.DB, l *Listener) *Repository {
	return &Repository{db: db, listener: l}
}

type target struct {
	sch  *schema.Schema
	meta *mapping.Metadata
	obj  reflect.Value
	id   string
}

func (r *Repository) target(ctx context.Context, obj any) (*target, error) {
	stmt := &gorm.Statement{DB: r.db}
	if err := stmt.Parse(obj); err != nil {
		return nil, err
	}
	meta, err := mapping.For(stmt.Schema)
	if err != nil {
		return nil, err
	}
	if meta.Translatable == nil {
		return nil, fmt.Errorf("translatable: %s is not translatable", stmt.Schema.Name)
	}
	rv := reflect.Indirect(reflect.ValueOf(obj))
	id, _ := event.Identifier(ctx, stmt.Schema, rv)
	return &target{sch: stmt.Schema, meta: meta, obj: rv, id: id}, nil
}

// Translate sets field of obj to value in locale. Values in the default
// locale are set on obj itself and saved with it; others are stored at once.
func (r *Repository) Translate(ctx context.Context, obj any, field, locale, value string) error {
	t, err := r.target(ctx, obj)
	if err != nil {
		return err
	}
	f := t.meta.Translatable.Field(field)
	if f == nil {
		return fmt.Errorf("translatable: %s.%s is not translatable", t.sch.Name, field)
	}
	if locale == r.listener.defaultLocale {
		if err := f.Field.Set(ctx, t.obj, value); err != nil {
			return err
		}
		if !r.listener.persistDefault {
			return nil
		}
	}
	if t.id == "" {
		return fmt.Errorf("translatable: %s must be saved before it is translated", t.sch.Name)
	}
	row := Translation{
		Locale:      locale,
		ObjectClass: t.meta.Class,
		Field:       f.Field.Name,
		ForeignKey:  t.id,
		Content:     &value,
	}
	err = event.Internal(r.db.WithContext(ctx)).Table(r.listener.tableFor(t.meta.Translatable)).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "locale"}, {Name: "object_class"}, {Name: "field"}, {Name: "foreign_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"content"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("translatable: translate %s#%s: %w", t.meta.Class, t.id, err)
	}
	r.listener.invalidate(ctx, t.meta.Class, t.id, locale)
	return nil
}

// Translations returns every stored translation of obj by locale then field.
func (r *Repository) Translations(ctx context.Context, obj any) (map[string]map[string]string, error) {
	t, err := r.target(ctx, obj)
	if err != nil {
		return nil, err
	}
	if t.id == "" {
		return map[string]map[string]string{}, nil
	}
	return r.ByID(ctx, t.meta, t.id)
}

// ByID returns the translations of the object identified by class and id.
func (r *Repository) ByID(ctx context.Context, meta *mapping.Metadata, id string) (map[string]map[string]string, error) {
	table := r.listener.table
	if meta.Translatable != nil {
		table = r.listener.tableFor(meta.Translatable)
	}
	return r.ByClass(ctx, table, meta.Class, id)
}

// ByClass returns the translations stored in table for class and id.
func (r *Repository) ByClass(ctx context.Context, table, class, id string) (map[string]map[string]string, error) {
	var rows []Translation
	err := event.Internal(r.db.WithContext(ctx)).Table(table).
		Where("object_class = ? AND foreign_key = ?", class, id).
		Order("locale").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]string{}
	for _, row := range rows {
		if out[row.Locale] == nil {
			out[row.Locale] = map[string]string{}
		}
		if row.Content != nil {
			out[row.Locale][row.Field] = *row.Content
		}
	}
	return out, nil
}

// FindByTranslatedField loads the T whose field has value in locale. The
// object comes back translated into locale.
func FindByTranslatedField[T any](ctx context.Context, r *Repository, field, value, locale string) (*T, error) {
	var model T
	t, err := r.target(ctx, &model)
	if err != nil {
		return nil, err
	}
	f := t.meta.Translatable.Field(field)
	if f == nil {
		return nil, fmt.Errorf("translatable: %s.%s is not translatable", t.sch.Name, field)
	}
	pk := t.sch.PrioritizedPrimaryField
	if pk == nil {
		return nil, gorm.ErrPrimaryKeyRequired
	}

	ctx = WithLocale(ctx, locale)
	if locale == r.listener.defaultLocale && !r.listener.persistDefault {
		err := r.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: f.Field.DBName}, Value: value}).Take(&model).Error
		if err != nil {
			return nil, err
		}
		return &model, nil
	}

	var ids []string
	err = event.Internal(r.db.WithContext(ctx)).Table(r.listener.tableFor(t.meta.Translatable)).
		Where("object_class = ? AND field = ? AND locale = ? AND content = ?", t.meta.Class, f.Field.Name, locale, value).
		Limit(1).Pluck("foreign_key", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	err = r.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: pk.DBName}, Value: ids[0]}).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("translatable: load %s#%s: %w", t.meta.Class, ids[0], err)
	}
	return &model, nil
}
