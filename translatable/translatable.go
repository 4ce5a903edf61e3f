// Package translatable stores per-locale values of string fields in a
// translation table and applies them when objects are loaded.
package translatable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shaurya/behave/cache"
	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/framework/i18n"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

const (
	behavior   = "translatable"
	pendingKey = "behave:translatable:pending"
)

// Listener is the translatable GORM plugin.
type Listener struct {
	log            *zap.Logger
	defaultLocale  string
	fallback       bool
	persistDefault bool
	skipOnLoad     bool
	table          string
	cache          cache.Cache
	ttl            time.Duration

	mu     sync.RWMutex
	locale string
}

type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithDefaultLocale sets the locale of the values stored in the model table.
func WithDefaultLocale(locale string) Option {
	return func(l *Listener) { l.defaultLocale = locale }
}

// WithFallback keeps the default locale value of fields lacking a
// translation. Fields may override it with the fallback option.
func WithFallback(fallback bool) Option {
	return func(l *Listener) { l.fallback = fallback }
}

// WithPersistDefaultLocale also writes default locale values as translations.
func WithPersistDefaultLocale(persist bool) Option {
	return func(l *Listener) { l.persistDefault = persist }
}

// WithSkipOnLoad disables applying translations when objects are loaded.
func WithSkipOnLoad(skip bool) Option {
	return func(l *Listener) { l.skipOnLoad = skip }
}

// WithTable changes the default translation table.
func WithTable(table string) Option {
	return func(l *Listener) { l.table = table }
}

// WithCache caches loaded translations per object and locale.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(l *Listener) {
		l.cache = c
		l.ttl = ttl
	}
}

// New creates a translatable listener. Register it with db.Use.
func New(opts ...Option) *Listener {
	l := &Listener{log: zap.NewNop(), defaultLocale: "en", table: DefaultTable}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) Name() string { return "behave:" + behavior }

func (l *Listener) Initialize(db *gorm.DB) error {
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
	if err := cb.Query().After("gorm:query").
		Register(orm.CallbackName(behavior, "after_query"), l.afterQuery); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").
		Register(orm.CallbackName(behavior, "after_delete"), l.afterDelete)
}

// DefaultLocale is the locale of the values kept in model tables.
func (l *Listener) DefaultLocale() string { return l.defaultLocale }

// SetLocale sets the listener wide locale, overriding the i18n locale.
func (l *Listener) SetLocale(locale string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locale = locale
}

// Locale resolves the locale used for obj: the object's locale field, then
// the context, then the listener locale, then the i18n locale.
func (l *Listener) Locale(ctx context.Context, tc *mapping.TranslatableConfig, obj reflect.Value) string {
	if tc != nil && tc.LocaleIndex != nil && obj.IsValid() {
		if f, err := obj.FieldByIndexErr(tc.LocaleIndex); err == nil {
			if s, ok := event.Deref(f.Interface()).(string); ok && s != "" {
				return s
			}
		}
	}
	if locale, ok := LocaleFromContext(ctx); ok {
		return locale
	}
	l.mu.RLock()
	locale := l.locale
	l.mu.RUnlock()
	if locale != "" {
		return locale
	}
	if locale = i18n.GetLocale(); locale != "" {
		return locale
	}
	return l.defaultLocale
}

// translates reports whether writes in locale go to the translation table.
func (l *Listener) translates(locale string) bool {
	return locale != l.defaultLocale || l.persistDefault
}

func (l *Listener) tableFor(tc *mapping.TranslatableConfig) string {
	if tc.Table != "" {
		return tc.Table
	}
	return l.table
}

func (l *Listener) usesFallback(f *mapping.TranslatableFieldConfig) bool {
	if f.Fallback != nil {
		return *f.Fallback
	}
	return l.fallback
}

func (l *Listener) metadata(tx *gorm.DB) *mapping.Metadata {
	meta, err := mapping.For(tx.Statement.Schema)
	if err != nil {
		event.RecordError(behavior)
		tx.AddError(err)
		return nil
	}
	if meta.Translatable == nil {
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
	ea := event.NewORM(tx)
	err := ea.Each(func(obj reflect.Value) error {
		locale := l.Locale(ea.Context(), meta.Translatable, obj)
		if !l.translates(locale) {
			return nil
		}
		values := map[string]*string{}
		for _, f := range meta.Translatable.Fields {
			values[f.Field.Name] = contentOf(ea.FieldValue(obj, f.Field))
		}
		return l.store(ea, meta, obj, locale, values)
	})
	if err != nil {
		l.fail(tx, err)
	}
}

type pending struct {
	obj    reflect.Value
	locale string
	values map[string]*string
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
	var queue []pending
	err := ea.Each(func(obj reflect.Value) error {
		locale := l.Locale(ea.Context(), meta.Translatable, obj)
		if !l.translates(locale) {
			return nil
		}
		original, err := ea.Original(obj)
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrPrimaryKeyRequired) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("translatable: load %s: %w", meta.Class, err)
		}
		p := pending{obj: obj, locale: locale, values: map[string]*string{}}
		for _, f := range meta.Translatable.Fields {
			if !ea.Updating(obj, f.Field) {
				continue
			}
			stored, _ := f.Field.ValueOf(ea.Context(), original)
			current := ea.FieldValue(obj, f.Field)
			if event.Equal(stored, current) {
				continue
			}
			p.values[f.Field.Name] = contentOf(current)
			if locale != l.defaultLocale {
				// the model row keeps its default locale value
				if err := ea.SetFieldValue(obj, f.Field, event.Deref(stored)); err != nil {
					return err
				}
			}
		}
		if len(p.values) > 0 {
			queue = append(queue, p)
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
	ea := event.NewORM(tx)
	for _, p := range queue {
		if err := l.store(ea, meta, p.obj, p.locale, p.values); err != nil {
			l.fail(tx, err)
			return
		}
		if p.locale == l.defaultLocale {
			continue
		}
		for name, content := range p.values {
			f := meta.Translatable.Field(name)
			var value any
			if content != nil {
				value = *content
			}
			if err := f.Field.Set(ea.Context(), p.obj, value); err != nil {
				l.fail(tx, err)
				return
			}
		}
	}
}

// store upserts the translations of obj in locale.
func (l *Listener) store(ea *event.ORM, meta *mapping.Metadata, obj reflect.Value, locale string, values map[string]*string) error {
	id, ok := ea.Identifier(obj)
	if !ok {
		return fmt.Errorf("translatable: %s has no identifier to translate", meta.Class)
	}
	if len(values) == 0 {
		return nil
	}
	rows := make([]Translation, 0, len(values))
	for _, f := range meta.Translatable.Fields {
		content, ok := values[f.Field.Name]
		if !ok {
			continue
		}
		rows = append(rows, Translation{
			Locale:      locale,
			ObjectClass: meta.Class,
			Field:       f.Field.Name,
			ForeignKey:  id,
			Content:     content,
		})
	}
	err := ea.ObjectManager().Table(l.tableFor(meta.Translatable)).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "locale"}, {Name: "object_class"}, {Name: "field"}, {Name: "foreign_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"content"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("translatable: store %s#%s (%s): %w", meta.Class, id, locale, err)
	}
	l.invalidate(ea.Context(), meta.Class, id, locale)
	event.RecordEvent(behavior, "store")
	l.log.Debug("translations stored",
		zap.String("class", meta.Class),
		zap.String("id", id),
		zap.String("locale", locale),
		zap.Int("fields", len(rows)))
	return nil
}

func (l *Listener) afterQuery(tx *gorm.DB) {
	if l.skipOnLoad || event.Skip(tx) || tx.Statement.ReflectValue.Kind() == reflect.Invalid {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	ea := event.NewORM(tx)

	type loaded struct {
		obj    reflect.Value
		id     string
		locale string
	}
	var objs []loaded
	byLocale := map[string][]string{}
	_ = ea.Each(func(obj reflect.Value) error {
		locale := l.Locale(ea.Context(), meta.Translatable, obj)
		if !l.translates(locale) {
			return nil
		}
		id, ok := ea.Identifier(obj)
		if !ok {
			return nil
		}
		objs = append(objs, loaded{obj: obj, id: id, locale: locale})
		byLocale[locale] = append(byLocale[locale], id)
		return nil
	})
	if len(objs) == 0 {
		return
	}

	found := map[string]map[string]map[string]*string{} // locale -> id -> field
	for locale, ids := range byLocale {
		m, err := l.load(ea, meta, locale, ids)
		if err != nil {
			l.fail(tx, err)
			return
		}
		found[locale] = m
	}

	for _, o := range objs {
		translations := found[o.locale][o.id]
		for _, f := range meta.Translatable.Fields {
			content, ok := translations[f.Field.Name]
			var value any
			switch {
			case ok && content != nil:
				value = *content
			case ok:
			case l.usesFallback(f):
				continue
			}
			if err := f.Field.Set(ea.Context(), o.obj, value); err != nil {
				l.fail(tx, err)
				return
			}
		}
		if !o.obj.CanAddr() {
			continue
		}
		if hook, ok := o.obj.Addr().Interface().(orm.PostTranslateHook); ok {
			if err := hook.PostTranslate(tx, o.locale); err != nil {
				l.fail(tx, err)
				return
			}
		}
		event.RecordEvent(behavior, "translate")
	}
}

// load returns translations of the given objects in locale, by id then field.
func (l *Listener) load(ea *event.ORM, meta *mapping.Metadata, locale string, ids []string) (map[string]map[string]*string, error) {
	ctx := ea.Context()
	out := make(map[string]map[string]*string, len(ids))
	missing := ids
	if l.cache != nil {
		missing = nil
		for _, id := range ids {
			raw, err := l.cache.Get(ctx, cacheKey(meta.Class, id, locale))
			if err != nil {
				event.RecordCacheMiss()
				missing = append(missing, id)
				continue
			}
			var fields map[string]*string
			if err := json.Unmarshal([]byte(raw), &fields); err != nil {
				missing = append(missing, id)
				continue
			}
			event.RecordCacheHit()
			out[id] = fields
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	var rows []Translation
	err := ea.ObjectManager().Table(l.tableFor(meta.Translatable)).
		Where("object_class = ? AND locale = ? AND foreign_key IN ?", meta.Class, locale, missing).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("translatable: load %s (%s): %w", meta.Class, locale, err)
	}
	for _, id := range missing {
		out[id] = map[string]*string{}
	}
	for _, row := range rows {
		out[row.ForeignKey][row.Field] = row.Content
	}
	if l.cache != nil {
		for _, id := range missing {
			raw, err := json.Marshal(out[id])
			if err != nil {
				continue
			}
			if err := l.cache.Set(ctx, cacheKey(meta.Class, id, locale), raw, l.ttl); err != nil {
				l.log.Warn("translation cache write failed", zap.Error(err))
			}
		}
	}
	return out, nil
}

func (l *Listener) afterDelete(tx *gorm.DB) {
	if event.Skip(tx) || event.IsSoftDelete(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	ea := event.NewORM(tx)
	err := ea.Each(func(obj reflect.Value) error {
		id, ok := ea.Identifier(obj)
		if !ok {
			return nil
		}
		var locales []string
		q := ea.ObjectManager().Table(l.tableFor(meta.Translatable)).
			Where("object_class = ? AND foreign_key = ?", meta.Class, id)
		if err := q.Distinct().Pluck("locale", &locales).Error; err != nil {
			return fmt.Errorf("translatable: list translations of %s#%s: %w", meta.Class, id, err)
		}
		err := ea.ObjectManager().Table(l.tableFor(meta.Translatable)).
			Where("object_class = ? AND foreign_key = ?", meta.Class, id).
			Delete(&Translation{}).Error
		if err != nil {
			return fmt.Errorf("translatable: remove translations of %s#%s: %w", meta.Class, id, err)
		}
		l.invalidate(ea.Context(), meta.Class, id, locales...)
		event.RecordEvent(behavior, "remove")
		return nil
	})
	if err != nil {
		l.fail(tx, err)
	}
}

func (l *Listener) invalidate(ctx context.Context, class, id string, locales ...string) {
	if l.cache == nil || len(locales) == 0 {
		return
	}
	keys := make([]string, len(locales))
	for i, locale := range locales {
		keys[i] = cacheKey(class, id, locale)
	}
	if err := l.cache.Delete(ctx, keys...); err != nil {
		l.log.Warn("translation cache invalidation failed", zap.String("class", class), zap.String("id", id), zap.Error(err))
	}
}

func cacheKey(class, id, locale string) string {
	return "translations:" + class + ":" + id + ":" + locale
}

func contentOf(v any) *string {
	switch t := event.Deref(v).(type) {
	case nil:
		return nil
	case string:
		return &t
	default:
		s := fmt.Sprint(t)
		return &s
	}
}
