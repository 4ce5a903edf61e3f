// Package sluggable generates URL slugs from other fields of an object.
package sluggable

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

const behavior = "sluggable"

// DefaultLength bounds slugs whose column has no size.
const DefaultLength = 255

// ErrEmptySlug is returned when no source field yields any slug text.
var ErrEmptySlug = errors.New("sluggable: unable to build a non empty slug")

// Listener is the sluggable GORM plugin.
type Listener struct {
	log            *zap.Logger
	transliterator Transliterator
	urlizer        Urlizer
}

type Option func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Listener) { l.log = log }
}

// WithTransliterator replaces the default transliterator.
func WithTransliterator(t Transliterator) Option {
	return func(l *Listener) { l.transliterator = t }
}

// WithUrlizer replaces the default urlizer.
func WithUrlizer(u Urlizer) Option {
	return func(l *Listener) { l.urlizer = u }
}

// New creates a sluggable listener. Register it with db.Use.
func New(opts ...Option) *Listener {
	l := &Listener{log: zap.NewNop(), transliterator: Transliterate, urlizer: Urlize}
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
	if len(meta.Slugs) == 0 {
		return nil
	}
	return meta
}

func (l *Listener) beforeCreate(tx *gorm.DB) {
	l.generate(tx, false)
}

func (l *Listener) beforeUpdate(tx *gorm.DB) {
	l.generate(tx, true)
}

func (l *Listener) generate(tx *gorm.DB, update bool) {
	if event.Skip(tx) {
		return
	}
	meta := l.metadata(tx)
	if meta == nil {
		return
	}
	ea := event.NewORM(tx)
	// slugs handed out earlier in the same batch are not in the table yet
	taken := map[string]map[string]bool{}
	err := ea.Each(func(obj reflect.Value) error {
		var original reflect.Value
		if update {
			o, err := ea.Original(obj)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrPrimaryKeyRequired) {
				return fmt.Errorf("sluggable: load %s: %w", meta.Class, err)
			}
			original = o
		}
		for _, sc := range meta.Slugs {
			if taken[sc.Field.DBName] == nil {
				taken[sc.Field.DBName] = map[string]bool{}
			}
			if err := l.slug(ea, obj, original, sc, taken[sc.Field.DBName]); err != nil {
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

func (l *Listener) slug(ea *event.ORM, obj, original reflect.Value, sc *mapping.SlugConfig, taken map[string]bool) error {
	current := stringValue(ea.FieldValue(obj, sc.Field))

	var text string
	if !original.IsValid() {
		// insert, or an update of a row that cannot be loaded
		text = current
		if text == "" {
			text = l.sourceText(ea, obj, original, sc)
		}
	} else {
		stored, _ := sc.Field.ValueOf(ea.Context(), original)
		writing := ea.Updating(obj, sc.Field)
		switch {
		case writing && current != "" && current != stringValue(stored):
			text = current
		case writing && current == "":
			// a cleared slug is generated again
			text = l.sourceText(ea, obj, original, sc)
		case sc.Updatable && l.sourcesChanged(ea, obj, original, sc):
			text = l.sourceText(ea, obj, original, sc)
		default:
			return nil
		}
	}

	slug := l.urlizer(l.transliterator(text, sc.Separator), sc.Separator)
	slug = applyStyle(slug, sc.Separator, sc.Style)
	if obj.CanAddr() {
		if h, ok := obj.Addr().Interface().(orm.SlugHandler); ok {
			handled, err := h.HandleSlug(sc.Field.Name, slug)
			if err != nil {
				return err
			}
			slug = handled
		}
	}
	if slug == "" {
		return fmt.Errorf("%w: %s.%s", ErrEmptySlug, ea.Schema().Name, sc.Field.Name)
	}
	slug = sc.Prefix + slug + sc.Suffix

	size := sc.Field.Size
	if size <= 0 {
		size = DefaultLength
	}
	slug = truncate(slug, size)

	if sc.Unique {
		unique, err := l.unique(ea, obj, original, sc, slug, size, taken)
		if err != nil {
			return err
		}
		slug = unique
	}
	taken[slug] = true

	if slug == current && original.IsValid() {
		return nil
	}
	if err := ea.SetFieldValue(obj, sc.Field, slug); err != nil {
		return fmt.Errorf("sluggable: set %s: %w", sc.Field.Name, err)
	}
	event.RecordEvent(behavior, "generate")
	l.log.Debug("slug generated",
		zap.String("model", ea.Schema().Name),
		zap.String("field", sc.Field.Name),
		zap.String("slug", slug))
	return nil
}

// value reads src as the statement is about to write it: from the update
// when it sets src, from the stored row otherwise.
func value(ea *event.ORM, obj, original reflect.Value, src *schema.Field) any {
	if original.IsValid() && !ea.Updating(obj, src) {
		v, _ := src.ValueOf(ea.Context(), original)
		return v
	}
	return ea.FieldValue(obj, src)
}

// sourceText joins the source field values with spaces; the urlizer turns
// the spaces into separators.
func (l *Listener) sourceText(ea *event.ORM, obj, original reflect.Value, sc *mapping.SlugConfig) string {
	parts := make([]string, 0, len(sc.Sources))
	for _, src := range sc.Sources {
		v := event.Deref(value(ea, obj, original, src))
		switch t := v.(type) {
		case nil:
			continue
		case time.Time:
			if t.IsZero() {
				continue
			}
			parts = append(parts, t.Format(sc.DateFormat))
		default:
			if s := fmt.Sprint(t); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// sourcesChanged reports whether the update writes a new value to a source
// or to the unique base.
func (l *Listener) sourcesChanged(ea *event.ORM, obj, original reflect.Value, sc *mapping.SlugConfig) bool {
	fields := sc.Sources
	if sc.UniqueBase != nil {
		fields = append(fields[:len(fields):len(fields)], sc.UniqueBase)
	}
	for _, f := range fields {
		if !ea.Updating(obj, f) {
			continue
		}
		before, _ := f.ValueOf(ea.Context(), original)
		if !event.Equal(before, ea.FieldValue(obj, f)) {
			return true
		}
	}
	return false
}

// unique appends -1, -2... to slug until no other row of the table holds it.
func (l *Listener) unique(ea *event.ORM, obj, original reflect.Value, sc *mapping.SlugConfig, slug string, size int, taken map[string]bool) (string, error) {
	sch := ea.Schema()
	q := ea.ObjectManager().Unscoped().Table(sch.Table).
		Where(clause.Expr{SQL: "? LIKE ? ESCAPE '\\'", Vars: []any{clause.Column{Name: sc.Field.DBName}, escapeLike(slug) + "%"}})
	if sc.UniqueBase != nil {
		if base := event.Deref(value(ea, obj, original, sc.UniqueBase)); base == nil {
			q = q.Where(clause.Expr{SQL: "? IS NULL", Vars: []any{clause.Column{Name: sc.UniqueBase.DBName}}})
		} else {
			q = q.Where(clause.Eq{Column: clause.Column{Name: sc.UniqueBase.DBName}, Value: base})
		}
	}
	if pk, ok := event.PrimaryKey(ea.Context(), sch, obj); ok {
		q = q.Not(pk)
	}
	var existing []string
	if err := q.Pluck(sc.Field.DBName, &existing).Error; err != nil {
		return "", fmt.Errorf("sluggable: look up similar slugs: %w", err)
	}
	for _, s := range existing {
		taken[s] = true
	}
	if !taken[slug] {
		return slug, nil
	}
	for i := 1; ; i++ {
		suffix := sc.Separator + strconv.Itoa(i)
		candidate := truncate(slug, size-len(suffix)) + suffix
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func stringValue(v any) string {
	if s, ok := event.Deref(v).(string); ok {
		return s
	}
	return ""
}
