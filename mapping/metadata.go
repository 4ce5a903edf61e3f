package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"gorm.io/gorm/schema"
)

// ErrInvalidMapping is wrapped by every metadata validation error.
var ErrInvalidMapping = errors.New("invalid behavior mapping")

// Metadata is the behavior configuration of one model.
type Metadata struct {
	Schema *schema.Schema
	// Class is the object class recorded in log entries and translations.
	Class string

	Translatable   *TranslatableConfig
	Loggable       *LoggableConfig
	Slugs          []*SlugConfig
	Timestamps     []*TimestampConfig
	SoftDeleteable *SoftDeleteConfig
	Tree           *TreeConfig
}

type TranslatableConfig struct {
	TranslatableClass
	Fields []*TranslatableFieldConfig
	// LocaleIndex locates the locale field, which usually is not persisted.
	LocaleIndex []int
}

type TranslatableFieldConfig struct {
	TranslatableField
	Field *schema.Field
}

// Field returns the config of the named translatable field.
func (c *TranslatableConfig) Field(name string) *TranslatableFieldConfig {
	for _, f := range c.Fields {
		if f.Field.Name == name || f.Field.DBName == name {
			return f
		}
	}
	return nil
}

type LoggableConfig struct {
	LoggableClass
	Versioned []*schema.Field
}

// IsVersioned reports whether the named field is versioned.
func (c *LoggableConfig) IsVersioned(name string) bool {
	for _, f := range c.Versioned {
		if f.Name == name || f.DBName == name {
			return true
		}
	}
	return false
}

type SlugConfig struct {
	Slug
	Field      *schema.Field
	Sources    []*schema.Field
	UniqueBase *schema.Field
}

type TimestampConfig struct {
	Timestampable
	Field *schema.Field
	Watch *schema.Field
}

type SoftDeleteConfig struct {
	SoftDeleteableClass
	Field *schema.Field
}

type TreeConfig struct {
	TreeClass
	Left, Right, Level, Root, Parent *schema.Field
	Path, PathSource                 *schema.Field
	PathSeparator                    string
	PathAppendID                     bool
}

var cache sync.Map // reflect.Type -> cached

type cached struct {
	meta *Metadata
	err  error
}

// For returns the behavior metadata of the model described by sch. Results
// are cached per model type.
func For(sch *schema.Schema) (*Metadata, error) {
	if sch == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrInvalidMapping)
	}
	if v, ok := cache.Load(sch.ModelType); ok {
		c := v.(cached)
		return c.meta, c.err
	}
	meta, err := read(sch)
	v, _ := cache.LoadOrStore(sch.ModelType, cached{meta: meta, err: err})
	c := v.(cached)
	return c.meta, c.err
}

var (
	markerLoggable       = reflect.TypeOf(Loggable{})
	markerSoftDeleteable = reflect.TypeOf(SoftDeleteable{})
	markerTree           = reflect.TypeOf(Tree{})
	markerTranslatable   = reflect.TypeOf(Translatable{})
	timeType             = reflect.TypeOf(time.Time{})
)

type reader struct {
	sch  *schema.Schema
	meta *Metadata

	pendingSlugs      []pendingSlug
	pendingTimestamps []pendingTimestamp
	softDeleteField   string
	pathAppendID      *bool
}

type pendingSlug struct {
	field *schema.Field
	d     directive
}

type pendingTimestamp struct {
	field *schema.Field
	d     directive
}

func read(sch *schema.Schema) (*Metadata, error) {
	r := &reader{sch: sch, meta: &Metadata{Schema: sch, Class: sch.Name}}
	if err := r.walk(sch.ModelType, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", sch.Name, err)
	}
	if err := r.resolve(); err != nil {
		return nil, fmt.Errorf("%s: %w", sch.Name, err)
	}
	return r.meta, nil
}

func (r *reader) walk(t reflect.Type, index []int) error {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		idx := append(append([]int{}, index...), i)
		tag, hasTag := sf.Tag.Lookup(TagName)

		if sf.Anonymous && isMarker(sf.Type) {
			if err := r.class(sf.Type, tag); err != nil {
				return err
			}
			continue
		}
		if sf.Anonymous && !hasTag {
			ft := sf.Type
			for ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := r.walk(ft, idx); err != nil {
					return err
				}
			}
			continue
		}
		if !hasTag || !sf.IsExported() {
			continue
		}
		if err := r.field(sf, idx, tag); err != nil {
			return err
		}
	}
	return nil
}

func isMarker(t reflect.Type) bool {
	switch t {
	case markerLoggable, markerSoftDeleteable, markerTree, markerTranslatable:
		return true
	}
	return false
}

func (r *reader) class(marker reflect.Type, tag string) error {
	ds, err := parseTag(tag)
	if err != nil {
		return err
	}
	d := directive{opts: map[string]string{}}
	if len(ds) > 0 {
		d = ds[0]
	}
	switch marker {
	case markerLoggable:
		lc := r.loggable()
		lc.Class = d.str("class", "")
		if lc.Class != "" {
			r.meta.Class = lc.Class
		}
	case markerTranslatable:
		r.translatable().Table = d.str("table", "")
	case markerSoftDeleteable:
		timeAware, err := d.boolean("timeAware", false)
		if err != nil {
			return err
		}
		hardDelete, err := d.boolean("hardDelete", true)
		if err != nil {
			return err
		}
		r.softDeleteField = d.str("field", "DeletedAt")
		r.meta.SoftDeleteable = &SoftDeleteConfig{SoftDeleteableClass: SoftDeleteableClass{
			Field:      r.softDeleteField,
			TimeAware:  timeAware,
			HardDelete: hardDelete,
		}}
	case markerTree:
		tc := r.tree()
		tc.Type = d.str("type", TreeNested)
		switch tc.Type {
		case TreeNested, TreeMaterializedPath, TreeClosure:
		default:
			return fmt.Errorf("%w: unknown tree type %q", ErrInvalidMapping, tc.Type)
		}
		tc.Closure = d.str("closure", r.sch.Table+"_closure")
	}
	return nil
}

func (r *reader) loggable() *LoggableConfig {
	if r.meta.Loggable == nil {
		r.meta.Loggable = &LoggableConfig{}
	}
	return r.meta.Loggable
}

func (r *reader) translatable() *TranslatableConfig {
	if r.meta.Translatable == nil {
		r.meta.Translatable = &TranslatableConfig{}
	}
	return r.meta.Translatable
}

func (r *reader) tree() *TreeConfig {
	if r.meta.Tree == nil {
		r.meta.Tree = &TreeConfig{PathSeparator: ","}
	}
	return r.meta.Tree
}

func (r *reader) lookup(name string) (*schema.Field, error) {
	f := r.sch.LookUpField(name)
	if f == nil {
		return nil, fmt.Errorf("%w: field %q is not mapped by gorm", ErrInvalidMapping, name)
	}
	return f, nil
}

func (r *reader) field(sf reflect.StructField, index []int, tag string) error {
	ds, err := parseTag(tag)
	if err != nil {
		return err
	}
	for _, d := range ds {
		if d.name == "locale" {
			if indirect(sf.Type).Kind() != reflect.String {
				return fmt.Errorf("%w: locale field %s must be a string", ErrInvalidMapping, sf.Name)
			}
			r.translatable().LocaleIndex = index
			continue
		}

		f, err := r.lookup(sf.Name)
		if err != nil {
			return err
		}
		switch d.name {
		case "translatable":
			if indirect(f.FieldType).Kind() != reflect.String {
				return fmt.Errorf("%w: translatable field %s must be a string", ErrInvalidMapping, f.Name)
			}
			tf := &TranslatableFieldConfig{Field: f}
			if d.has("fallback") {
				fb, err := d.boolean("fallback", false)
				if err != nil {
					return err
				}
				tf.Fallback = &fb
			}
			tc := r.translatable()
			tc.Fields = append(tc.Fields, tf)
		case "versioned":
			lc := r.loggable()
			lc.Versioned = append(lc.Versioned, f)
		case "slug":
			r.pendingSlugs = append(r.pendingSlugs, pendingSlug{field: f, d: d})
		case "timestampable":
			r.pendingTimestamps = append(r.pendingTimestamps, pendingTimestamp{field: f, d: d})
		case "tree_left":
			r.tree().Left = f
		case "tree_right":
			r.tree().Right = f
		case "tree_level":
			r.tree().Level = f
		case "tree_root":
			r.tree().Root = f
		case "tree_parent":
			r.tree().Parent = f
		case "tree_path":
			tc := r.tree()
			tc.Path = f
			tc.PathSeparator = d.str("separator", tc.PathSeparator)
			if d.has("appendId") {
				appendID, err := d.boolean("appendId", true)
				if err != nil {
					return err
				}
				r.pathAppendID = &appendID
			}
		case "tree_path_source":
			r.tree().PathSource = f
		default:
			return fmt.Errorf("%w: unknown directive %q on %s", ErrInvalidMapping, d.name, sf.Name)
		}
	}
	return nil
}

// resolve runs once every field is known, since slugs and timestamps may
// reference fields declared after them.
func (r *reader) resolve() error {
	for _, p := range r.pendingSlugs {
		sc, err := r.slug(p.field, p.d)
		if err != nil {
			return err
		}
		r.meta.Slugs = append(r.meta.Slugs, sc)
	}
	for _, p := range r.pendingTimestamps {
		tc, err := r.timestamp(p.field, p.d)
		if err != nil {
			return err
		}
		r.meta.Timestamps = append(r.meta.Timestamps, tc)
	}
	if sd := r.meta.SoftDeleteable; sd != nil {
		f, err := r.lookup(sd.SoftDeleteableClass.Field)
		if err != nil {
			return err
		}
		if f.FieldType.Kind() != reflect.Ptr || indirect(f.FieldType) != timeType {
			return fmt.Errorf("%w: soft delete field %s must be *time.Time", ErrInvalidMapping, f.Name)
		}
		sd.Field = f
	}
	if tc := r.meta.Translatable; tc != nil && len(tc.Fields) == 0 {
		return fmt.Errorf("%w: translatable model without translatable fields", ErrInvalidMapping)
	}
	if lc := r.meta.Loggable; lc != nil && !r.hasMarker(markerLoggable) {
		// versioned fields without the class annotation are ignored
		r.meta.Loggable = nil
	}
	if tc := r.meta.Tree; tc != nil {
		if err := r.validateTree(tc); err != nil {
			return err
		}
	}
	return nil
}

func (r *reader) hasMarker(marker reflect.Type) bool {
	var found bool
	var walk func(t reflect.Type)
	walk = func(t reflect.Type) {
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		for i := 0; i < t.NumField() && !found; i++ {
			sf := t.Field(i)
			if !sf.Anonymous {
				continue
			}
			if sf.Type == marker {
				found = true
				return
			}
			if ft := indirect(sf.Type); ft.Kind() == reflect.Struct && ft != timeType {
				walk(ft)
			}
		}
	}
	walk(r.sch.ModelType)
	return found
}

func (r *reader) slug(f *schema.Field, d directive) (*SlugConfig, error) {
	if indirect(f.FieldType).Kind() != reflect.String {
		return nil, fmt.Errorf("%w: slug field %s must be a string", ErrInvalidMapping, f.Name)
	}
	unique, err := d.boolean("unique", true)
	if err != nil {
		return nil, err
	}
	updatable, err := d.boolean("updatable", true)
	if err != nil {
		return nil, err
	}
	sc := &SlugConfig{
		Slug: Slug{
			Fields:     d.list("fields"),
			Separator:  d.str("separator", "-"),
			Style:      d.str("style", StyleDefault),
			Unique:     unique,
			UniqueBase: d.str("uniqueBase", ""),
			Updatable:  updatable,
			Prefix:     d.str("prefix", ""),
			Suffix:     d.str("suffix", ""),
			DateFormat: d.str("dateFormat", DefaultDateFormat),
		},
		Field: f,
	}
	if _, ok := d.opts["separator"]; ok && d.opts["separator"] == "" {
		sc.Separator = ""
	}
	switch sc.Style {
	case StyleDefault, StyleLower, StyleUpper, StyleCamel:
	default:
		return nil, fmt.Errorf("%w: unknown slug style %q", ErrInvalidMapping, sc.Style)
	}
	if len(sc.Fields) == 0 {
		return nil, fmt.Errorf("%w: slug %s has no source fields", ErrInvalidMapping, f.Name)
	}
	for _, name := range sc.Fields {
		src, err := r.lookup(name)
		if err != nil {
			return nil, err
		}
		switch k := indirect(src.FieldType); {
		case k.Kind() == reflect.String, k == timeType:
		case k.Kind() >= reflect.Int && k.Kind() <= reflect.Uint64:
		default:
			return nil, fmt.Errorf("%w: slug source %s must be a string, number or time", ErrInvalidMapping, src.Name)
		}
		sc.Sources = append(sc.Sources, src)
	}
	if sc.Slug.UniqueBase != "" {
		base, err := r.lookup(sc.Slug.UniqueBase)
		if err != nil {
			return nil, err
		}
		sc.UniqueBase = base
	}
	return sc, nil
}

func (r *reader) timestamp(f *schema.Field, d directive) (*TimestampConfig, error) {
	switch t := indirect(f.FieldType); {
	case t == timeType:
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Int64:
	default:
		return nil, fmt.Errorf("%w: timestampable field %s must be a time or unix integer", ErrInvalidMapping, f.Name)
	}
	tc := &TimestampConfig{
		Timestampable: Timestampable{
			On:     d.str("on", OnUpdate),
			Field:  d.str("field", ""),
			Values: d.list("value"),
		},
		Field: f,
	}
	switch tc.On {
	case OnCreate, OnUpdate:
		if tc.Timestampable.Field != "" {
			return nil, fmt.Errorf("%w: field option requires on=change (%s)", ErrInvalidMapping, f.Name)
		}
	case OnChange:
		if tc.Timestampable.Field == "" {
			return nil, fmt.Errorf("%w: on=change requires a field option (%s)", ErrInvalidMapping, f.Name)
		}
		watch, err := r.lookup(tc.Timestampable.Field)
		if err != nil {
			return nil, err
		}
		tc.Watch = watch
	default:
		return nil, fmt.Errorf("%w: unknown timestampable trigger %q", ErrInvalidMapping, tc.On)
	}
	return tc, nil
}

func (r *reader) validateTree(tc *TreeConfig) error {
	if tc.Type == "" {
		return fmt.Errorf("%w: tree fields without a tree annotation", ErrInvalidMapping)
	}
	if tc.Parent == nil {
		return fmt.Errorf("%w: tree needs a tree_parent field", ErrInvalidMapping)
	}
	switch tc.Type {
	case TreeNested:
		if tc.Left == nil || tc.Right == nil {
			return fmt.Errorf("%w: nested tree needs tree_left and tree_right fields", ErrInvalidMapping)
		}
		for _, f := range []*schema.Field{tc.Left, tc.Right, tc.Level, tc.Root} {
			if f != nil && !isInteger(f.FieldType) {
				return fmt.Errorf("%w: tree field %s must be an integer", ErrInvalidMapping, f.Name)
			}
		}
	case TreeMaterializedPath:
		if tc.Path == nil || tc.PathSource == nil {
			return fmt.Errorf("%w: materialized path tree needs tree_path and tree_path_source fields", ErrInvalidMapping)
		}
		if indirect(tc.Path.FieldType).Kind() != reflect.String {
			return fmt.Errorf("%w: tree path %s must be a string", ErrInvalidMapping, tc.Path.Name)
		}
		if tc.PathSeparator == "" {
			return fmt.Errorf("%w: tree path separator is empty", ErrInvalidMapping)
		}
		tc.PathAppendID = !tc.PathSource.PrimaryKey
		if r.pathAppendID != nil {
			tc.PathAppendID = *r.pathAppendID
		}
	case TreeClosure:
		if len(r.sch.PrimaryFields) == 1 && !isInteger(r.sch.PrimaryFields[0].FieldType) {
			return fmt.Errorf("%w: closure tree models need an integer primary key", ErrInvalidMapping)
		}
	}
	if tc.Level != nil && !isInteger(tc.Level.FieldType) {
		return fmt.Errorf("%w: tree level %s must be an integer", ErrInvalidMapping, tc.Level.Name)
	}
	if len(r.sch.PrimaryFields) != 1 {
		return fmt.Errorf("%w: tree models need a single primary key", ErrInvalidMapping)
	}
	return nil
}

func isInteger(t reflect.Type) bool {
	k := indirect(t).Kind()
	return k >= reflect.Int && k <= reflect.Uint64
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
