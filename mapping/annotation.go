// Package mapping holds the behavior annotations and the driver that reads
// them from `behavior:"..."` struct tags into per-model metadata.
//
// Field annotations are written on the field they configure:
//
//	Title string `behavior:"translatable;versioned"`
//	Slug  string `behavior:"slug:fields=Title|Code,separator=-"`
//
// Class annotations are written on an embedded marker type:
//
//	type Category struct {
//		mapping.Tree `gorm:"-" behavior:"tree:type=nested"`
//		...
//	}
package mapping

import "time"

// TagName is the struct tag key holding behavior annotations.
const TagName = "behavior"

// Marker types carry class level annotations. Embed them with `gorm:"-"`.
type (
	Loggable       struct{}
	SoftDeleteable struct{}
	Tree           struct{}
	Translatable   struct{}
)

// TranslatableField marks a field whose value is stored per locale.
type TranslatableField struct {
	// Fallback overrides the listener wide fallback when non-nil.
	Fallback *bool
}

// Locale marks the (non persisted) field holding the object's locale.
type Locale struct{}

// TranslatableClass configures translations for the whole model.
type TranslatableClass struct {
	// Table overrides the translation table used for the model.
	Table string
}

// Slug styles.
const (
	StyleDefault = "default"
	StyleLower   = "lower"
	StyleUpper   = "upper"
	StyleCamel   = "camel"
)

// Slug configures slug generation into the annotated field.
type Slug struct {
	Fields     []string
	Separator  string
	Style      string
	Unique     bool
	UniqueBase string
	Updatable  bool
	Prefix     string
	Suffix     string
	DateFormat string
}

// Timestampable triggers.
const (
	OnCreate = "create"
	OnUpdate = "update"
	OnChange = "change"
)

// Timestampable sets the annotated field to the current time.
type Timestampable struct {
	On     string
	Field  string
	Values []string
}

// Versioned marks a field tracked by the Loggable behavior.
type Versioned struct{}

// LoggableClass enables change logging for the model.
type LoggableClass struct {
	// Class overrides the object class recorded in log entries.
	Class string
}

// SoftDeleteableClass enables soft deletion for the model.
type SoftDeleteableClass struct {
	Field      string
	TimeAware  bool
	HardDelete bool
}

// Tree strategies.
const (
	TreeNested           = "nested"
	TreeMaterializedPath = "materializedPath"
	TreeClosure          = "closure"
)

// TreeClass enables a tree strategy for the model.
type TreeClass struct {
	Type string
	// Closure is the closure table name, closure strategy only.
	Closure string
}

// Tree field roles.
type (
	TreeLeft       struct{}
	TreeRight      struct{}
	TreeLevel      struct{}
	TreeRoot       struct{}
	TreeParent     struct{}
	TreePathSource struct{}
	TreePath       struct {
		Separator string
		// AppendID follows each path segment with "-<id>", keeping paths of
		// same-named nodes apart. Defaults to true unless the source is the key.
		AppendID *bool
	}
)

// DefaultDateFormat formats date sources of a slug.
const DefaultDateFormat = time.DateOnly
