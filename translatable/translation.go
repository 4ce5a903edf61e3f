package translatable

import "context"

// DefaultTable holds translations of every model without its own table.
const DefaultTable = "ext_translations"

// Translation is one translated field value of one object.
type Translation struct {
	ID          uint    `gorm:"primarykey"`
	Locale      string  `gorm:"size:8;not null;uniqueIndex:ext_translations_unique_idx,priority:1"`
	ObjectClass string  `gorm:"size:191;not null;uniqueIndex:ext_translations_unique_idx,priority:2;index:ext_translations_lookup_idx,priority:1"`
	Field       string  `gorm:"size:32;not null;uniqueIndex:ext_translations_unique_idx,priority:3"`
	ForeignKey  string  `gorm:"size:64;not null;uniqueIndex:ext_translations_unique_idx,priority:4;index:ext_translations_lookup_idx,priority:2"`
	Content     *string `gorm:"type:text"`
}

func (Translation) TableName() string { return DefaultTable }

type localeKey struct{}

// WithLocale returns a context whose queries and writes use locale.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFromContext returns the locale set by WithLocale.
func LocaleFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	locale, ok := ctx.Value(localeKey{}).(string)
	return locale, ok && locale != ""
}
