package orm

import "gorm.io/gorm"

// Models may implement these interfaces to take part in a behavior. They are
// looked up on the object being persisted, like GORM's own hook methods.

// PreSoftDeleteHook runs before a soft delete stamps the object.
type PreSoftDeleteHook interface {
	PreSoftDelete(tx *gorm.DB) error
}

// PostSoftDeleteHook runs after a soft delete stamped the object.
type PostSoftDeleteHook interface {
	PostSoftDelete(tx *gorm.DB) error
}

// SlugHandler may rewrite a generated slug before uniqueness is enforced.
type SlugHandler interface {
	HandleSlug(field, slug string) (string, error)
}

// PostTranslateHook runs after translations have been applied on load.
type PostTranslateHook interface {
	PostTranslate(tx *gorm.DB, locale string) error
}

// CallbackName names a behavior callback, e.g. "behave:sluggable:before_create".
func CallbackName(behavior, stage string) string {
	return "behave:" + behavior + ":" + stage
}
