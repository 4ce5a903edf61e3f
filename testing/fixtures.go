package testing

import (
	"time"

	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
)

// Article exercises translations, change logging, slugs, timestamps and soft
// deletion together.
type Article struct {
	orm.Model
	mapping.Loggable       `gorm:"-" behavior:"loggable"`
	mapping.Translatable   `gorm:"-"`
	mapping.SoftDeleteable `gorm:"-" behavior:"softdeleteable:field=DeletedAt"`

	Title       string     `gorm:"size:128;not null" behavior:"translatable;versioned"`
	Content     string     `gorm:"type:text" behavior:"translatable;versioned"`
	Slug        string     `gorm:"size:128;uniqueIndex" behavior:"slug:fields=Title,updatable=false"`
	Published   bool       `behavior:"versioned"`
	PublishedAt *time.Time `behavior:"timestampable:on=change,field=Published,value=true"`
	DeletedAt   *time.Time `gorm:"index"`
	Locale      string     `gorm:"-" behavior:"locale"`
}

// Comment is soft deleted with a deletion date that may lie in the future.
type Comment struct {
	ID        uint `gorm:"primarykey"`
	ArticleID uint
	Body      string
	DeletedAt *time.Time `gorm:"index"`

	mapping.SoftDeleteable `gorm:"-" behavior:"softdeleteable:field=DeletedAt,timeAware"`
}

// Category is a nested set with one tree per root.
type Category struct {
	ID       uint `gorm:"primarykey"`
	Title    string
	Slug     string `gorm:"size:128" behavior:"slug:fields=Title,unique=false"`
	ParentID *uint  `behavior:"tree_parent"`
	Lft      int    `behavior:"tree_left"`
	Rgt      int    `behavior:"tree_right"`
	Lvl      int    `behavior:"tree_level"`
	RootID   *uint  `behavior:"tree_root"`

	mapping.Tree `gorm:"-" behavior:"tree:type=nested"`
}

// Section is a nested set whose roots share one bound sequence.
type Section struct {
	ID       uint `gorm:"primarykey"`
	Title    string
	ParentID *uint `behavior:"tree_parent"`
	Lft      int   `behavior:"tree_left"`
	Rgt      int   `behavior:"tree_right"`
	Lvl      int   `behavior:"tree_level"`

	mapping.Tree `gorm:"-" behavior:"tree:type=nested"`
}

// Folder is a materialized path tree keyed by name.
type Folder struct {
	ID       uint   `gorm:"primarykey"`
	Name     string `gorm:"size:64" behavior:"tree_path_source"`
	ParentID *uint  `behavior:"tree_parent"`
	Path     string `gorm:"size:255;index" behavior:"tree_path:separator=/"`
	Level    int    `behavior:"tree_level"`

	mapping.Tree           `gorm:"-" behavior:"tree:type=materializedPath"`
	mapping.SoftDeleteable `gorm:"-" behavior:"softdeleteable:field=DeletedAt"`
	DeletedAt              *time.Time
}

// Employee is a closure table tree.
type Employee struct {
	ID        uint `gorm:"primarykey"`
	Name      string
	ManagerID *uint `behavior:"tree_parent"`
	Depth     int   `behavior:"tree_level"`

	mapping.Tree `gorm:"-" behavior:"tree:type=closure,closure=employee_links"`
}

// Ref returns a pointer to a copy of v. Fixtures point parent keys at copies
// so an update of the child never writes through to the parent object.
func Ref[T any](v T) *T { return &v }

// Models lists every fixture model.
func Models() []any {
	return []any{&Article{}, &Comment{}, &Category{}, &Section{}, &Folder{}, &Employee{}}
}
