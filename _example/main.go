package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shaurya/behave/config"
	"github.com/shaurya/behave/framework"
	"github.com/shaurya/behave/loggable"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/orm"
	"github.com/shaurya/behave/softdeleteable"
	"github.com/shaurya/behave/translatable"
	"github.com/shaurya/behave/tree"
)

// ──────────────────────────────────────────────────────────────────────────────
// Models
// ──────────────────────────────────────────────────────────────────────────────

type Post struct {
	orm.SoftDeleteModel
	mapping.Loggable     `gorm:"-" behavior:"loggable"`
	mapping.Translatable `gorm:"-"`

	Title       string     `gorm:"not null" behavior:"translatable;versioned"`
	Body        string     `gorm:"type:text" behavior:"translatable;versioned"`
	Slug        string     `gorm:"uniqueIndex" behavior:"slug:fields=Title,updatable=false"`
	Status      string     `gorm:"default:draft" behavior:"versioned"`
	PublishedAt *time.Time `behavior:"timestampable:on=change,field=Status,value=published"`
	Locale      string     `gorm:"-" behavior:"locale"`
}

type Topic struct {
	ID       uint `gorm:"primarykey"`
	Name     string
	ParentID *uint `behavior:"tree_parent"`
	Lft      int   `behavior:"tree_left"`
	Rgt      int   `behavior:"tree_right"`
	Lvl      int   `behavior:"tree_level"`
	RootID   *uint `behavior:"tree_root"`

	mapping.Tree `gorm:"-" behavior:"tree:type=nested"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Main
// ──────────────────────────────────────────────────────────────────────────────

func main() {
	cfg, err := framework.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", Path: "example.db"}
	cfg.Cache.Driver = "memory"
	cfg.App.AutoMigrate = true

	ctx := context.Background()
	app := framework.NewWithConfig(cfg)
	if err := app.Boot(ctx); err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	if err := app.DB.AutoMigrate(&Post{}, &Topic{}); err != nil {
		log.Fatal(err)
	}

	// Create, then translate and publish as an editor.
	ctx = loggable.WithUsername(ctx, "editor")
	post := &Post{Title: "Hello World", Body: "First post"}
	must(app.DB.WithContext(ctx).Create(post).Error)
	fmt.Println("slug:", post.Slug)

	post.Locale = "de"
	post.Title = "Hallo Welt"
	must(app.DB.WithContext(ctx).Save(post).Error)

	post.Locale = ""
	post.Status = "published"
	must(app.DB.WithContext(ctx).Save(post).Error)

	var german Post
	must(app.DB.WithContext(translatable.WithLocale(ctx, "de")).First(&german, post.ID).Error)
	fmt.Println("de title:", german.Title)

	// Walk the history and revert to the first version.
	history := loggable.NewRepository(app.DB, app.Extensions.Loggable.Store())
	entries, err := history.Entries(ctx, post)
	must(err)
	for _, e := range entries {
		fmt.Printf("v%d %s by %s: %v\n", e.Version, e.Action, e.Username, e.Data)
	}
	must(history.Revert(ctx, post, 1))
	fmt.Println("reverted title:", post.Title)

	// Soft delete, then look at the trash.
	must(app.DB.WithContext(ctx).Delete(post).Error)
	trash, err := orm.Query[Post](ctx, app.DB).Scope(softdeleteable.OnlyDeleted).All()
	must(err)
	fmt.Println("in trash:", len(trash))

	// Build a small topic tree.
	root := &Topic{Name: "Go"}
	must(app.DB.Create(root).Error)
	for _, name := range []string{"Concurrency", "Generics"} {
		must(app.DB.Create(&Topic{Name: name, ParentID: &root.ID}).Error)
	}
	topics, err := tree.NewRepository[Topic](app.DB)
	must(err)
	children, err := topics.Children(ctx, root, true)
	must(err)
	for _, c := range children {
		fmt.Printf("%s [%d,%d] level %d\n", c.Name, c.Lft, c.Rgt, c.Lvl)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
