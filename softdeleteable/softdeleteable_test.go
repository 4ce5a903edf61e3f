package softdeleteable_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shaurya/behave/framework"
	"github.com/shaurya/behave/mapping"
	"github.com/shaurya/behave/softdeleteable"
	behavetest "github.com/shaurya/behave/testing"
)

func TestDeleteHidesTheRow(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "Hidden"}
	s.Create(a)
	require.NoError(t, s.DB.Delete(a).Error)
	require.NotNil(t, a.DeletedAt)
	assert.True(t, a.DeletedAt.Equal(s.Now()))

	err := s.DB.First(&behavetest.Article{}, a.ID).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var stored behavetest.Article
	require.NoError(t, s.DB.Unscoped().First(&stored, a.ID).Error)
	require.NotNil(t, stored.DeletedAt)
	assert.True(t, stored.DeletedAt.Equal(s.Now()))
	assert.EqualValues(t, 1, s.Count("articles"))
}

func TestScopes(t *testing.T) {
	s := behavetest.NewSuite(t)

	kept := &behavetest.Article{Title: "Kept"}
	gone := &behavetest.Article{Title: "Gone"}
	also := &behavetest.Article{Title: "Also kept"}
	s.Create(kept, gone, also)
	require.NoError(t, s.DB.Delete(gone).Error)

	count := func(scopes ...func(*gorm.DB) *gorm.DB) int64 {
		var n int64
		require.NoError(t, s.DB.Model(&behavetest.Article{}).Scopes(scopes...).Count(&n).Error)
		return n
	}
	assert.EqualValues(t, 2, count())
	assert.EqualValues(t, 3, count(softdeleteable.WithDeleted))
	assert.EqualValues(t, 1, count(softdeleteable.OnlyDeleted))

	var trash []behavetest.Article
	require.NoError(t, s.DB.Scopes(softdeleteable.OnlyDeleted).Find(&trash).Error)
	require.Len(t, trash, 1)
	assert.Equal(t, gone.ID, trash[0].ID)
}

func TestOrConditionsStayFiltered(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "A"}
	b := &behavetest.Article{Title: "B"}
	s.Create(a, b)
	require.NoError(t, s.DB.Delete(b).Error)

	var found []behavetest.Article
	require.NoError(t, s.DB.Where("title = ?", "A").Or("title = ?", "B").Find(&found).Error)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)
}

func TestDeletingTwiceRemovesTheRow(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "Twice"}
	s.Create(a)
	require.NoError(t, s.DB.Delete(a).Error)
	assert.EqualValues(t, 1, s.Count("articles"))

	s.Clock.Advance(time.Second)
	require.NoError(t, s.DB.Delete(a).Error)
	assert.Zero(t, s.Count("articles"))
}

type archive struct {
	ID        uint
	Name      string
	DeletedAt *time.Time

	mapping.SoftDeleteable `gorm:"-" behavior:"softdeleteable:field=DeletedAt,hardDelete=false"`
}

func TestHardDeleteDisabled(t *testing.T) {
	s := behavetest.NewSuite(t, &archive{})

	a := &archive{Name: "forever"}
	require.NoError(t, s.DB.Create(a).Error)
	require.NoError(t, s.DB.Delete(a).Error)
	s.Clock.Advance(time.Second)
	require.NoError(t, s.DB.Delete(a).Error)

	var stored archive
	require.NoError(t, s.DB.Unscoped().First(&stored, a.ID).Error)
	require.NotNil(t, stored.DeletedAt)
	assert.True(t, stored.DeletedAt.Equal(s.Now().Add(-time.Second)), "the first deletion date is kept")
}

func TestDeleteByConditions(t *testing.T) {
	s := behavetest.NewSuite(t)

	s.Create(&behavetest.Article{Title: "Spam"}, &behavetest.Article{Title: "Ham"})
	require.NoError(t, s.DB.Where("title = ?", "Spam").Delete(&behavetest.Article{}).Error)

	var titles []string
	require.NoError(t, s.DB.Model(&behavetest.Article{}).Pluck("title", &titles).Error)
	assert.Equal(t, []string{"Ham"}, titles)
	assert.EqualValues(t, 2, s.Count("articles"))

	require.NoError(t, s.DB.Where("title = ?", "Spam").Delete(&behavetest.Article{}).Error)
	assert.EqualValues(t, 2, s.Count("articles"), "condition deletes never remove rows")
}

func TestTimeAware(t *testing.T) {
	s := behavetest.NewSuite(t)

	later := s.Now().Add(time.Hour)
	scheduled := &behavetest.Comment{Body: "expires", DeletedAt: &later}
	live := &behavetest.Comment{Body: "stays"}
	s.Create(scheduled, live)

	visible := func() []string {
		var bodies []string
		require.NoError(t, s.DB.Model(&behavetest.Comment{}).Order("id").Pluck("body", &bodies).Error)
		return bodies
	}
	assert.Equal(t, []string{"expires", "stays"}, visible())

	s.Clock.Advance(2 * time.Hour)
	assert.Equal(t, []string{"stays"}, visible())

	var expired []behavetest.Comment
	require.NoError(t, s.DB.Scopes(softdeleteable.OnlyDeleted).Find(&expired).Error)
	require.Len(t, expired, 1)
	assert.Equal(t, scheduled.ID, expired[0].ID)

	require.NoError(t, s.DB.Delete(live).Error)
	assert.Empty(t, visible())
	assert.EqualValues(t, 2, s.Count("comments"))
}

type guarded struct {
	ID        uint
	DeletedAt *time.Time
	Before    int `gorm:"-"`
	After     int `gorm:"-"`

	mapping.SoftDeleteable `gorm:"-" behavior:"softdeleteable:field=DeletedAt"`
}

func (g *guarded) PreSoftDelete(tx *gorm.DB) error {
	g.Before++
	return nil
}

func (g *guarded) PostSoftDelete(tx *gorm.DB) error {
	g.After++
	return nil
}

func TestSoftDeleteHooks(t *testing.T) {
	s := behavetest.NewSuite(t, &guarded{})

	g := &guarded{}
	require.NoError(t, s.DB.Create(g).Error)
	require.NoError(t, s.DB.Delete(g).Error)
	assert.Equal(t, 1, g.Before)
	assert.Equal(t, 1, g.After)

	require.NoError(t, s.DB.Delete(g).Error)
	assert.Equal(t, 1, g.Before, "a hard delete skips the hooks")
}

func TestSoftDeletedNodeKeepsItsChildren(t *testing.T) {
	s := behavetest.NewSuite(t)

	root := &behavetest.Folder{Name: "root"}
	s.Create(root)
	child := &behavetest.Folder{Name: "child", ParentID: behavetest.Ref(root.ID)}
	s.Create(child)

	require.NoError(t, s.DB.Delete(root).Error)
	assert.EqualValues(t, 2, s.Count("folders"))

	var stored behavetest.Folder
	require.NoError(t, s.DB.First(&stored, child.ID).Error)
	assert.Equal(t, "root-1/child-2/", stored.Path)
}

func TestDisabledListenerDeletesForReal(t *testing.T) {
	behaviors := framework.AllEnabled()
	behaviors.SoftDeleteable.Enabled = false
	s := behavetest.NewSuiteWith(t, behavetest.Options{Behaviors: &behaviors})

	a := &behavetest.Article{Title: "Really gone"}
	s.Create(a)
	require.NoError(t, s.DB.Delete(a).Error)
	assert.Zero(t, s.Count("articles"))
}
