package orm_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shaurya/behave/orm"
	"github.com/shaurya/behave/softdeleteable"
	behavetest "github.com/shaurya/behave/testing"
)

func seed(t *testing.T, s *behavetest.Suite, n int) []*behavetest.Article {
	t.Helper()
	out := make([]*behavetest.Article, n)
	for i := range out {
		out[i] = &behavetest.Article{Title: fmt.Sprintf("Post %02d", i+1), Published: i%2 == 0}
		s.Create(out[i])
	}
	return out
}

func TestQueryBuilder(t *testing.T) {
	s := behavetest.NewSuite(t)
	articles := seed(t, s, 5)

	all, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Order("id").All()
	require.NoError(t, err)
	assert.Len(t, all, 5)

	published, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Where("published = ?", true).Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, published)

	first, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Where("title = ?", "Post 04").First()
	require.NoError(t, err)
	assert.Equal(t, articles[3].ID, first.ID)

	found, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Find(articles[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "post-02", found.Slug)

	_, err = orm.Query[behavetest.Article](s.Ctx, s.DB).Find(999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	ok, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Where("title = ?", "nope").Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	limited, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Order("id DESC").Limit(2).All()
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "Post 05", limited[0].Title)
}

func TestPaginate(t *testing.T) {
	s := behavetest.NewSuite(t)
	seed(t, s, 7)

	page, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Order("id").Page(2).PerPage(3).Paginate()
	require.NoError(t, err)
	assert.EqualValues(t, 7, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.PerPage)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "Post 04", page.Items[0].Title)

	last, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Order("id").Page(3).PerPage(3).All()
	require.NoError(t, err)
	assert.Len(t, last, 1)

	first, err := orm.Query[behavetest.Article](s.Ctx, s.DB).PerPage(0).Paginate()
	require.NoError(t, err)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 25, first.PerPage)
	assert.Len(t, first.Items, 7)
}

func TestScopes(t *testing.T) {
	s := behavetest.NewSuite(t)
	articles := seed(t, s, 3)
	require.NoError(t, s.DB.Delete(articles[0]).Error)

	visible, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, visible)

	trash, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Scope(softdeleteable.OnlyDeleted).All()
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, articles[0].ID, trash[0].ID)

	published := func(db *gorm.DB) *gorm.DB { return db.Where("published = ?", true) }
	n, err := orm.Query[behavetest.Article](s.Ctx, s.DB).Scope(softdeleteable.WithDeleted, published).Count()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestEach(t *testing.T) {
	s := behavetest.NewSuite(t)
	seed(t, s, 5)

	var sizes []int
	titles := 0
	err := orm.Query[behavetest.Article](s.Ctx, s.DB).Each(2, func(batch []behavetest.Article) error {
		sizes = append(sizes, len(batch))
		titles += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, 5, titles)
}

func TestCallbackName(t *testing.T) {
	assert.Equal(t, "behave:sluggable:before_create", orm.CallbackName("sluggable", "before_create"))
}

func TestIsDeleted(t *testing.T) {
	m := &orm.SoftDeleteModel{}
	assert.False(t, m.IsDeleted())
	later := time.Now().Add(time.Hour)
	m.DeletedAt = &later
	assert.False(t, m.IsDeleted())
	earlier := time.Now().Add(-time.Hour)
	m.DeletedAt = &earlier
	assert.True(t, m.IsDeleted())

	s := behavetest.NewSuite(t)
	a := &behavetest.Article{Title: "Soon gone"}
	s.Create(a)
	require.NoError(t, s.DB.Delete(a).Error)
	require.NotNil(t, a.DeletedAt)
}
