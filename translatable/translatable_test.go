package translatable_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shaurya/behave/framework"
	behavetest "github.com/shaurya/behave/testing"
	"github.com/shaurya/behave/translatable"
)

func translations(t *testing.T, s *behavetest.Suite, id uint) map[string]map[string]string {
	t.Helper()
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)
	out, err := repo.ByClass(s.Ctx, translatable.DefaultTable, "Article", fmt.Sprint(id))
	require.NoError(t, err)
	return out
}

func load(t *testing.T, s *behavetest.Suite, locale string, id uint) behavetest.Article {
	t.Helper()
	var a behavetest.Article
	ctx := translatable.WithLocale(context.Background(), locale)
	require.NoError(t, s.DB.WithContext(ctx).First(&a, id).Error)
	return a
}

func TestDefaultLocaleStaysInTheRow(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "Hello", Content: "World"}
	s.Create(a)
	assert.Zero(t, s.Count(translatable.DefaultTable))

	got := load(t, s, "en", a.ID)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "World", got.Content)
}

func TestTranslateThroughTheLocaleField(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "Hello", Content: "World"}
	s.Create(a)

	a.Locale = "de"
	a.Title = "Hallo"
	require.NoError(t, s.DB.Save(a).Error)
	assert.Equal(t, "Hallo", a.Title, "the object keeps the value it was saved with")

	var row behavetest.Article
	require.NoError(t, s.DB.WithContext(translatable.WithLocale(s.Ctx, "en")).First(&row, a.ID).Error)
	assert.Equal(t, "Hello", row.Title, "the row keeps the default locale")

	assert.Equal(t, map[string]map[string]string{"de": {"Title": "Hallo"}}, translations(t, s, a.ID))

	de := load(t, s, "de", a.ID)
	assert.Equal(t, "Hallo", de.Title)
	assert.Empty(t, de.Content, "missing translations are blank without fallback")
}

func TestTranslateThroughTheContext(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "Cheese", Content: "Tasty"}
	s.Create(a)

	ctx := translatable.WithLocale(s.Ctx, "fr")
	require.NoError(t, s.DB.WithContext(ctx).Model(a).Updates(map[string]any{"title": "Fromage", "content": "Délicieux"}).Error)

	fr := load(t, s, "fr", a.ID)
	assert.Equal(t, "Fromage", fr.Title)
	assert.Equal(t, "Délicieux", fr.Content)

	en := load(t, s, "en", a.ID)
	assert.Equal(t, "Cheese", en.Title)
	assert.Equal(t, "Tasty", en.Content)
}

func TestCreateInAnotherLocale(t *testing.T) {
	s := behavetest.NewSuite(t)

	a := &behavetest.Article{Title: "Hola", Content: "Mundo", Locale: "es"}
	s.Create(a)

	assert.Equal(t, map[string]map[string]string{"es": {"Title": "Hola", "Content": "Mundo"}}, translations(t, s, a.ID))
	es := load(t, s, "es", a.ID)
	assert.Equal(t, "Hola", es.Title)
}

func TestFallback(t *testing.T) {
	behaviors := framework.AllEnabled()
	behaviors.Translatable.Fallback = true
	s := behavetest.NewSuiteWith(t, behavetest.Options{Behaviors: &behaviors})

	a := &behavetest.Article{Title: "Hello", Content: "World"}
	s.Create(a)
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Hallo"))

	de := load(t, s, "de", a.ID)
	assert.Equal(t, "Hallo", de.Title)
	assert.Equal(t, "World", de.Content, "untranslated fields fall back to the row")
}

func TestLoadingManyObjects(t *testing.T) {
	s := behavetest.NewSuite(t)
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)

	for i := 1; i <= 3; i++ {
		a := &behavetest.Article{Title: fmt.Sprintf("Title %d", i)}
		s.Create(a)
		if i != 2 {
			require.NoError(t, repo.Translate(s.Ctx, a, "Title", "it", fmt.Sprintf("Titolo %d", i)))
		}
	}

	var all []behavetest.Article
	ctx := translatable.WithLocale(s.Ctx, "it")
	require.NoError(t, s.DB.WithContext(ctx).Order("id").Find(&all).Error)
	require.Len(t, all, 3)
	assert.Equal(t, "Titolo 1", all[0].Title)
	assert.Empty(t, all[1].Title)
	assert.Equal(t, "Titolo 3", all[2].Title)
}

func TestRepository(t *testing.T) {
	s := behavetest.NewSuite(t)
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)

	a := &behavetest.Article{Title: "Apple", Content: "Fruit"}
	require.Error(t, repo.Translate(s.Ctx, a, "Title", "de", "Apfel"), "unsaved objects cannot be translated")
	s.Create(a)

	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Apfel"))
	require.NoError(t, repo.Translate(s.Ctx, a, "Content", "de", "Obst"))
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "nl", "Appel"))
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Der Apfel"))
	require.Error(t, repo.Translate(s.Ctx, a, "Slug", "de", "apfel"))

	got, err := repo.Translations(s.Ctx, a)
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		"de": {"Title": "Der Apfel", "Content": "Obst"},
		"nl": {"Title": "Appel"},
	}, got)

	t.Run("default locale goes to the object", func(t *testing.T) {
		require.NoError(t, repo.Translate(s.Ctx, a, "Title", "en", "Green Apple"))
		assert.Equal(t, "Green Apple", a.Title)
		got, err := repo.Translations(s.Ctx, a)
		require.NoError(t, err)
		assert.NotContains(t, got, "en")
	})

	t.Run("find by translated field", func(t *testing.T) {
		found, err := translatable.FindByTranslatedField[behavetest.Article](s.Ctx, repo, "Title", "Appel", "nl")
		require.NoError(t, err)
		assert.Equal(t, a.ID, found.ID)
		assert.Equal(t, "Appel", found.Title)

		_, err = translatable.FindByTranslatedField[behavetest.Article](s.Ctx, repo, "Title", "Birne", "de")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

		found, err = translatable.FindByTranslatedField[behavetest.Article](s.Ctx, repo, "Title", "Apple", "en")
		require.NoError(t, err)
		assert.Equal(t, a.ID, found.ID)
	})
}

func TestDeletingRemovesTranslations(t *testing.T) {
	s := behavetest.NewSuite(t)
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)

	a := &behavetest.Article{Title: "Gone"}
	s.Create(a)
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Weg"))

	require.NoError(t, s.DB.Delete(a).Error)
	assert.Len(t, translations(t, s, a.ID), 1, "soft deletes keep translations")

	require.NoError(t, s.DB.Unscoped().Delete(a).Error)
	assert.Empty(t, translations(t, s, a.ID))
}

func TestCacheIsFilledAndInvalidated(t *testing.T) {
	s := behavetest.NewSuite(t)
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)

	a := &behavetest.Article{Title: "Milk"}
	s.Create(a)
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Milch"))

	key := fmt.Sprintf("translations:Article:%d:de", a.ID)
	ok, _ := s.Cache.Exists(s.Ctx, key)
	assert.False(t, ok)

	assert.Equal(t, "Milch", load(t, s, "de", a.ID).Title)
	ok, _ = s.Cache.Exists(s.Ctx, key)
	assert.True(t, ok)

	// a cached load does not hit the table
	require.NoError(t, s.DB.Exec("UPDATE ext_translations SET content = 'Vollmilch'").Error)
	assert.Equal(t, "Milch", load(t, s, "de", a.ID).Title)

	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Frische Milch"))
	ok, _ = s.Cache.Exists(s.Ctx, key)
	assert.False(t, ok)
	assert.Equal(t, "Frische Milch", load(t, s, "de", a.ID).Title)
}

func TestPersistDefaultLocale(t *testing.T) {
	behaviors := framework.AllEnabled()
	behaviors.Translatable.PersistDefaultLocale = true
	s := behavetest.NewSuiteWith(t, behavetest.Options{Behaviors: &behaviors})

	a := &behavetest.Article{Title: "Stored", Content: "Twice"}
	s.Create(a)
	assert.Equal(t, map[string]map[string]string{"en": {"Title": "Stored", "Content": "Twice"}}, translations(t, s, a.ID))
}

func TestSkipOnLoad(t *testing.T) {
	behaviors := framework.AllEnabled()
	behaviors.Translatable.SkipOnLoad = true
	s := behavetest.NewSuiteWith(t, behavetest.Options{Behaviors: &behaviors, NoCache: true})
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)

	a := &behavetest.Article{Title: "Raw"}
	s.Create(a)
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "de", "Roh"))
	assert.Equal(t, "Raw", load(t, s, "de", a.ID).Title)
}

func TestListenerLocale(t *testing.T) {
	s := behavetest.NewSuite(t)
	repo := translatable.NewRepository(s.DB, s.Ext.Translatable)

	a := &behavetest.Article{Title: "Day"}
	s.Create(a)
	require.NoError(t, repo.Translate(s.Ctx, a, "Title", "pt", "Dia"))

	s.Ext.Translatable.SetLocale("pt")
	t.Cleanup(func() { s.Ext.Translatable.SetLocale("") })

	var got behavetest.Article
	require.NoError(t, s.DB.First(&got, a.ID).Error)
	assert.Equal(t, "Dia", got.Title)
	assert.Equal(t, "en", s.Ext.Translatable.DefaultLocale())
}

type note struct {
	ID     uint
	Text   string `behavior:"translatable"`
	Loaded string `gorm:"-"`
}

func (n *note) PostTranslate(tx *gorm.DB, locale string) error {
	n.Loaded = locale
	return nil
}

func TestPostTranslateHook(t *testing.T) {
	s := behavetest.NewSuite(t, &note{})

	n := &note{Text: "hi"}
	require.NoError(t, s.DB.Create(n).Error)
	require.NoError(t, s.DB.WithContext(translatable.WithLocale(s.Ctx, "fr")).Model(n).Update("text", "salut").Error)

	var got note
	require.NoError(t, s.DB.WithContext(translatable.WithLocale(s.Ctx, "fr")).First(&got, n.ID).Error)
	assert.Equal(t, "salut", got.Text)
	assert.Equal(t, "fr", got.Loaded)
}
