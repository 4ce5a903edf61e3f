package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaurya/behave/mapping"
	behavetest "github.com/shaurya/behave/testing"
	"github.com/shaurya/behave/tree"
)

func reload[T any](t *testing.T, s *behavetest.Suite, id uint) *T {
	t.Helper()
	var out T
	require.NoError(t, s.DB.First(&out, id).Error)
	return &out
}

type bounds struct{ Lft, Rgt, Lvl int }

func categoryBounds(t *testing.T, s *behavetest.Suite, id uint) bounds {
	c := reload[behavetest.Category](t, s, id)
	return bounds{c.Lft, c.Rgt, c.Lvl}
}

func titles[T any](items []T, title func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = title(it)
	}
	return out
}

func categoryTitle(c behavetest.Category) string { return c.Title }
func sectionTitle(c behavetest.Section) string   { return c.Title }
func folderName(f behavetest.Folder) string      { return f.Name }
func employeeName(e behavetest.Employee) string  { return e.Name }

// electronics builds:
//
//	Electronics
//	├── Phones
//	│   └── Android
//	└── Laptops
func electronics(t *testing.T, s *behavetest.Suite) (root, phones, android, laptops *behavetest.Category) {
	t.Helper()
	root = &behavetest.Category{Title: "Electronics"}
	s.Create(root)
	phones = &behavetest.Category{Title: "Phones", ParentID: behavetest.Ref(root.ID)}
	s.Create(phones)
	laptops = &behavetest.Category{Title: "Laptops", ParentID: behavetest.Ref(root.ID)}
	s.Create(laptops)
	android = &behavetest.Category{Title: "Android", ParentID: behavetest.Ref(phones.ID)}
	s.Create(android)
	return root, phones, android, laptops
}

func verify[T any](t *testing.T, repo *tree.Repository[T], s *behavetest.Suite) {
	t.Helper()
	issues, err := repo.Verify(s.Ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestNestedInsert(t *testing.T) {
	s := behavetest.NewSuite(t)
	root, phones, android, laptops := electronics(t, s)

	assert.Equal(t, bounds{1, 8, 0}, categoryBounds(t, s, root.ID))
	assert.Equal(t, bounds{2, 5, 1}, categoryBounds(t, s, phones.ID))
	assert.Equal(t, bounds{3, 4, 2}, categoryBounds(t, s, android.ID))
	assert.Equal(t, bounds{6, 7, 1}, categoryBounds(t, s, laptops.ID))

	for _, id := range []uint{root.ID, phones.ID, android.ID, laptops.ID} {
		c := reload[behavetest.Category](t, s, id)
		require.NotNil(t, c.RootID)
		assert.Equal(t, root.ID, *c.RootID)
	}

	books := &behavetest.Category{Title: "Books"}
	s.Create(books)
	b := reload[behavetest.Category](t, s, books.ID)
	assert.Equal(t, bounds{1, 2, 0}, bounds{b.Lft, b.Rgt, b.Lvl}, "every root starts its own tree")
	require.NotNil(t, b.RootID)
	assert.Equal(t, books.ID, *b.RootID)

	repo, err := tree.NewRepository[behavetest.Category](s.DB)
	require.NoError(t, err)
	verify(t, repo, s)
}

func TestNestedQueries(t *testing.T) {
	s := behavetest.NewSuite(t)
	root, _, android, _ := electronics(t, s)
	s.Create(&behavetest.Category{Title: "Books"})

	repo, err := tree.NewRepository[behavetest.Category](s.DB)
	require.NoError(t, err)

	roots, err := repo.Roots(s.Ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Electronics", "Books"}, titles(roots, categoryTitle))

	all, err := repo.Children(s.Ctx, root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Phones", "Android", "Laptops"}, titles(all, categoryTitle))

	direct, err := repo.Children(s.Ctx, root, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Phones", "Laptops"}, titles(direct, categoryTitle))

	n, err := repo.ChildCount(s.Ctx, root, false)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	path, err := repo.Path(s.Ctx, android)
	require.NoError(t, err)
	assert.Equal(t, []string{"Electronics", "Phones", "Android"}, titles(path, categoryTitle))
}

func TestNestedMove(t *testing.T) {
	s := behavetest.NewSuite(t)
	root, phones, android, laptops := electronics(t, s)
	repo, err := tree.NewRepository[behavetest.Category](s.DB)
	require.NoError(t, err)

	require.NoError(t, s.DB.Model(android).Update("parent_id", laptops.ID).Error)
	assert.Equal(t, bounds{1, 8, 0}, categoryBounds(t, s, root.ID))
	assert.Equal(t, bounds{2, 3, 1}, categoryBounds(t, s, phones.ID))
	assert.Equal(t, bounds{4, 7, 1}, categoryBounds(t, s, laptops.ID))
	assert.Equal(t, bounds{5, 6, 2}, categoryBounds(t, s, android.ID))
	verify(t, repo, s)

	t.Run("into a new tree", func(t *testing.T) {
		l := reload[behavetest.Category](t, s, laptops.ID)
		l.ParentID = nil
		require.NoError(t, s.DB.Save(l).Error)

		assert.Equal(t, bounds{1, 4, 0}, categoryBounds(t, s, laptops.ID))
		assert.Equal(t, bounds{2, 3, 1}, categoryBounds(t, s, android.ID))
		assert.Equal(t, bounds{1, 4, 0}, categoryBounds(t, s, root.ID))
		a := reload[behavetest.Category](t, s, android.ID)
		require.NotNil(t, a.RootID)
		assert.Equal(t, laptops.ID, *a.RootID)
		verify(t, repo, s)
	})

	t.Run("under its own descendant", func(t *testing.T) {
		err := s.DB.Model(&behavetest.Category{ID: root.ID}).Update("parent_id", phones.ID).Error
		assert.ErrorIs(t, err, tree.ErrInvalidMove)
		err = s.DB.Model(&behavetest.Category{ID: phones.ID}).Update("parent_id", phones.ID).Error
		assert.ErrorIs(t, err, tree.ErrInvalidMove)
		verify(t, repo, s)
	})

	t.Run("bounds cannot be written", func(t *testing.T) {
		p := reload[behavetest.Category](t, s, phones.ID)
		p.Lft, p.Rgt = 40, 41
		p.Title = "Mobile"
		require.NoError(t, s.DB.Save(p).Error)
		assert.Equal(t, bounds{2, 3, 1}, categoryBounds(t, s, phones.ID))
	})
}

func TestNestedDelete(t *testing.T) {
	s := behavetest.NewSuite(t)
	root, phones, _, laptops := electronics(t, s)
	repo, err := tree.NewRepository[behavetest.Category](s.DB)
	require.NoError(t, err)

	require.NoError(t, s.DB.Delete(phones).Error)
	assert.EqualValues(t, 2, s.Count("categories"), "descendants go with their ancestor")
	assert.Equal(t, bounds{1, 4, 0}, categoryBounds(t, s, root.ID))
	assert.Equal(t, bounds{2, 3, 1}, categoryBounds(t, s, laptops.ID))
	verify(t, repo, s)
}

func TestNestedDeleteMany(t *testing.T) {
	s := behavetest.NewSuite(t)
	root, phones, android, laptops := electronics(t, s)
	repo, err := tree.NewRepository[behavetest.Category](s.DB)
	require.NoError(t, err)

	batch := []behavetest.Category{*reload[behavetest.Category](t, s, android.ID), *reload[behavetest.Category](t, s, laptops.ID), *reload[behavetest.Category](t, s, phones.ID)}
	require.NoError(t, s.DB.Delete(&batch).Error)
	assert.EqualValues(t, 1, s.Count("categories"))
	assert.Equal(t, bounds{1, 2, 0}, categoryBounds(t, s, root.ID))
	verify(t, repo, s)
}

func TestSiblingOrder(t *testing.T) {
	s := behavetest.NewSuite(t)

	root := &behavetest.Section{Title: "Docs"}
	s.Create(root)
	for _, title := range []string{"A", "B", "C"} {
		s.Create(&behavetest.Section{Title: title, ParentID: behavetest.Ref(root.ID)})
	}
	other := &behavetest.Section{Title: "Blog"}
	s.Create(other)
	o := reload[behavetest.Section](t, s, other.ID)
	assert.Equal(t, 9, o.Lft, "roots share one bound sequence without a root column")

	repo, err := tree.NewRepository[behavetest.Section](s.DB)
	require.NoError(t, err)
	children := func() []string {
		out, err := repo.Children(s.Ctx, root, true)
		require.NoError(t, err)
		return titles(out, sectionTitle)
	}
	require.Equal(t, []string{"A", "B", "C"}, children())

	var c behavetest.Section
	require.NoError(t, s.DB.Where("title = ?", "C").First(&c).Error)
	require.NoError(t, repo.MoveUp(s.Ctx, &c, 1))
	assert.Equal(t, []string{"A", "C", "B"}, children())
	assert.Equal(t, 4, c.Lft, "the node is refreshed")

	var a behavetest.Section
	require.NoError(t, s.DB.Where("title = ?", "A").First(&a).Error)
	require.NoError(t, repo.MoveDown(s.Ctx, &a, 0))
	assert.Equal(t, []string{"C", "B", "A"}, children())

	require.NoError(t, repo.MoveDown(s.Ctx, &a, 3), "moving past the end stops at the last sibling")
	assert.Equal(t, []string{"C", "B", "A"}, children())

	roots, err := repo.Roots(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Docs", "Blog"}, titles(roots, sectionTitle))
	verify(t, repo, s)
}

func TestMaterializedPath(t *testing.T) {
	s := behavetest.NewSuite(t)

	usr := &behavetest.Folder{Name: "usr"}
	s.Create(usr)
	local := &behavetest.Folder{Name: "local", ParentID: behavetest.Ref(usr.ID)}
	s.Create(local)
	bin := &behavetest.Folder{Name: "bin", ParentID: behavetest.Ref(local.ID)}
	s.Create(bin)

	assert.Equal(t, "usr-1/", usr.Path)
	assert.Equal(t, "usr-1/local-2/bin-3/", bin.Path)
	assert.Equal(t, 2, bin.Level)

	repo, err := tree.NewRepository[behavetest.Folder](s.DB)
	require.NoError(t, err)

	under, err := repo.Children(s.Ctx, usr, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "bin"}, titles(under, folderName))

	path, err := repo.Path(s.Ctx, bin)
	require.NoError(t, err)
	assert.Equal(t, []string{"usr", "local", "bin"}, titles(path, folderName))

	_, err = repo.Verify(s.Ctx)
	assert.ErrorIs(t, err, tree.ErrUnsupported)

	t.Run("moving rewrites the subtree", func(t *testing.T) {
		opt := &behavetest.Folder{Name: "opt"}
		s.Create(opt)
		require.NoError(t, s.DB.Model(local).Update("parent_id", opt.ID).Error)

		l := reload[behavetest.Folder](t, s, local.ID)
		assert.Equal(t, "opt-4/local-2/", l.Path)
		b := reload[behavetest.Folder](t, s, bin.ID)
		assert.Equal(t, "opt-4/local-2/bin-3/", b.Path)
		assert.Equal(t, 2, b.Level)
	})

	t.Run("renaming rewrites the subtree", func(t *testing.T) {
		require.NoError(t, s.DB.Model(local).Update("name", "share").Error)
		b := reload[behavetest.Folder](t, s, bin.ID)
		assert.Equal(t, "opt-4/share-2/bin-3/", b.Path)
	})

	t.Run("under its own descendant", func(t *testing.T) {
		err := s.DB.Model(&behavetest.Folder{ID: local.ID}).Update("parent_id", bin.ID).Error
		assert.ErrorIs(t, err, tree.ErrInvalidMove)
	})

	t.Run("separator in the source", func(t *testing.T) {
		err := s.DB.Create(&behavetest.Folder{Name: "a/b"}).Error
		assert.Error(t, err)
	})

	t.Run("hard delete removes descendants", func(t *testing.T) {
		require.NoError(t, s.DB.Unscoped().Delete(reload[behavetest.Folder](t, s, local.ID)).Error)
		var names []string
		require.NoError(t, s.DB.Model(&behavetest.Folder{}).Order("path").Pluck("name", &names).Error)
		assert.Equal(t, []string{"opt", "usr"}, names)
	})
}

func TestSameNamedFoldersStayApart(t *testing.T) {
	s := behavetest.NewSuite(t)

	first := &behavetest.Folder{Name: "usr"}
	second := &behavetest.Folder{Name: "usr"}
	s.Create(first, second)
	lib := &behavetest.Folder{Name: "lib", ParentID: behavetest.Ref(second.ID)}
	s.Create(lib)

	assert.NotEqual(t, first.Path, second.Path)
	assert.Equal(t, second.Path+"lib-3/", lib.Path)

	repo, err := tree.NewRepository[behavetest.Folder](s.DB)
	require.NoError(t, err)
	under, err := repo.Children(s.Ctx, first, false)
	require.NoError(t, err)
	assert.Empty(t, under)

	require.NoError(t, s.DB.Unscoped().Delete(reload[behavetest.Folder](t, s, first.ID)).Error)
	var ids []uint
	require.NoError(t, s.DB.Model(&behavetest.Folder{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []uint{second.ID, lib.ID}, ids)

	t.Run("renaming leaves the namesake alone", func(t *testing.T) {
		other := &behavetest.Folder{Name: "lib", ParentID: behavetest.Ref(second.ID)}
		s.Create(other)
		require.NoError(t, s.DB.Model(&behavetest.Folder{ID: other.ID}).Update("name", "share").Error)
		assert.Equal(t, second.Path+"lib-3/", reload[behavetest.Folder](t, s, lib.ID).Path)
	})
}

type bareDir struct {
	ID       uint
	Name     string `gorm:"size:64" behavior:"tree_path_source"`
	ParentID *uint  `behavior:"tree_parent"`
	Path     string `gorm:"size:255" behavior:"tree_path:separator=/,appendId=false"`
	Level    int    `behavior:"tree_level"`

	mapping.Tree `gorm:"-" behavior:"tree:type=materializedPath"`
}

func TestPathsWithoutIDsMustBeUnique(t *testing.T) {
	s := behavetest.NewSuite(t, &bareDir{})

	etc := &bareDir{Name: "etc"}
	require.NoError(t, s.DB.Create(etc).Error)
	assert.Equal(t, "etc/", etc.Path)
	child := &bareDir{Name: "hosts", ParentID: behavetest.Ref(etc.ID)}
	require.NoError(t, s.DB.Create(child).Error)
	assert.Equal(t, "etc/hosts/", child.Path)

	err := s.DB.Create(&bareDir{Name: "etc"}).Error
	assert.ErrorIs(t, err, tree.ErrDuplicatePath)

	var n int64
	require.NoError(t, s.DB.Model(&bareDir{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)

	tmp := &bareDir{Name: "tmp"}
	require.NoError(t, s.DB.Create(tmp).Error)
	err = s.DB.Model(&bareDir{ID: tmp.ID}).Update("name", "etc").Error
	assert.ErrorIs(t, err, tree.ErrDuplicatePath)
}

func TestClosure(t *testing.T) {
	s := behavetest.NewSuite(t)

	ceo := &behavetest.Employee{Name: "Ada"}
	s.Create(ceo)
	cto := &behavetest.Employee{Name: "Brian", ManagerID: behavetest.Ref(ceo.ID)}
	s.Create(cto)
	dev := &behavetest.Employee{Name: "Cleo", ManagerID: behavetest.Ref(cto.ID)}
	s.Create(dev)

	assert.EqualValues(t, 6, s.Count("employee_links"))
	assert.Equal(t, 2, dev.Depth)

	repo, err := tree.NewRepository[behavetest.Employee](s.DB)
	require.NoError(t, err)

	reports, err := repo.Children(s.Ctx, ceo, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brian", "Cleo"}, titles(reports, employeeName))

	chain, err := repo.Path(s.Ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Brian", "Cleo"}, titles(chain, employeeName))

	err = s.DB.Model(&behavetest.Employee{ID: ceo.ID}).Update("manager_id", dev.ID).Error
	assert.ErrorIs(t, err, tree.ErrInvalidMove)

	require.NoError(t, s.DB.Model(cto).Update("manager_id", nil).Error)
	assert.EqualValues(t, 4, s.Count("employee_links"))
	assert.Equal(t, 0, reload[behavetest.Employee](t, s, cto.ID).Depth)
	assert.Equal(t, 1, reload[behavetest.Employee](t, s, dev.ID).Depth)

	chain, err = repo.Path(s.Ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brian", "Cleo"}, titles(chain, employeeName))

	require.NoError(t, s.DB.Delete(cto).Error)
	assert.EqualValues(t, 1, s.Count("employees"))
	assert.EqualValues(t, 1, s.Count("employee_links"))
}

func TestNotATree(t *testing.T) {
	s := behavetest.NewSuite(t)
	_, err := tree.NewRepository[behavetest.Article](s.DB)
	assert.Error(t, err)
}
