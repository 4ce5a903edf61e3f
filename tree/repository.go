package tree

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/shaurya/behave/event"
	"github.com/shaurya/behave/mapping"
)

// Repository queries and rearranges the tree of model T.
type Repository[T any] struct {
	db  *gorm.DB
	sch *schema.Schema
	cfg *mapping.TreeConfig
}

// NewRepository returns the repository of T, which must be a tree model.
func NewRepository[T any](db *gorm.DB) (*Repository[T], error) {
	var model T
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(&model); err != nil {
		return nil, err
	}
	meta, err := mapping.For(stmt.Schema)
	if err != nil {
		return nil, err
	}
	if meta.Tree == nil {
		return nil, fmt.Errorf("tree: %s is not a tree", stmt.Schema.Name)
	}
	return &Repository[T]{db: db, sch: stmt.Schema, cfg: meta.Tree}, nil
}

func (r *Repository[T]) query(ctx context.Context) *gorm.DB {
	var model T
	return r.db.WithContext(ctx).Model(&model)
}

// adapter builds the callback view used by the strategies outside of a
// callback.
func (r *Repository[T]) adapter(tx *gorm.DB) *event.ORM {
	var model T
	tx = tx.Model(&model)
	tx.Statement.Schema = r.sch
	tx.Statement.Table = r.sch.Table
	return event.NewORM(tx)
}

func (r *Repository[T]) order(q *gorm.DB) *gorm.DB {
	switch r.cfg.Type {
	case mapping.TreeNested:
		if r.cfg.Root != nil {
			q = q.Order(clause.OrderByColumn{Column: col(r.cfg.Root.DBName)})
		}
		return q.Order(clause.OrderByColumn{Column: col(r.cfg.Left.DBName)})
	case mapping.TreeMaterializedPath:
		return q.Order(clause.OrderByColumn{Column: col(r.cfg.Path.DBName)})
	}
	return q.Order(clause.OrderByColumn{Column: col(pkField(r.sch).DBName)})
}

func (r *Repository[T]) node(ctx context.Context, obj *T) (*node, error) {
	id := identity(r.adapter(r.db.WithContext(ctx)), reflect.ValueOf(obj).Elem())
	if id == nil {
		return nil, gorm.ErrPrimaryKeyRequired
	}
	return loadNode(r.adapter(r.db.WithContext(ctx)), r.cfg, id)
}

// Roots returns the nodes without a parent.
func (r *Repository[T]) Roots(ctx context.Context) ([]T, error) {
	var out []T
	err := r.order(r.query(ctx).Where(parentIs(r.cfg, nil))).Find(&out).Error
	return out, err
}

// Children returns the descendants of node, or its children only when
// direct is set. A nil node stands for the whole forest.
func (r *Repository[T]) Children(ctx context.Context, obj *T, direct bool) ([]T, error) {
	q, err := r.children(ctx, obj, direct)
	if err != nil {
		return nil, err
	}
	var out []T
	err = r.order(q).Find(&out).Error
	return out, err
}

// ChildCount counts what Children would return.
func (r *Repository[T]) ChildCount(ctx context.Context, obj *T, direct bool) (int64, error) {
	q, err := r.children(ctx, obj, direct)
	if err != nil {
		return 0, err
	}
	var n int64
	err = q.Count(&n).Error
	return n, err
}

func (r *Repository[T]) children(ctx context.Context, obj *T, direct bool) (*gorm.DB, error) {
	q := r.query(ctx)
	if obj == nil {
		if direct {
			return q.Where(parentIs(r.cfg, nil)), nil
		}
		return q, nil
	}
	n, err := r.node(ctx, obj)
	if err != nil {
		return nil, err
	}
	if direct {
		return q.Where(parentIs(r.cfg, n.id)), nil
	}
	switch r.cfg.Type {
	case mapping.TreeNested:
		q = inTree(q, r.cfg, n.root).
			Where(clause.Gt{Column: col(r.cfg.Left.DBName), Value: n.left}).
			Where(clause.Lt{Column: col(r.cfg.Right.DBName), Value: n.right})
	case mapping.TreeMaterializedPath:
		q = q.Where(likePrefix(r.cfg.Path.DBName, n.path)).
			Not(clause.Eq{Column: col(pkField(r.sch).DBName), Value: n.id})
	case mapping.TreeClosure:
		q = q.Where("? IN (SELECT descendant FROM ? WHERE ancestor = ? AND depth > 0)",
			clause.Column{Table: clause.CurrentTable, Name: pkField(r.sch).DBName}, closureTable(r.cfg), toInt64(n.id))
	}
	return q, nil
}

// Path returns the ancestors of node from the root down, node included.
func (r *Repository[T]) Path(ctx context.Context, obj *T) ([]T, error) {
	n, err := r.node(ctx, obj)
	if err != nil {
		return nil, err
	}
	q := r.query(ctx)
	switch r.cfg.Type {
	case mapping.TreeNested:
		q = inTree(q, r.cfg, n.root).
			Where(clause.Lte{Column: col(r.cfg.Left.DBName), Value: n.left}).
			Where(clause.Gte{Column: col(r.cfg.Right.DBName), Value: n.right}).
			Order(clause.OrderByColumn{Column: col(r.cfg.Left.DBName)})
	case mapping.TreeMaterializedPath:
		paths := append(ancestorPaths(n.path, r.cfg.PathSeparator), n.path)
		values := make([]any, len(paths))
		for i, p := range paths {
			values[i] = p
		}
		q = q.Where(clause.IN{Column: col(r.cfg.Path.DBName), Values: values}).
			Order(clause.OrderByColumn{Column: col(r.cfg.Path.DBName)})
	case mapping.TreeClosure:
		q = q.Joins("JOIN ? c ON c.ancestor = ?", closureTable(r.cfg),
			clause.Column{Table: clause.CurrentTable, Name: pkField(r.sch).DBName}).
			Where("c.descendant = ?", toInt64(n.id)).
			Order("c.depth DESC")
	}
	var out []T
	err = q.Find(&out).Error
	return out, err
}

// Verify checks the bounds of a nested set and returns the problems found.
func (r *Repository[T]) Verify(ctx context.Context) ([]string, error) {
	if r.cfg.Type != mapping.TreeNested {
		return nil, ErrUnsupported
	}
	var rows []map[string]any
	ea := r.adapter(r.db.WithContext(ctx))
	if err := session(ea).Find(&rows).Error; err != nil {
		return nil, err
	}
	pk := pkField(r.sch)
	nodes := map[string]*node{}
	trees := map[string][]*node{}
	for _, row := range rows {
		n := nodeFromRow(r.cfg, pk, row)
		nodes[fmt.Sprint(n.id)] = n
		key := fmt.Sprint(n.root)
		trees[key] = append(trees[key], n)
	}

	var issues []string
	keys := make([]string, 0, len(trees))
	for k := range trees {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		group := trees[k]
		seen := map[int64]bool{}
		for _, n := range group {
			if n.left >= n.right {
				issues = append(issues, fmt.Sprintf("node %v: left %d is not below right %d", n.id, n.left, n.right))
			}
			for _, b := range []int64{n.left, n.right} {
				if seen[b] {
					issues = append(issues, fmt.Sprintf("node %v: bound %d is used twice", n.id, b))
				}
				seen[b] = true
			}
		}
		for b := int64(1); b <= int64(2*len(group)); b++ {
			if !seen[b] {
				issues = append(issues, fmt.Sprintf("tree %s: bound %d is missing", k, b))
			}
		}
	}
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := nodes[id]
		if n.parent == nil {
			continue
		}
		p, ok := nodes[fmt.Sprint(n.parent)]
		if !ok {
			issues = append(issues, fmt.Sprintf("node %v: parent %v does not exist", n.id, n.parent))
			continue
		}
		if !p.contains(n) || p.left == n.left {
			issues = append(issues, fmt.Sprintf("node %v: bounds are outside parent %v", n.id, p.id))
		}
		if r.cfg.Level != nil && n.level != p.level+1 {
			issues = append(issues, fmt.Sprintf("node %v: level %d under parent level %d", n.id, n.level, p.level))
		}
	}
	return issues, nil
}

// MoveUp moves node before its previous sibling, steps times or as far as
// possible when steps is not positive. obj is refreshed.
func (r *Repository[T]) MoveUp(ctx context.Context, obj *T, steps int) error {
	return r.moveSibling(ctx, obj, steps, true)
}

// MoveDown moves node after its next sibling, steps times or as far as
// possible when steps is not positive. obj is refreshed.
func (r *Repository[T]) MoveDown(ctx context.Context, obj *T, steps int) error {
	return r.moveSibling(ctx, obj, steps, false)
}

func (r *Repository[T]) moveSibling(ctx context.Context, obj *T, steps int, up bool) error {
	if r.cfg.Type != mapping.TreeNested {
		return ErrUnsupported
	}
	id := identity(r.adapter(r.db.WithContext(ctx)), reflect.ValueOf(obj).Elem())
	if id == nil {
		return gorm.ErrPrimaryKeyRequired
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ea := r.adapter(tx)
		s := nested{log: zap.NewNop()}
		for i := 0; steps <= 0 || i < steps; i++ {
			n, err := loadNode(ea, r.cfg, id)
			if err != nil {
				return err
			}
			bound := clause.Eq{Column: col(r.cfg.Right.DBName), Value: n.left - 1}
			if !up {
				bound = clause.Eq{Column: col(r.cfg.Left.DBName), Value: n.right + 1}
			}
			row := map[string]any{}
			res := inTree(session(ea), r.cfg, n.root).
				Where(parentIs(r.cfg, n.parent)).
				Where(bound).Limit(1).Find(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			sibling := nodeFromRow(r.cfg, pkField(r.sch), row)
			if up {
				err = s.swap(ea, r.cfg, sibling, n)
			} else {
				err = s.swap(ea, r.cfg, n, sibling)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).First(obj, clause.Eq{Column: col(pkField(r.sch).DBName), Value: id}).Error
}
