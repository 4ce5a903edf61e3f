package orm

import (
	"context"

	"gorm.io/gorm"
)

// QueryBuilder is a typed, chainable query over model T. Behavior scopes plug
// in through Scope, e.g. Scope(softdeleteable.OnlyDeleted).
type QueryBuilder[T any] struct {
	db      *gorm.DB
	page    int
	perPage int
}

// Page is one page of results.
type Page[T any] struct {
	Items   []T
	Page    int
	PerPage int
	Total   int64
}

// Query creates a QueryBuilder for T bound to ctx.
func Query[T any](ctx context.Context, db *gorm.DB) *QueryBuilder[T] {
	var model T
	return &QueryBuilder[T]{db: db.WithContext(ctx).Model(&model), perPage: 25}
}

// Where adds a WHERE clause.
func (q *QueryBuilder[T]) Where(query any, args ...any) *QueryBuilder[T] {
	q.db = q.db.Where(query, args...)
	return q
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder[T]) Order(value any) *QueryBuilder[T] {
	q.db = q.db.Order(value)
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder[T]) Limit(limit int) *QueryBuilder[T] {
	q.db = q.db.Limit(limit)
	return q
}

// Page sets the page number for pagination (1-indexed).
func (q *QueryBuilder[T]) Page(page int) *QueryBuilder[T] {
	if page < 1 {
		page = 1
	}
	q.page = page
	return q
}

// PerPage sets the number of records per page.
func (q *QueryBuilder[T]) PerPage(perPage int) *QueryBuilder[T] {
	if perPage < 1 {
		perPage = 25
	}
	q.perPage = perPage
	return q
}

// Scope applies one or more scopes.
func (q *QueryBuilder[T]) Scope(funcs ...ScopeFunc) *QueryBuilder[T] {
	q.db = q.db.Scopes(funcs...)
	return q
}

func (q *QueryBuilder[T]) paginated() *gorm.DB {
	db := q.db
	if q.page > 0 {
		db = db.Offset((q.page - 1) * q.perPage).Limit(q.perPage)
	}
	return db
}

// All returns all matching records, one page of them once Page is set.
func (q *QueryBuilder[T]) All() ([]T, error) {
	var results []T
	err := q.paginated().Find(&results).Error
	return results, err
}

// Paginate returns the current page and the total number of matches.
func (q *QueryBuilder[T]) Paginate() (Page[T], error) {
	if q.page == 0 {
		q.page = 1
	}
	out := Page[T]{Page: q.page, PerPage: q.perPage}
	if err := q.db.Session(&gorm.Session{}).Count(&out.Total).Error; err != nil {
		return out, err
	}
	err := q.paginated().Find(&out.Items).Error
	return out, err
}

// First returns the first matching record.
func (q *QueryBuilder[T]) First() (*T, error) {
	var result T
	if err := q.db.Take(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// Find returns a record by primary key.
func (q *QueryBuilder[T]) Find(id any) (*T, error) {
	var result T
	if err := q.db.First(&result, id).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// Count returns the number of matching records.
func (q *QueryBuilder[T]) Count() (int64, error) {
	var count int64
	err := q.db.Count(&count).Error
	return count, err
}

// Exists reports whether a record matches.
func (q *QueryBuilder[T]) Exists() (bool, error) {
	n, err := q.Count()
	return n > 0, err
}

// Each loads matches batch records at a time and calls fn on every batch.
func (q *QueryBuilder[T]) Each(batch int, fn func([]T) error) error {
	var results []T
	return q.db.FindInBatches(&results, batch, func(tx *gorm.DB, _ int) error {
		return fn(results)
	}).Error
}
