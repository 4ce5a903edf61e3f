package orm

import "gorm.io/gorm"

// ScopeFunc modifies a query, e.g. softdeleteable.WithDeleted.
type ScopeFunc = func(*gorm.DB) *gorm.DB
