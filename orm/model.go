package orm

import (
	"time"

	"github.com/shaurya/behave/mapping"
)

// Model is the base model for behavior-managed models. Its timestamps are set
// by the timestampable listener instead of GORM's own tracking.
type Model struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"autoCreateTime:false" behavior:"timestampable:on=create"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" behavior:"timestampable:on=update"`
}

// SoftDeleteModel is a Model whose deletes only stamp DeletedAt.
type SoftDeleteModel struct {
	Model
	mapping.SoftDeleteable `gorm:"-" behavior:"softdeleteable:field=DeletedAt"`
	DeletedAt              *time.Time `gorm:"index"`
}

// IsDeleted reports whether the model has been soft deleted.
func (m *SoftDeleteModel) IsDeleted() bool {
	return m.DeletedAt != nil && !m.DeletedAt.After(time.Now())
}
