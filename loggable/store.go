package loggable

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/shaurya/behave/event"
)

// Store persists log entries. om is the internal session of the running
// statement; stores backed by the same database write through it so entries
// commit or roll back with the change they record.
type Store interface {
	NextVersion(ctx context.Context, om *gorm.DB, class, id string) (int, error)
	Save(ctx context.Context, om *gorm.DB, entry *LogEntry) error
	// Entries returns the entries of one object, newest first.
	Entries(ctx context.Context, class, id string) ([]LogEntry, error)
}

// GormStore keeps log entries in a table of the model database.
type GormStore struct {
	db    *gorm.DB
	table string
}

var _ Store = (*GormStore)(nil)

// NewGormStore returns a store writing to table, DefaultTable when empty.
func NewGormStore(db *gorm.DB, table string) *GormStore {
	if table == "" {
		table = DefaultTable
	}
	return &GormStore{db: db, table: table}
}

func (s *GormStore) session(ctx context.Context, om *gorm.DB) *gorm.DB {
	if om == nil {
		om = event.Internal(s.db)
	}
	return om.WithContext(ctx).Table(s.table)
}

func (s *GormStore) NextVersion(ctx context.Context, om *gorm.DB, class, id string) (int, error) {
	var current int
	err := s.session(ctx, om).
		Select("COALESCE(MAX(version), 0)").
		Where("object_class = ? AND object_id = ?", class, id).
		Scan(&current).Error
	if err != nil {
		return 0, fmt.Errorf("loggable: read version of %s#%s: %w", class, id, err)
	}
	return current + 1, nil
}

func (s *GormStore) Save(ctx context.Context, om *gorm.DB, entry *LogEntry) error {
	if err := s.session(ctx, om).Create(entry).Error; err != nil {
		return fmt.Errorf("loggable: save entry of %s#%s: %w", entry.ObjectClass, entry.ObjectID, err)
	}
	return nil
}

func (s *GormStore) Entries(ctx context.Context, class, id string) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.session(ctx, nil).
		Where("object_class = ? AND object_id = ?", class, id).
		Order("version DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("loggable: list entries of %s#%s: %w", class, id, err)
	}
	return entries, nil
}
