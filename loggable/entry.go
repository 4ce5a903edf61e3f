package loggable

import (
	"context"
	"time"
)

// Log entry actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// DefaultTable holds the log entries of every loggable model.
const DefaultTable = "ext_log_entries"

// LogEntry is one recorded change of one object.
type LogEntry struct {
	ID          uint           `gorm:"primarykey" bson:"-" json:"id"`
	Action      string         `gorm:"size:8;not null" bson:"action" json:"action"`
	LoggedAt    time.Time      `gorm:"not null;index:ext_log_entries_date_idx" bson:"logged_at" json:"logged_at"`
	ObjectID    string         `gorm:"size:64;index:ext_log_entries_lookup_idx,priority:2;uniqueIndex:ext_log_entries_version_idx,priority:2" bson:"object_id" json:"object_id"`
	ObjectClass string         `gorm:"size:191;not null;index:ext_log_entries_lookup_idx,priority:1;uniqueIndex:ext_log_entries_version_idx,priority:1" bson:"object_class" json:"object_class"`
	Version     int            `gorm:"not null;uniqueIndex:ext_log_entries_version_idx,priority:3" bson:"version" json:"version"`
	Data        map[string]any `gorm:"serializer:json" bson:"data,omitempty" json:"data,omitempty"`
	Username    string         `gorm:"size:191" bson:"username,omitempty" json:"username,omitempty"`
}

func (LogEntry) TableName() string { return DefaultTable }

type usernameKey struct{}

// WithUsername returns a context whose changes are logged as username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

// UsernameFromContext returns the username set by WithUsername.
func UsernameFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	u, ok := ctx.Value(usernameKey{}).(string)
	return u, ok && u != ""
}
