package models

import (
	"time"
)

// Event represents a stored domain event. ID is the global store position.
type Event struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"`
	AggregateID   string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_events_aggregate_version,priority:1" json:"aggregate_id"`
	AggregateType string     `gorm:"type:varchar(64);index" json:"aggregate_type"`
	EventType     string     `gorm:"type:varchar(128);not null;index" json:"event_type"`
	Version       int        `gorm:"not null;uniqueIndex:idx_events_aggregate_version,priority:2" json:"version"`
	Data          []byte     `gorm:"type:jsonb;not null" json:"data"`
	Metadata      []byte     `gorm:"type:jsonb;not null" json:"metadata"`
	Timestamp     time.Time  `gorm:"not null" json:"timestamp"`
	Published     bool       `gorm:"not null;default:false;index" json:"published"`
	PublishedAt   *time.Time `json:"published_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}

// Snapshot stores the materialised state of an aggregate at a version.
type Snapshot struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AggregateID   string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_snapshots_aggregate_version,priority:1" json:"aggregate_id"`
	AggregateType string    `gorm:"type:varchar(64)" json:"aggregate_type"`
	Version       int       `gorm:"not null;uniqueIndex:idx_snapshots_aggregate_version,priority:2" json:"version"`
	State         []byte    `gorm:"type:jsonb;not null" json:"state"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Snapshot) TableName() string {
	return "snapshots"
}

// All returns every model managed by migrations.
func All() []interface{} {
	return []interface{}{&Event{}, &Snapshot{}}
}
