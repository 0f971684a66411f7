// Package domain contains the monthly usage counter model.
package domain

import (
	"time"
)

// EventTypeTokens accumulates tokens debited by metered actions.
const EventTypeTokens = "tokens"

// Counter is the running total for one workspace, month and event type.
// Version increases on every increment.
type Counter struct {
	WorkspaceID string    `gorm:"column:workspace_id;primaryKey"`
	YearMonth   string    `gorm:"column:year_month;primaryKey"`
	EventType   string    `gorm:"column:event_type;primaryKey"`
	Total       int64     `gorm:"column:total;not null;default:0"`
	Version     int64     `gorm:"column:version;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "usage_counters" }

// YearMonth is the UTC calendar month key, e.g. 2025-04.
func YearMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}
