// Package audit records who triggered which maintenance action through the
// admin API.
package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Outcomes of an audited request.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Event is one audited admin request.
type Event struct {
	ID            string      `gorm:"primaryKey;column:id;type:varchar(36)"`
	Actor         string      `gorm:"column:actor;index:idx_admin_audit_actor_time,priority:1;not null"`
	Groups        StringSlice `gorm:"column:actor_groups;type:text"`
	Action        string      `gorm:"column:action;index:idx_admin_audit_action_time,priority:1;not null"`
	ResourceType  string      `gorm:"column:resource_type"`
	ResourceID    string      `gorm:"column:resource_id"`
	Method        string      `gorm:"column:method"`
	Path          string      `gorm:"column:path"`
	Outcome       string      `gorm:"column:outcome;not null"`
	StatusCode    int         `gorm:"column:status_code"`
	RequestID     string      `gorm:"column:request_id;index"`
	CorrelationID string      `gorm:"column:correlation_id"`
	DurationMs    int64       `gorm:"column:duration_ms"`
	Metadata      Metadata    `gorm:"column:metadata;type:text"`
	CreatedAt     time.Time   `gorm:"column:created_at;index:idx_admin_audit_actor_time,priority:2;index:idx_admin_audit_action_time,priority:2;index"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "admin_audit_events" }

// StringSlice is stored as a JSON array.
type StringSlice []string

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(value any) error {
	return scanJSON(value, s)
}

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return valueJSON(s)
}

// Metadata is stored as a JSON object.
type Metadata map[string]any

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	return scanJSON(value, m)
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return valueJSON(m)
}

func scanJSON(value, dst any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return json.Unmarshal(b, dst)
}

func valueJSON(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
