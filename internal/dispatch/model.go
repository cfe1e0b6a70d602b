package dispatch

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Dispatch statuses for an operator product update.
const (
	StatusPending    = "Pending"
	StatusInTransit  = "In Transit"
	StatusDispatched = "Dispatched"
)

// ProcessSteps maps a process step name to whether the operator completed it.
// Stored as a JSON text column.
type ProcessSteps map[string]bool

// Value implements driver.Valuer.
func (p ProcessSteps) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (p *ProcessSteps) Scan(value any) error {
	if value == nil {
		*p = ProcessSteps{}
		return nil
	}
	switch raw := value.(type) {
	case []byte:
		return json.Unmarshal(raw, p)
	case string:
		return json.Unmarshal([]byte(raw), p)
	default:
		return fmt.Errorf("dispatch: unsupported process steps column type %T", value)
	}
}

// OperatorProductUpdate is one operator submission about a product's dispatch
// progress. Rows are created once and never updated.
type OperatorProductUpdate struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	OperatorID     uint         `gorm:"not null;index" json:"operatorId"`
	Product        string       `gorm:"size:190;not null" json:"product"`
	ProcessSteps   ProcessSteps `gorm:"type:text;not null" json:"processSteps"`
	DispatchStatus string       `gorm:"size:32;not null;index" json:"dispatchStatus"`
	DispatchedCost float64      `gorm:"not null;default:0" json:"dispatchedCost"`
	CreatedAt      time.Time    `gorm:"not null;index" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (OperatorProductUpdate) TableName() string {
	return "operator_product_updates"
}

// DailyDispatchStats holds at most one row per calendar day. Increments go
// through an atomic upsert, never read-modify-write.
type DailyDispatchStats struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Date        time.Time `gorm:"uniqueIndex;not null" json:"date"`
	TotalAmount float64   `gorm:"not null;default:0" json:"totalAmount"`
	TotalCount  int64     `gorm:"not null;default:0" json:"totalCount"`
}

// TableName provides the explicit table binding for GORM.
func (DailyDispatchStats) TableName() string {
	return "daily_dispatch_stats"
}

// ValidStatus reports whether the submitted dispatch status is recognized.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusInTransit, StatusDispatched:
		return true
	default:
		return false
	}
}

// ErrInvalidStatus indicates an unrecognized dispatch status value.
var ErrInvalidStatus = errors.New("dispatch: invalid dispatch status")
