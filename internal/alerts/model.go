package alerts

import "time"

// Alert is a manager-to-floor broadcast message.
type Alert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SenderID  uint      `gorm:"not null;index" json:"senderId"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// OperatorAlertStatus tracks whether a given operator has seen a given alert.
// One row is fanned out per operator at alert creation.
type OperatorAlertStatus struct {
	ID         uint `gorm:"primaryKey"`
	OperatorID uint `gorm:"not null;index:idx_alert_status_operator_read,priority:1"`
	AlertID    uint `gorm:"not null;index"`
	Read       bool `gorm:"not null;default:false;index:idx_alert_status_operator_read,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (OperatorAlertStatus) TableName() string {
	return "operator_alert_statuses"
}
