package auth

import "time"

// User is a manager-side account, identified by email.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:190;uniqueIndex;not null" json:"email"`
	Username  string    `gorm:"size:190;not null;default:''" json:"username"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Operator is a floor-side account, identified by phone number. Username and
// profile image are empty until the operator completes first-time setup.
type Operator struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Phone        string    `gorm:"size:32;uniqueIndex;not null" json:"phone"`
	Username     string    `gorm:"size:190;not null;default:''" json:"username"`
	ProfileImage string    `gorm:"type:text;not null;default:''" json:"profileImage"`
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Operator) TableName() string {
	return "operators"
}

// OTP is a single-use expiring login code for a user. The code itself is
// stored bcrypt-hashed; verification compares against every live candidate.
type OTP struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null;index"`
	CodeHash  string    `gorm:"size:190;not null"`
	Used      bool      `gorm:"not null;default:false"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName provides the explicit table binding for GORM.
func (OTP) TableName() string {
	return "otps"
}

// OperatorOTP is the operator-side counterpart of OTP.
type OperatorOTP struct {
	ID         uint      `gorm:"primaryKey"`
	OperatorID uint      `gorm:"not null;index"`
	CodeHash   string    `gorm:"size:190;not null"`
	Used       bool      `gorm:"not null;default:false"`
	ExpiresAt  time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName provides the explicit table binding for GORM.
func (OperatorOTP) TableName() string {
	return "operator_otps"
}
