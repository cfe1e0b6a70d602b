package floor

import "time"

// Machine states as logged by operators.
const (
	StateOn          = "ON"
	StateOff         = "OFF"
	StateMaintenance = "MAINTENANCE"
	StateIdle        = "IDLE"
)

// TerminalMachineName is the last machine in the production line. Jobs logged
// against it in StateOn count toward the finished-product tally.
const TerminalMachineName = "CNC Finished"

// Machine is a piece of floor equipment. Status mirrors the state of the most
// recent job logged against it.
type Machine struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"size:190;uniqueIndex;not null" json:"name"`
	Status string `gorm:"size:32;not null" json:"status"`
}

// TableName provides the explicit table binding for GORM.
func (Machine) TableName() string {
	return "machines"
}

// Product identity is case-insensitive and trim-normalized: submissions that
// differ only in case or surrounding whitespace resolve to the same row.
type Product struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:190;not null;index" json:"name"`
}

// TableName provides the explicit table binding for GORM.
func (Product) TableName() string {
	return "products"
}

// Job is one append-only log entry: machine M ran product P in a given state
// and stage. Jobs are never updated or deleted; current machine status and
// current product stage are derived from the most recent job.
type Job struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MachineID uint      `gorm:"not null;index" json:"machineId"`
	ProductID uint      `gorm:"not null;index:idx_jobs_product_created,priority:1" json:"productId"`
	State     string    `gorm:"size:32;not null" json:"state"`
	Stage     string    `gorm:"size:190;not null" json:"stage"`
	CreatedAt time.Time `gorm:"not null;index:idx_jobs_product_created,priority:2" json:"createdAt"`

	Machine Machine `json:"machine"`
	Product Product `json:"product"`
}

// TableName provides the explicit table binding for GORM.
func (Job) TableName() string {
	return "jobs"
}

// ProductSnapshot is the view model broadcast on the products topic: the
// product together with its latest stage and state.
type ProductSnapshot struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Process string `json:"process"`
	Status  string `json:"status"`
}

// ProductCount is the view model broadcast on the product-counts topic: the
// running number of finished units for a product.
type ProductCount struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Count  int64  `json:"count"`
	Status string `json:"status"`
}
