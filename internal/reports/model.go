package reports

import "time"

// ReportDownload is one line of the download audit log.
type ReportDownload struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	ReportName   string    `gorm:"size:190;not null" json:"reportName"`
	DownloadedAt time.Time `gorm:"not null;index" json:"downloadedAt"`
}

// TableName provides the explicit table binding for GORM.
func (ReportDownload) TableName() string {
	return "report_downloads"
}
