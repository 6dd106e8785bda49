package domain

import "time"

// DeliveryAttempt records a single webhook delivery attempt for an event.
type DeliveryAttempt struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	EventID       int64   `gorm:"not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}
