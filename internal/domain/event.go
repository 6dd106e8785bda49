package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the delivery lifecycle state of a captured event.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusAbandoned Status = "ABANDONED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether the scheduler may still act on the event.
// ABANDONED is terminal only for automatic retry; ForceRetry can re-arm it.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusAbandoned
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// MaxValueLength bounds the tag value column; RC522-class tags carry far less.
const MaxValueLength = 255

// Event is one captured tag read plus its delivery state.
type Event struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	DeviceID      string  `gorm:"type:varchar(64);not null"`
	Value         string  `gorm:"type:varchar(255);not null"`
	Status        Status  `gorm:"type:varchar(20);not null;default:PENDING"`
	AttemptCount  int     `gorm:"not null;default:0"`
	NextAttemptAt *time.Time
	LastError     *string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.DeviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if e.Value == "" {
		return fmt.Errorf("%w: value is required", ErrValidation)
	}
	if valueLen := len([]rune(e.Value)); valueLen > MaxValueLength {
		return fmt.Errorf("%w: value exceeds %d characters (got %d)", ErrValidation, MaxValueLength, valueLen)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, e.Status)
	}
	return nil
}

// Age is the time elapsed since capture, used for retry-horizon checks.
func (e *Event) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
