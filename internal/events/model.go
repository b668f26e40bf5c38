package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEventID indicates that an event identifier is empty or exceeds storage bounds.
	ErrInvalidEventID = errors.New("events: invalid event id")
	// ErrInvalidDate indicates that a calendar date is not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("events: invalid date")
	// ErrInvalidClockTime indicates that a wall-clock time is not in HH:mm form.
	ErrInvalidClockTime = errors.New("events: invalid time")
	// ErrInvalidTitle indicates that an event title is empty.
	ErrInvalidTitle = errors.New("events: invalid title")
)

// EventID represents a validated event identifier.
type EventID string

// NewEventID validates raw input and returns an EventID.
func NewEventID(rawInput string) (EventID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEventID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEventID, maxIdentifierLength)
	}
	return EventID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EventID) String() string {
	return string(id)
}

// Date represents a validated calendar day in YYYY-MM-DD form, no timezone.
type Date string

// NewDate validates raw input and returns a Date.
func NewDate(rawInput string) (Date, error) {
	trimmed := strings.TrimSpace(rawInput)
	if _, err := time.Parse("2006-01-02", trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, rawInput)
	}
	return Date(trimmed), nil
}

// String returns the underlying YYYY-MM-DD value.
func (d Date) String() string {
	return string(d)
}

// ClockTime represents a validated wall-clock time in HH:mm form.
type ClockTime string

// NewClockTime validates raw input and returns a ClockTime.
func NewClockTime(rawInput string) (ClockTime, error) {
	trimmed := strings.TrimSpace(rawInput)
	if _, err := time.Parse("15:04", trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidClockTime, rawInput)
	}
	return ClockTime(trimmed), nil
}

// String returns the underlying HH:mm value.
func (t ClockTime) String() string {
	return string(t)
}

// Event models a dated calendar entry owned by exactly one user.
type Event struct {
	EventID          string  `gorm:"column:event_id;primaryKey;size:190;not null"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index:idx_events_user_date,priority:1"`
	Title            string  `gorm:"column:title;size:190;not null"`
	Date             string  `gorm:"column:date;size:10;not null;index:idx_events_user_date,priority:2"`
	Time             *string `gorm:"column:time;size:5"`
	Label            *string `gorm:"column:label;size:190"`
	Notes            *string `gorm:"column:notes;type:text"`
	Completed        bool    `gorm:"column:completed;not null;default:false"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "events"
}

// CreateRequest describes the validated input for a new event.
type CreateRequest struct {
	Title string
	Date  Date
	Time  *ClockTime
	Label *string
	Notes *string
}

// UpdateRequest describes a partial event mutation. Nil fields are untouched.
type UpdateRequest struct {
	Title      *string
	Date       *Date
	Time       *ClockTime
	ClearTime  bool
	Label      *string
	ClearLabel bool
	Notes      *string
	Completed  *bool
}
