package rules

import (
	"errors"
	"fmt"
	"strings"
)

const maxLabelLength = 190

var (
	// ErrInvalidLabel indicates that a rule label is empty or exceeds storage bounds.
	ErrInvalidLabel = errors.New("rules: invalid label")
	// ErrInvalidOffsets indicates that an offset list is empty or carries a negative entry.
	ErrInvalidOffsets = errors.New("rules: invalid offsets")
)

// Label represents a validated reminder rule label.
type Label string

// NewLabel validates raw input and returns a Label.
func NewLabel(rawInput string) (Label, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLabel)
	}
	if len(trimmed) > maxLabelLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidLabel, maxLabelLength)
	}
	return Label(trimmed), nil
}

// String returns the underlying label value.
func (l Label) String() string {
	return string(l)
}

// ValidateOffsets checks that every offset is a non-negative day count.
func ValidateOffsets(offsets []int) error {
	if len(offsets) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidOffsets)
	}
	for _, offset := range offsets {
		if offset < 0 {
			return fmt.Errorf("%w: negative offset %d", ErrInvalidOffsets, offset)
		}
	}
	return nil
}

// Rule maps an event label to the reminder offsets applied to matching events.
// One rule exists per (user, label) pair.
type Rule struct {
	RuleID           string `gorm:"column:rule_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_rules_user_label,priority:1"`
	Label            string `gorm:"column:label;size:190;not null;uniqueIndex:idx_rules_user_label,priority:2"`
	OffsetsInDays    []int  `gorm:"column:offsets_in_days;serializer:json;not null"`
	DefaultTime      string `gorm:"column:default_time;size:5;not null"`
	AvoidWeekends    bool   `gorm:"column:avoid_weekends;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Rule) TableName() string {
	return "reminder_rules"
}

// CreateRequest describes the validated input for a new rule.
type CreateRequest struct {
	Label         Label
	OffsetsInDays []int
	DefaultTime   string
	AvoidWeekends bool
}

// UpdateRequest describes a partial rule mutation. Nil fields are untouched.
type UpdateRequest struct {
	Label         *Label
	OffsetsInDays []int
	DefaultTime   *string
	AvoidWeekends *bool
}
