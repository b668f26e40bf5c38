package users

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength = 190
	minPasswordLength   = 6
)

var (
	// ErrInvalidEmail indicates that an email address is empty or malformed.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrInvalidPassword indicates that a password does not meet the minimum length.
	ErrInvalidPassword = errors.New("users: invalid password")
)

// Email represents a validated email address.
type Email string

// NewEmail validates raw input and returns an Email.
func NewEmail(rawInput string) (Email, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEmail, maxIdentifierLength)
	}
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, rawInput)
	}
	return Email(trimmed), nil
}

// String returns the underlying address.
func (e Email) String() string {
	return string(e)
}

// ValidatePassword checks the plaintext password against the minimum policy.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: shorter than %d characters", ErrInvalidPassword, minPasswordLength)
	}
	return nil
}

// User models a registered account.
type User struct {
	UserID                 string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email                  string `gorm:"column:email;size:190;not null;uniqueIndex:idx_users_email"`
	PasswordHash           string `gorm:"column:password_hash;size:190;not null"`
	HideCompletedReminders bool   `gorm:"column:hide_completed_reminders;not null;default:false"`
	CreatedAtSeconds       int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Settings captures the per-user display preferences.
type Settings struct {
	HideCompletedReminders bool
}
