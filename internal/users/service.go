package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/ids"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrEmailTaken indicates that an account already exists for the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email/password login attempt.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates that no account exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

const (
	opServiceNew     = "users.service.new"
	opRegister       = "users.register"
	opAuthenticate   = "users.authenticate"
	opGetSettings    = "users.get_settings"
	opUpdateSettings = "users.update_settings"

	bcryptCost = 10
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages account registration, authentication and settings.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Register creates a new account for the email/password pair.
func (s *Service) Register(ctx context.Context, email Email, password string) (User, error) {
	if err := ValidatePassword(password); err != nil {
		return User{}, err
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", email.String()).Take(&existing).Error
	if err == nil {
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "lookup_failed", err, zap.String("email", email.String()))
		return User{}, newServiceError(opRegister, "lookup_failed", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		s.logError(opRegister, "hash_failed", err)
		return User{}, newServiceError(opRegister, "hash_failed", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return User{}, newServiceError(opRegister, "id_generation_failed", err)
	}

	account := User{
		UserID:           userID,
		Email:            email.String(),
		PasswordHash:     string(hashed),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("email", email.String()))
		return User{}, newServiceError(opRegister, "insert_failed", err)
	}

	return account, nil
}

// Authenticate verifies the email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email Email, password string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("email = ?", email.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err, zap.String("email", email.String()))
		return User{}, newServiceError(opAuthenticate, "lookup_failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return account, nil
}

// GetSettings returns the stored preferences for the user.
func (s *Service) GetSettings(ctx context.Context, userID string) (Settings, error) {
	var account User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Settings{}, ErrUserNotFound
	}
	if err != nil {
		s.logError(opGetSettings, "lookup_failed", err, zap.String("user_id", userID))
		return Settings{}, newServiceError(opGetSettings, "lookup_failed", err)
	}
	return Settings{HideCompletedReminders: account.HideCompletedReminders}, nil
}

// UpdateSettings persists the user's display preferences.
func (s *Service) UpdateSettings(ctx context.Context, userID string, settings Settings) error {
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", userID).
		Update("hide_completed_reminders", settings.HideCompletedReminders)
	if result.Error != nil {
		s.logError(opUpdateSettings, "update_failed", result.Error, zap.String("user_id", userID))
		return newServiceError(opUpdateSettings, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
