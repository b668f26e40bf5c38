package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingEndpoint   = errors.New("push: endpoint is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "push.service.new"
	opSubscribe   = "push.subscribe"
	opUnsubscribe = "push.unsubscribe"
	opListForUser = "push.list_for_user"
	opDelete      = "push.delete"
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

// ServiceConfig describes the dependencies for subscription management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages browser push subscription registration and removal.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the subscription service.
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

// Subscribe registers the endpoint for the user. Re-subscribing an existing
// (user, endpoint) pair returns the stored record without duplicating it.
func (s *Service) Subscribe(ctx context.Context, userID, endpoint, p256dh, auth string) (Subscription, bool, error) {
	if endpoint == "" {
		return Subscription{}, false, errMissingEndpoint
	}

	var existing Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Take(&existing).Error
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opSubscribe, "lookup_failed", err, zap.String("user_id", userID))
		return Subscription{}, false, newServiceError(opSubscribe, "lookup_failed", err)
	}

	subscriptionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubscribe, "id_generation_failed", err, zap.String("user_id", userID))
		return Subscription{}, false, newServiceError(opSubscribe, "id_generation_failed", err)
	}

	subscription := Subscription{
		SubscriptionID:   subscriptionID,
		UserID:           userID,
		Endpoint:         endpoint,
		P256dh:           p256dh,
		Auth:             auth,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&subscription).Error; err != nil {
		s.logError(opSubscribe, "insert_failed", err, zap.String("user_id", userID))
		return Subscription{}, false, newServiceError(opSubscribe, "insert_failed", err)
	}
	return subscription, true, nil
}

// Unsubscribe removes the user's registration for the endpoint. Removing an
// unknown endpoint is a no-op.
func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if endpoint == "" {
		return errMissingEndpoint
	}
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&Subscription{}).Error; err != nil {
		s.logError(opUnsubscribe, "delete_failed", err, zap.String("user_id", userID))
		return newServiceError(opUnsubscribe, "delete_failed", err)
	}
	return nil
}

// ListForUser returns every subscription registered by the user.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Subscription, error) {
	var subscriptions []Subscription
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&subscriptions).Error; err != nil {
		s.logError(opListForUser, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListForUser, "query_failed", err)
	}
	return subscriptions, nil
}

// Delete removes a subscription by identifier. Deleting an already-deleted
// subscription is a no-op.
func (s *Service) Delete(ctx context.Context, subscriptionID string) error {
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Delete(&Subscription{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("subscription_id", subscriptionID))
		return newServiceError(opDelete, "delete_failed", err)
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
	s.logger.Error("push service error", attrs...)
}
