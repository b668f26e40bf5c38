package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingMaterializer = errors.New("reminder materializer is required")
	noOpLogger             = zap.NewNop()

	// ErrDuplicateLabel indicates that a rule already exists for the label.
	ErrDuplicateLabel = errors.New("rules: rule already exists for label")
	// ErrRuleNotFound indicates that no rule exists for the identifier and owner.
	ErrRuleNotFound = errors.New("rules: rule not found")
)

const (
	opServiceNew = "rules.service.new"
	opList       = "rules.list"
	opCreate     = "rules.create"
	opUpdate     = "rules.update"
	opDelete     = "rules.delete"
	opResync     = "rules.resync_events"
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

// Materializer recomputes the persisted reminder jobs derived from an event.
type Materializer interface {
	GenerateJobs(ctx context.Context, event events.Event) (int, error)
}

// ServiceConfig describes the dependencies for reminder rule management.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   ids.Provider
	Materializer Materializer
	Logger       *zap.Logger
}

// Service manages label-based reminder rules. Rule mutations resync the jobs
// of every event carrying an affected label, best-effort.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	idProvider   ids.Provider
	materializer Materializer
	logger       *zap.Logger
}

// NewService constructs the rule service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Materializer == nil {
		return nil, newServiceError(opServiceNew, "missing_materializer", errMissingMaterializer)
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
		db:           cfg.Database,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		materializer: cfg.Materializer,
		logger:       logger,
	}, nil
}

// List returns all rules for the user, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Rule, error) {
	var ruleRows []Rule
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_s DESC").
		Find(&ruleRows).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return ruleRows, nil
}

// Create persists a new rule. A second rule for the same label is rejected.
func (s *Service) Create(ctx context.Context, userID string, request CreateRequest) (Rule, error) {
	if err := ValidateOffsets(request.OffsetsInDays); err != nil {
		return Rule{}, err
	}

	var existing Rule
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND label = ?", userID, request.Label.String()).
		Take(&existing).Error
	if err == nil {
		return Rule{}, ErrDuplicateLabel
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opCreate, "lookup_failed", err, zap.String("user_id", userID))
		return Rule{}, newServiceError(opCreate, "lookup_failed", err)
	}

	ruleID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID))
		return Rule{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	rule := Rule{
		RuleID:           ruleID,
		UserID:           userID,
		Label:            request.Label.String(),
		OffsetsInDays:    request.OffsetsInDays,
		DefaultTime:      request.DefaultTime,
		AvoidWeekends:    request.AvoidWeekends,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return Rule{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.resyncEvents(ctx, userID, rule.Label)
	return rule, nil
}

// Update applies a partial mutation to the rule and resyncs events carrying
// the old and, when renamed, the new label.
func (s *Service) Update(ctx context.Context, userID string, ruleID string, request UpdateRequest) (Rule, error) {
	var rule Rule
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND rule_id = ?", userID, ruleID).
		Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rule{}, ErrRuleNotFound
	}
	if err != nil {
		s.logError(opUpdate, "lookup_failed", err, zap.String("user_id", userID), zap.String("rule_id", ruleID))
		return Rule{}, newServiceError(opUpdate, "lookup_failed", err)
	}

	labelsToResync := []string{rule.Label}
	if request.Label != nil && request.Label.String() != rule.Label {
		var clash Rule
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND label = ?", userID, request.Label.String()).
			Take(&clash).Error
		if err == nil {
			return Rule{}, ErrDuplicateLabel
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opUpdate, "lookup_failed", err, zap.String("user_id", userID))
			return Rule{}, newServiceError(opUpdate, "lookup_failed", err)
		}
		rule.Label = request.Label.String()
		labelsToResync = append(labelsToResync, rule.Label)
	}
	if request.OffsetsInDays != nil {
		if err := ValidateOffsets(request.OffsetsInDays); err != nil {
			return Rule{}, err
		}
		rule.OffsetsInDays = request.OffsetsInDays
	}
	if request.DefaultTime != nil {
		rule.DefaultTime = *request.DefaultTime
	}
	if request.AvoidWeekends != nil {
		rule.AvoidWeekends = *request.AvoidWeekends
	}

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		s.logError(opUpdate, "save_failed", err, zap.String("user_id", userID), zap.String("rule_id", ruleID))
		return Rule{}, newServiceError(opUpdate, "save_failed", err)
	}

	s.resyncEvents(ctx, userID, labelsToResync...)
	return rule, nil
}

// Delete removes the rule and resyncs events of that label back onto the
// default rule.
func (s *Service) Delete(ctx context.Context, userID string, ruleID string) error {
	var rule Rule
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND rule_id = ?", userID, ruleID).
		Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRuleNotFound
	}
	if err != nil {
		s.logError(opDelete, "lookup_failed", err, zap.String("user_id", userID), zap.String("rule_id", ruleID))
		return newServiceError(opDelete, "lookup_failed", err)
	}

	if err := s.db.WithContext(ctx).Delete(&rule).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("user_id", userID), zap.String("rule_id", ruleID))
		return newServiceError(opDelete, "delete_failed", err)
	}

	s.resyncEvents(ctx, userID, rule.Label)
	return nil
}

// resyncEvents regenerates jobs for every event carrying one of the labels.
// Best-effort: failures are logged and never fail the rule mutation.
func (s *Service) resyncEvents(ctx context.Context, userID string, labels ...string) {
	var affected []events.Event
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND label IN ?", userID, labels).
		Find(&affected).Error; err != nil {
		s.logger.Warn("event resync query failed",
			zap.String("operation", opResync),
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	for _, event := range affected {
		if _, err := s.materializer.GenerateJobs(ctx, event); err != nil {
			s.logger.Warn("event resync regeneration failed",
				zap.String("operation", opResync),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}
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
	s.logger.Error("rules service error", attrs...)
}
