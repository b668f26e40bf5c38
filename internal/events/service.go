package events

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
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingMaterializer = errors.New("reminder materializer is required")
	noOpLogger             = zap.NewNop()

	// ErrEventNotFound indicates that no event exists for the identifier and owner.
	ErrEventNotFound = errors.New("events: event not found")
)

const (
	opServiceNew = "events.service.new"
	opCreate     = "events.create"
	opUpdate     = "events.update"
	opDelete     = "events.delete"
	opGet        = "events.get"
	opBulkCreate = "events.bulk_create"
	opRegenerate = "events.regenerate_jobs"
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
	GenerateJobs(ctx context.Context, event Event) (int, error)
	DeleteJobsForEvent(ctx context.Context, eventID string) error
}

// JobsOutcome reports the best-effort reminder regeneration attached to an
// event write. A non-nil Warning never fails the parent mutation; callers log
// it and move on.
type JobsOutcome struct {
	Count   int
	Warning error
}

// ServiceConfig describes the dependencies for event management.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	IDProvider   ids.Provider
	Materializer Materializer
	Logger       *zap.Logger
}

// Service manages calendar event CRUD and keeps derived reminder jobs in sync.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	idProvider   ids.Provider
	materializer Materializer
	logger       *zap.Logger
}

// NewService constructs the event service.
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

// Create persists a new event and regenerates its reminder jobs best-effort.
func (s *Service) Create(ctx context.Context, userID string, request CreateRequest) (Event, JobsOutcome, error) {
	if request.Title == "" {
		return Event{}, JobsOutcome{}, ErrInvalidTitle
	}

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID))
		return Event{}, JobsOutcome{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	event := Event{
		EventID:          eventID,
		UserID:           userID,
		Title:            request.Title,
		Date:             request.Date.String(),
		Time:             clockTimePtr(request.Time),
		Label:            request.Label,
		Notes:            request.Notes,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", userID))
		return Event{}, JobsOutcome{}, newServiceError(opCreate, "insert_failed", err)
	}

	return event, s.regenerateJobs(ctx, event), nil
}

// Get returns the event owned by the given user.
func (s *Service) Get(ctx context.Context, userID string, eventID EventID) (Event, error) {
	var event Event
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ?", userID, eventID.String()).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Event{}, ErrEventNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err,
			zap.String("user_id", userID),
			zap.String("event_id", eventID.String()))
		return Event{}, newServiceError(opGet, "query_failed", err)
	}
	return event, nil
}

// Update applies a partial mutation to the event and regenerates its jobs.
func (s *Service) Update(ctx context.Context, userID string, eventID EventID, request UpdateRequest) (Event, JobsOutcome, error) {
	event, err := s.Get(ctx, userID, eventID)
	if err != nil {
		return Event{}, JobsOutcome{}, err
	}

	if request.Title != nil {
		if *request.Title == "" {
			return Event{}, JobsOutcome{}, ErrInvalidTitle
		}
		event.Title = *request.Title
	}
	if request.Date != nil {
		event.Date = request.Date.String()
	}
	if request.ClearTime {
		event.Time = nil
	} else if request.Time != nil {
		event.Time = clockTimePtr(request.Time)
	}
	if request.ClearLabel {
		event.Label = nil
	} else if request.Label != nil {
		event.Label = request.Label
	}
	if request.Notes != nil {
		event.Notes = request.Notes
	}
	if request.Completed != nil {
		event.Completed = *request.Completed
	}
	event.UpdatedAtSeconds = s.clock().UTC().Unix()

	if err := s.db.WithContext(ctx).Save(&event).Error; err != nil {
		s.logError(opUpdate, "save_failed", err,
			zap.String("user_id", userID),
			zap.String("event_id", eventID.String()))
		return Event{}, JobsOutcome{}, newServiceError(opUpdate, "save_failed", err)
	}

	return event, s.regenerateJobs(ctx, event), nil
}

// Delete removes the event and cascades to its reminder jobs.
func (s *Service) Delete(ctx context.Context, userID string, eventID EventID) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND event_id = ?", userID, eventID.String()).
		Delete(&Event{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("user_id", userID),
			zap.String("event_id", eventID.String()))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}

	if err := s.materializer.DeleteJobsForEvent(ctx, eventID.String()); err != nil {
		s.logError(opDelete, "job_cascade_failed", err,
			zap.String("user_id", userID),
			zap.String("event_id", eventID.String()))
	}
	return nil
}

// BulkRow reports the per-row outcome of a bulk create.
type BulkRow struct {
	Index int
	Event Event
	Err   error
}

// BulkCreate persists a batch of events, collecting per-row failures instead
// of aborting the batch.
func (s *Service) BulkCreate(ctx context.Context, userID string, requests []CreateRequest) []BulkRow {
	rows := make([]BulkRow, 0, len(requests))
	for index, request := range requests {
		event, _, err := s.Create(ctx, userID, request)
		if err != nil {
			s.logError(opBulkCreate, "row_failed", err,
				zap.String("user_id", userID),
				zap.Int("row", index))
		}
		rows = append(rows, BulkRow{Index: index, Event: event, Err: err})
	}
	return rows
}

// regenerateJobs recomputes the event's reminder jobs. Failures are demoted to
// a warning so they never surface as an event-save failure.
func (s *Service) regenerateJobs(ctx context.Context, event Event) JobsOutcome {
	count, err := s.materializer.GenerateJobs(ctx, event)
	if err != nil {
		s.logger.Warn("reminder job regeneration failed",
			zap.String("operation", opRegenerate),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return JobsOutcome{Warning: err}
	}
	return JobsOutcome{Count: count}
}

func clockTimePtr(value *ClockTime) *string {
	if value == nil {
		return nil
	}
	raw := value.String()
	return &raw
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
	s.logger.Error("events service error", attrs...)
}
