package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/ids"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingLocation   = errors.New("calendar location is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew   = "reminders.service.new"
	opGenerateJobs = "reminders.generate_jobs"
	opDeleteJobs   = "reminders.delete_jobs"
	opPendingJobs  = "reminders.pending_jobs"
	opMarkSent     = "reminders.mark_sent"
	opExpandMonth  = "reminders.expand_month"
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

// ServiceConfig describes the dependencies for reminder materialization.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Location   *time.Location
	Logger     *zap.Logger
}

// Service materializes reminder jobs from events and rules, scans for due
// jobs, and projects virtual reminder occurrences for calendar reads.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	location   *time.Location
	logger     *zap.Logger
}

// NewService constructs the reminder service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Location == nil {
		return nil, newServiceError(opServiceNew, "missing_location", errMissingLocation)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		location:   cfg.Location,
		logger:     logger,
	}, nil
}

// GenerateJobs replaces the event's persisted jobs with the set derived from
// its current state. The delete and recreate run in one transaction, so a
// failed regeneration leaves the prior job set intact rather than an active
// event with no jobs. Completed events always end with zero jobs. Calling
// twice with unchanged inputs yields an identical job set.
func (s *Service) GenerateJobs(ctx context.Context, event events.Event) (int, error) {
	created := 0
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", event.EventID).Delete(&Job{}).Error; err != nil {
			return newServiceError(opGenerateJobs, "delete_failed", err)
		}

		if event.Completed {
			return nil
		}

		spec, err := s.resolveSpec(tx, event)
		if err != nil {
			return err
		}

		anchor, err := Anchor(event.Date, event.Time, spec, s.location)
		if err != nil {
			return newServiceError(opGenerateJobs, "invalid_anchor", err)
		}

		for _, fireTime := range FireTimes(anchor, spec) {
			jobID, err := s.idProvider.NewID()
			if err != nil {
				return newServiceError(opGenerateJobs, "id_generation_failed", err)
			}
			job := Job{
				JobID:           jobID,
				UserID:          event.UserID,
				EventID:         event.EventID,
				FireTimeSeconds: fireTime.Unix(),
				Sent:            false,
			}
			if err := tx.Create(&job).Error; err != nil {
				return newServiceError(opGenerateJobs, "insert_failed", err)
			}
			created++
		}
		return nil
	})
	if txErr != nil {
		s.logError(opGenerateJobs, "transaction_failed", txErr, zap.String("event_id", event.EventID))
		return 0, txErr
	}
	return created, nil
}

// DeleteJobsForEvent removes every job keyed by the event. Used by cascading
// event deletion; deleting an already-empty set is a no-op.
func (s *Service) DeleteJobsForEvent(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&Job{}).Error; err != nil {
		s.logError(opDeleteJobs, "delete_failed", err, zap.String("event_id", eventID))
		return newServiceError(opDeleteJobs, "delete_failed", err)
	}
	return nil
}

// resolveSpec returns the schedule for the event's label, falling back to the
// default rule when the event has no label or no rule matches.
func (s *Service) resolveSpec(tx *gorm.DB, event events.Event) (RuleSpec, error) {
	if event.Label == nil || *event.Label == "" {
		return DefaultRuleSpec(), nil
	}

	var rule rules.Rule
	err := tx.Where("user_id = ? AND label = ?", event.UserID, *event.Label).Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultRuleSpec(), nil
	}
	if err != nil {
		return RuleSpec{}, newServiceError(opGenerateJobs, "rule_lookup_failed", err)
	}
	return SpecFromRule(rule), nil
}

// PendingJob is a due job enriched with its parent event and the owning
// user's contact address.
type PendingJob struct {
	Job       Job
	Event     events.Event
	UserEmail string
}

// PendingJobs returns the not-yet-sent jobs whose fire time has passed,
// oldest first. The result is a snapshot: jobs becoming due after the scan
// starts are picked up on the next cycle.
func (s *Service) PendingJobs(ctx context.Context, now time.Time) ([]PendingJob, error) {
	var jobs []Job
	if err := s.db.WithContext(ctx).
		Where("sent = ? AND fire_time_s <= ?", false, now.Unix()).
		Order("fire_time_s ASC").
		Find(&jobs).Error; err != nil {
		s.logError(opPendingJobs, "query_failed", err)
		return nil, newServiceError(opPendingJobs, "query_failed", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	eventIDs := make([]string, 0, len(jobs))
	userIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		eventIDs = append(eventIDs, job.EventID)
		userIDs = append(userIDs, job.UserID)
	}

	var eventRows []events.Event
	if err := s.db.WithContext(ctx).Where("event_id IN ?", eventIDs).Find(&eventRows).Error; err != nil {
		s.logError(opPendingJobs, "event_query_failed", err)
		return nil, newServiceError(opPendingJobs, "event_query_failed", err)
	}
	eventsByID := make(map[string]events.Event, len(eventRows))
	for _, row := range eventRows {
		eventsByID[row.EventID] = row
	}

	var userRows []users.User
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&userRows).Error; err != nil {
		s.logError(opPendingJobs, "user_query_failed", err)
		return nil, newServiceError(opPendingJobs, "user_query_failed", err)
	}
	emailsByID := make(map[string]string, len(userRows))
	for _, row := range userRows {
		emailsByID[row.UserID] = row.Email
	}

	pending := make([]PendingJob, 0, len(jobs))
	for _, job := range jobs {
		event, ok := eventsByID[job.EventID]
		if !ok {
			// Parent event vanished between scan and enrichment; the job is
			// orphaned and will be swept by the cleanup migration.
			continue
		}
		pending = append(pending, PendingJob{
			Job:       job,
			Event:     event,
			UserEmail: emailsByID[job.UserID],
		})
	}
	return pending, nil
}

// MarkSent flags the job as dispatched. Marking an already-sent or deleted
// job is a no-op.
func (s *Service) MarkSent(ctx context.Context, jobID string) error {
	if err := s.db.WithContext(ctx).Model(&Job{}).
		Where("job_id = ?", jobID).
		Update("sent", true).Error; err != nil {
		s.logError(opMarkSent, "update_failed", err, zap.String("job_id", jobID))
		return newServiceError(opMarkSent, "update_failed", err)
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
	s.logger.Error("reminders service error", attrs...)
}
