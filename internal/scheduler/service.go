package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/push"
	"github.com/halcyonlabs/remindcal/backend/internal/reminders"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingReminders     = errors.New("reminders service is required")
	errMissingSubscriptions = errors.New("push subscription service is required")
	errMissingSender        = errors.New("push sender is required")
	noOpLogger              = zap.NewNop()
)

const (
	opServiceNew = "scheduler.service.new"
	opRun        = "scheduler.run"
	opProcessJob = "scheduler.process_job"

	notificationTitle = "Reminder: upcoming event"
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

// ServiceConfig describes the dependencies for the notification dispatcher.
type ServiceConfig struct {
	Database      *gorm.DB
	Reminders     *reminders.Service
	Subscriptions *push.Service
	Sender        push.Sender
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service dispatches due reminder jobs as push notifications. Each run
// captures a snapshot of due jobs and processes them in fire-time order;
// delivery is at most once per job.
type Service struct {
	db            *gorm.DB
	reminders     *reminders.Service
	subscriptions *push.Service
	sender        push.Sender
	clock         func() time.Time
	logger        *zap.Logger
}

// NewService constructs the dispatcher.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Reminders == nil {
		return nil, newServiceError(opServiceNew, "missing_reminders", errMissingReminders)
	}
	if cfg.Subscriptions == nil {
		return nil, newServiceError(opServiceNew, "missing_subscriptions", errMissingSubscriptions)
	}
	if cfg.Sender == nil {
		return nil, newServiceError(opServiceNew, "missing_sender", errMissingSender)
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
		db:            cfg.Database,
		reminders:     cfg.Reminders,
		subscriptions: cfg.Subscriptions,
		sender:        cfg.Sender,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Result reports one dispatcher run.
type Result struct {
	Processed int
}

// Run scans for due jobs and dispatches each one. A failure processing one
// job is logged and never aborts the remaining jobs.
func (s *Service) Run(ctx context.Context) (Result, error) {
	pending, err := s.reminders.PendingJobs(ctx, s.clock())
	if err != nil {
		return Result{}, newServiceError(opRun, "scan_failed", err)
	}

	s.logger.Info("scheduler run started", zap.Int("due_jobs", len(pending)))

	for _, job := range pending {
		if err := s.processJob(ctx, job); err != nil {
			s.logger.Error("job processing failed",
				zap.String("operation", opProcessJob),
				zap.String("job_id", job.Job.JobID),
				zap.Error(err))
		}
	}

	s.logger.Info("scheduler run completed", zap.Int("processed", len(pending)))
	return Result{Processed: len(pending)}, nil
}

func (s *Service) processJob(ctx context.Context, job reminders.PendingJob) error {
	// Re-check completion at dispatch time: the event may have been resolved
	// between the scan and now, and a stale reminder must not fire.
	var current events.Event
	err := s.db.WithContext(ctx).
		Where("event_id = ?", job.Event.EventID).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && current.Completed) {
		return s.reminders.MarkSent(ctx, job.Job.JobID)
	}
	if err != nil {
		return newServiceError(opProcessJob, "event_recheck_failed", err)
	}

	subscriptions, err := s.subscriptions.ListForUser(ctx, job.Job.UserID)
	if err != nil {
		return newServiceError(opProcessJob, "subscription_query_failed", err)
	}

	// No registered device: nothing to retry for, the job is spent.
	if len(subscriptions) == 0 {
		return s.reminders.MarkSent(ctx, job.Job.JobID)
	}

	payload := push.Payload{
		Title: notificationTitle,
		Body:  fmt.Sprintf("%s - %s", current.Title, current.Date),
		Data: push.NotificationData{
			EventID: current.EventID,
			URL:     fmt.Sprintf("/calendar?event=%s", current.EventID),
		},
	}

	delivered := 0
	for _, subscription := range subscriptions {
		if err := s.sender.Send(ctx, subscription, payload); err != nil {
			s.handleDeliveryFailure(ctx, subscription, err)
			continue
		}
		delivered++
	}

	s.logger.Info("reminder dispatched",
		zap.String("job_id", job.Job.JobID),
		zap.String("event_id", current.EventID),
		zap.Int("delivered", delivered),
		zap.Int("subscriptions", len(subscriptions)))

	// The job is spent after fanning out to every subscription, regardless of
	// how many deliveries succeeded.
	return s.reminders.MarkSent(ctx, job.Job.JobID)
}

func (s *Service) handleDeliveryFailure(ctx context.Context, subscription push.Subscription, sendErr error) {
	var deliveryErr *push.DeliveryError
	if errors.As(sendErr, &deliveryErr) && deliveryErr.Permanent() {
		// The endpoint is gone for good; drop the subscription so future
		// runs stop retrying a dead device.
		if err := s.subscriptions.Delete(ctx, subscription.SubscriptionID); err != nil {
			s.logger.Error("stale subscription cleanup failed",
				zap.String("subscription_id", subscription.SubscriptionID),
				zap.Error(err))
			return
		}
		s.logger.Info("stale subscription removed",
			zap.String("subscription_id", subscription.SubscriptionID))
		return
	}

	// Transient failure: the job is still marked sent, so this notification
	// is dropped rather than retried.
	s.logger.Warn("push delivery failed",
		zap.String("subscription_id", subscription.SubscriptionID),
		zap.Error(sendErr))
}
