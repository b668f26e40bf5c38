package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	errMissingCronSpec = errors.New("scheduler runner: cron spec required")
	errMissingService  = errors.New("scheduler runner: dispatcher service required")
)

// Runner triggers dispatcher runs on a cron schedule. The dispatcher itself
// makes no assumption about its trigger; any at-least-once periodic caller
// works, this one just keeps the reference deployment self-contained.
type Runner struct {
	cron    *cron.Cron
	service *Service
	logger  *zap.Logger
}

// NewRunner schedules the dispatcher on the given cron spec (standard five
// field syntax, e.g. "* * * * *" for every minute).
func NewRunner(spec string, service *Service, logger *zap.Logger) (*Runner, error) {
	if spec == "" {
		return nil, errMissingCronSpec
	}
	if service == nil {
		return nil, errMissingService
	}
	if logger == nil {
		logger = noOpLogger
	}

	runner := &Runner{
		cron:    cron.New(),
		service: service,
		logger:  logger,
	}
	if _, err := runner.cron.AddFunc(spec, runner.tick); err != nil {
		return nil, err
	}
	return runner, nil
}

// Start begins firing scheduled runs in the cron's own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

func (r *Runner) tick() {
	if _, err := r.service.Run(context.Background()); err != nil {
		r.logger.Error("scheduled dispatcher run failed", zap.Error(err))
	}
}
