package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/trustedlocal/trustrewards/internal/app/system"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "@hourly"

// Runner executes the integrity sweep on a cron schedule.
type Runner struct {
	service  *Service
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Runner)(nil)

// NewRunner constructs a scheduled audit runner. An empty schedule falls back
// to DefaultSchedule.
func NewRunner(service *Service, schedule string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("audit-runner")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Runner{service: service, schedule: schedule, log: log}
}

func (r *Runner) Name() string { return "integrity-audit" }

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		findings, err := r.service.Sweep(context.Background())
		if err != nil && !errors.Is(err, ErrRankMismatch) {
			r.log.WithError(err).Warn("integrity sweep failed")
			return
		}
		if len(findings) == 0 {
			r.log.Debug("integrity sweep clean")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.cron = c
	r.running = true
	r.log.Infof("integrity audit scheduled (%s)", r.schedule)
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
