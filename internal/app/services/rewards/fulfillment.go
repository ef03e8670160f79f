package rewards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/internal/app/system"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// FulfillmentResolver decides whether a redeemed reward has advanced to its
// next fulfillment state.
type FulfillmentResolver interface {
	Resolve(ctx context.Context, rwd reward.Reward) (done bool, message string, retryAfter time.Duration, err error)
}

// TimeoutResolver advances rewards after a fixed holding period. It is the
// default resolver: the engine never invents delivery, it just ages records
// forward so downstream partners can pick them up.
type TimeoutResolver struct {
	timeout time.Duration
	seen    sync.Map // rewardID -> time.Time
}

func NewTimeoutResolver(timeout time.Duration) *TimeoutResolver {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &TimeoutResolver{timeout: timeout}
}

func (r *TimeoutResolver) Resolve(ctx context.Context, rwd reward.Reward) (bool, string, time.Duration, error) {
	key := rwd.ID + ":" + string(rwd.Status)
	if value, ok := r.seen.Load(key); ok {
		if time.Since(value.(time.Time)) >= r.timeout {
			return true, "holding period elapsed", 0, nil
		}
		return false, "", r.timeout / 4, nil
	}
	r.seen.Store(key, time.Now())
	return false, "", r.timeout / 4, nil
}

// FulfillmentPoller watches redeemed rewards and advances them
// pending -> processed -> delivered using the resolver.
type FulfillmentPoller struct {
	store    storage.RewardStore
	resolver FulfillmentResolver
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*FulfillmentPoller)(nil)

func NewFulfillmentPoller(store storage.RewardStore, resolver FulfillmentResolver, interval time.Duration, log *logger.Logger) *FulfillmentPoller {
	if log == nil {
		log = logger.NewDefault("reward-fulfillment")
	}
	if resolver == nil {
		resolver = NewTimeoutResolver(2 * time.Minute)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &FulfillmentPoller{
		store:       store,
		resolver:    resolver,
		interval:    interval,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (p *FulfillmentPoller) Name() string { return "reward-fulfillment" }

func (p *FulfillmentPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("reward fulfillment poller started")
	return nil
}

func (p *FulfillmentPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *FulfillmentPoller) tick(ctx context.Context) {
	rwds, err := p.store.ListPendingRewards(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list unfulfilled rewards failed")
		return
	}

	now := time.Now()
	for _, rwd := range rwds {
		if !p.shouldAttempt(rwd.ID, now) {
			continue
		}

		done, message, retryAfter, err := p.resolver.Resolve(ctx, rwd)
		if err != nil {
			p.log.WithError(err).Warnf("resolver error for reward %s", rwd.ID)
			p.scheduleNext(rwd.ID, retryAfter)
			continue
		}
		if !done {
			p.scheduleNext(rwd.ID, retryAfter)
			continue
		}

		if err := p.advance(ctx, rwd); err != nil {
			p.log.WithError(err).Warnf("advance reward %s failed", rwd.ID)
			p.scheduleNext(rwd.ID, retryAfter)
			continue
		}
		p.log.Infof("reward %s advanced past %s (%s)", rwd.ID, rwd.Status, message)
		p.clearSchedule(rwd.ID)
	}
}

func (p *FulfillmentPoller) advance(ctx context.Context, rwd reward.Reward) error {
	var next reward.Status
	switch rwd.Status {
	case reward.StatusPending:
		next = reward.StatusProcessed
	case reward.StatusProcessed:
		next = reward.StatusDelivered
	default:
		return fmt.Errorf("reward %s already %s", rwd.ID, rwd.Status)
	}

	rwd.Status = next
	if _, err := p.store.UpdateReward(ctx, rwd); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("reward")
		}
		return err
	}
	return nil
}

func (p *FulfillmentPoller) shouldAttempt(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (p *FulfillmentPoller) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = p.interval
	}
	p.mu.Lock()
	p.nextAttempt[id] = time.Now().Add(after)
	p.mu.Unlock()
}

func (p *FulfillmentPoller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}
