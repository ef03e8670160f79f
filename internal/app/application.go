package app

import (
	"context"
	"fmt"
	"time"

	auditsvc "github.com/trustedlocal/trustrewards/internal/app/services/audit"
	hiresvc "github.com/trustedlocal/trustrewards/internal/app/services/hires"
	ledgersvc "github.com/trustedlocal/trustrewards/internal/app/services/ledger"
	profilesvc "github.com/trustedlocal/trustrewards/internal/app/services/profiles"
	referralsvc "github.com/trustedlocal/trustrewards/internal/app/services/referrals"
	rewardsvc "github.com/trustedlocal/trustrewards/internal/app/services/rewards"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/internal/app/storage/memory"
	"github.com/trustedlocal/trustrewards/internal/app/system"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Businesses storage.BusinessStore
	Profiles   storage.ProfileStore
	Hires      storage.HireStore
	Referrals  storage.ReferralStore
	Rewards    storage.RewardStore
}

// Options tune the background services.
type Options struct {
	FulfillmentInterval time.Duration
	FulfillmentTimeout  time.Duration
	AuditSchedule       string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Profiles  *profilesvc.Service
	Ledger    *ledgersvc.Service
	Hires     *hiresvc.Service
	Referrals *referralsvc.Service
	Rewards   *rewardsvc.Service
	Audit     *auditsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Businesses == nil {
		stores.Businesses = mem
	}
	if stores.Profiles == nil {
		stores.Profiles = mem
	}
	if stores.Hires == nil {
		stores.Hires = mem
	}
	if stores.Referrals == nil {
		stores.Referrals = mem
	}
	if stores.Rewards == nil {
		stores.Rewards = mem
	}

	manager := system.NewManager()

	ledgerService := ledgersvc.New(stores.Profiles, log)
	profileService := profilesvc.New(stores.Profiles, stores.Businesses, log)
	hireService := hiresvc.New(stores.Businesses, stores.Hires, log)
	referralService := referralsvc.New(stores.Referrals, stores.Profiles, stores.Businesses, stores.Hires, ledgerService, log)
	rewardService := rewardsvc.New(stores.Rewards, ledgerService, log)
	auditService := auditsvc.New(stores.Businesses, log)

	// Completing a hire rewards the referral bound to it.
	hireService.AttachRewarder(referralService)

	for _, name := range []string{"profiles", "ledger", "hires", "referrals"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	fulfillment := rewardsvc.NewFulfillmentPoller(
		stores.Rewards,
		rewardsvc.NewTimeoutResolver(opts.FulfillmentTimeout),
		opts.FulfillmentInterval,
		log,
	)
	auditRunner := auditsvc.NewRunner(auditService, opts.AuditSchedule, log)

	for _, svc := range []system.Service{fulfillment, auditRunner} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Profiles:  profileService,
		Ledger:    ledgerService,
		Hires:     hireService,
		Referrals: referralService,
		Rewards:   rewardService,
		Audit:     auditService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
