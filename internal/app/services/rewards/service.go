// Package rewards implements catalog redemptions and background fulfillment
// of redeemed rewards.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// ErrCodeCollision is returned when a freshly minted redemption code already
// exists. The debit is refunded; the collision is reported, not retried.
var ErrCodeCollision = errors.New("rewards: redemption code collision")

// Ledger guards redemptions: the debit must land before the reward record is
// created, and is refunded when the record cannot be created.
type Ledger interface {
	Debit(ctx context.Context, profileID string, amount int64) (profile.Profile, error)
	Refund(ctx context.Context, profileID string, amount int64) (profile.Profile, error)
}

// Service redeems catalog entries against profile balances.
type Service struct {
	rewards storage.RewardStore
	ledger  Ledger
	log     *logger.Logger
}

// New constructs a reward service.
func New(rewards storage.RewardStore, ledger Ledger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	return &Service{rewards: rewards, ledger: ledger, log: log}
}

// Catalog returns the fixed reward catalog.
func (s *Service) Catalog() []reward.CatalogEntry {
	return reward.Catalog()
}

// Redeem exchanges points for a catalog entry. The debit is the guarded step:
// it happens first, and only a successful debit is followed by the reward
// record. A redemption code collision refunds the debit.
func (s *Service) Redeem(ctx context.Context, prof profile.Profile, catalogID string) (reward.Reward, error) {
	entry, err := reward.CatalogEntryByID(catalogID)
	if err != nil {
		return reward.Reward{}, err
	}

	if _, err := s.ledger.Debit(ctx, prof.ID, entry.Points); err != nil {
		return reward.Reward{}, err
	}

	rwd := reward.Reward{
		CustomerEmail:  prof.UserEmail,
		RewardName:     entry.Name,
		Partner:        entry.Partner,
		PointsCost:     entry.Points,
		ValueAmount:    entry.Value,
		Status:         reward.StatusPending,
		RedemptionCode: mintRedemptionCode(),
	}
	created, err := s.rewards.CreateReward(ctx, rwd)
	if errors.Is(err, storage.ErrDuplicate) {
		metrics.RecordIntegrityViolation("redemption_code")
		s.log.WithField("profile_id", prof.ID).
			WithField("catalog_id", catalogID).
			Error("redemption code collision, refunding debit")
		if _, refundErr := s.ledger.Refund(ctx, prof.ID, entry.Points); refundErr != nil {
			return reward.Reward{}, fmt.Errorf("refund after collision failed: %v: %w", refundErr, ErrCodeCollision)
		}
		return reward.Reward{}, ErrCodeCollision
	}
	if err != nil {
		if _, refundErr := s.ledger.Refund(ctx, prof.ID, entry.Points); refundErr != nil {
			return reward.Reward{}, fmt.Errorf("refund after failed create: %v: %w", refundErr, err)
		}
		return reward.Reward{}, err
	}

	s.log.WithField("reward_id", created.ID).
		WithField("customer", created.CustomerEmail).
		WithField("points", created.PointsCost).
		Info("reward redeemed")
	return created, nil
}

// Get retrieves a redemption record.
func (s *Service) Get(ctx context.Context, id string) (reward.Reward, error) {
	return s.rewards.GetReward(ctx, id)
}

// ListForCustomer returns a customer's redemption history.
func (s *Service) ListForCustomer(ctx context.Context, email string) ([]reward.Reward, error) {
	return s.rewards.ListRewardsByCustomer(ctx, email)
}

func mintRedemptionCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "RWD" + raw[:9]
}
