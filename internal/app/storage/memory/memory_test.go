package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
)

func TestUpdateBusinessVersionConflict(t *testing.T) {
	store := New()
	ctx := context.Background()

	biz, err := store.CreateBusiness(ctx, business.Business{CompanyName: "Plumb Co", TrustRank: business.RankBronze})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}

	first := biz
	first.TrustScore = 10
	if _, err := store.UpdateBusiness(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second writer still holds the original version.
	stale := biz
	stale.TrustScore = 20
	if _, err := store.UpdateBusiness(ctx, stale); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	if got.TrustScore != 10 || got.Version != 2 {
		t.Fatalf("expected score 10 at version 2, got %d at %d", got.TrustScore, got.Version)
	}
}

func TestProfileUniquenessAndImmutableFields(t *testing.T) {
	store := New()
	ctx := context.Background()

	prof, err := store.CreateProfile(ctx, profile.Profile{UserEmail: "a@example.com", ReferralCode: "REFAAA"})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}

	if _, err := store.CreateProfile(ctx, profile.Profile{UserEmail: "A@Example.com", ReferralCode: "REFBBB"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
	if _, err := store.CreateProfile(ctx, profile.Profile{UserEmail: "b@example.com", ReferralCode: "REFAAA"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected duplicate code error, got %v", err)
	}

	mutated := prof
	mutated.UserEmail = "other@example.com"
	mutated.ReferralCode = "REFZZZ"
	mutated.TotalPoints = 50
	updated, err := store.UpdateProfile(ctx, mutated)
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.UserEmail != "a@example.com" || updated.ReferralCode != "REFAAA" {
		t.Fatalf("identity fields changed: %+v", updated)
	}
	if updated.TotalPoints != 50 {
		t.Fatalf("expected points applied, got %d", updated.TotalPoints)
	}
}

func TestListTopProfilesOrdersByPoints(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i, points := range []int64{40, 120, 80} {
		prof, err := store.CreateProfile(ctx, profile.Profile{
			UserEmail:    string(rune('a'+i)) + "@example.com",
			ReferralCode: "REF00" + string(rune('A'+i)),
		})
		if err != nil {
			t.Fatalf("create profile %d: %v", i, err)
		}
		prof.TotalPoints = points
		if _, err := store.UpdateProfile(ctx, prof); err != nil {
			t.Fatalf("update profile %d: %v", i, err)
		}
	}

	top, err := store.ListTopProfiles(ctx, 2)
	if err != nil {
		t.Fatalf("list top profiles: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(top))
	}
	if top[0].TotalPoints != 120 || top[1].TotalPoints != 80 {
		t.Fatalf("unexpected ordering: %d, %d", top[0].TotalPoints, top[1].TotalPoints)
	}
}

func TestCreateRewardCodeCollision(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateReward(ctx, reward.Reward{CustomerEmail: "a@example.com", RewardName: "x", PointsCost: 100, Status: reward.StatusPending, RedemptionCode: "RWD123"}); err != nil {
		t.Fatalf("create reward: %v", err)
	}
	_, err := store.CreateReward(ctx, reward.Reward{CustomerEmail: "b@example.com", RewardName: "y", PointsCost: 100, Status: reward.StatusPending, RedemptionCode: "RWD123"})
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateRewardOnlyStatusProgresses(t *testing.T) {
	store := New()
	ctx := context.Background()

	rwd, err := store.CreateReward(ctx, reward.Reward{CustomerEmail: "a@example.com", RewardName: "x", PointsCost: 100, Status: reward.StatusPending, RedemptionCode: "RWD123"})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}

	mutated := rwd
	mutated.Status = reward.StatusProcessed
	mutated.PointsCost = 1
	mutated.RedemptionCode = "RWD999"
	updated, err := store.UpdateReward(ctx, mutated)
	if err != nil {
		t.Fatalf("update reward: %v", err)
	}
	if updated.Status != reward.StatusProcessed {
		t.Fatalf("expected processed, got %s", updated.Status)
	}
	if updated.PointsCost != 100 || updated.RedemptionCode != "RWD123" {
		t.Fatalf("immutable fields changed: %+v", updated)
	}
}

func TestListPendingRewardsExcludesDelivered(t *testing.T) {
	store := New()
	ctx := context.Background()

	rwd, err := store.CreateReward(ctx, reward.Reward{CustomerEmail: "a@example.com", RewardName: "x", PointsCost: 100, Status: reward.StatusPending, RedemptionCode: "RWD1"})
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}

	rwd.Status = reward.StatusProcessed
	rwd, err = store.UpdateReward(ctx, rwd)
	if err != nil {
		t.Fatalf("advance to processed: %v", err)
	}

	pending, err := store.ListPendingRewards(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected processed reward listed, got %d", len(pending))
	}

	rwd.Status = reward.StatusDelivered
	if _, err := store.UpdateReward(ctx, rwd); err != nil {
		t.Fatalf("advance to delivered: %v", err)
	}
	pending, err = store.ListPendingRewards(ctx)
	if err != nil {
		t.Fatalf("list pending after delivery: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no unfulfilled rewards, got %d", len(pending))
	}
}
