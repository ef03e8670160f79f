package hires

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/storage/memory"
)

type recordingRewarder struct {
	hireIDs []string
}

func (r *recordingRewarder) RewardForHire(_ context.Context, h hire.Hire) error {
	r.hireIDs = append(r.hireIDs, h.ID)
	return nil
}

func setup(t *testing.T) (*Service, *memory.Store, business.Business) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, nil)
	biz, err := svc.OnboardBusiness(context.Background(), "owner@example.com", "Clean Sweep", []string{"cleaning"})
	if err != nil {
		t.Fatalf("onboard business: %v", err)
	}
	return svc, store, biz
}

func TestOnboardBusinessDefaults(t *testing.T) {
	_, _, biz := setup(t)
	if biz.TrustRank != business.RankBronze || biz.TrustScore != 0 || biz.TotalCustomers != 0 || biz.TotalReferrals != 0 {
		t.Fatalf("new business must start bronze/0/0/0: %+v", biz)
	}
}

func TestRequestCreatesPendingHire(t *testing.T) {
	svc, _, biz := setup(t)
	h, err := svc.Request(context.Background(), biz.ID, "cust@example.com", "Cust", "cleaning", "", time.Time{})
	if err != nil {
		t.Fatalf("request hire: %v", err)
	}
	if h.Status != hire.StatusPending {
		t.Fatalf("expected pending, got %s", h.Status)
	}
	if h.HireDate.IsZero() {
		t.Fatal("expected hire date defaulted")
	}
}

func TestRequestUnknownBusiness(t *testing.T) {
	svc, _, _ := setup(t)
	if _, err := svc.Request(context.Background(), "missing", "cust@example.com", "", "", "", time.Time{}); err == nil {
		t.Fatal("expected error for unknown business")
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc, _, biz := setup(t)
	ctx := context.Background()

	h, err := svc.Request(ctx, biz.ID, "cust@example.com", "", "cleaning", "", time.Time{})
	if err != nil {
		t.Fatalf("request hire: %v", err)
	}

	// pending -> completed skips confirmation.
	if _, err := svc.Complete(ctx, h.ID); !errors.Is(err, hire.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if _, err := svc.Cancel(ctx, h.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// cancelled is terminal.
	if _, err := svc.Confirm(ctx, h.ID); !errors.Is(err, hire.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from cancelled, got %v", err)
	}
}

func TestCompleteRaisesTrustScoreAndRank(t *testing.T) {
	svc, store, biz := setup(t)
	ctx := context.Background()

	// Seed the business one completed hire short of silver.
	seeded, err := store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	seeded.TrustScore = 90
	seeded.TrustRank = business.RankBronze
	if _, err := store.UpdateBusiness(ctx, seeded); err != nil {
		t.Fatalf("seed business: %v", err)
	}

	rewarder := &recordingRewarder{}
	svc.AttachRewarder(rewarder)

	h, err := svc.Request(ctx, biz.ID, "cust@example.com", "", "cleaning", "", time.Time{})
	if err != nil {
		t.Fatalf("request hire: %v", err)
	}
	if _, err := svc.Confirm(ctx, h.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	completed, err := svc.Complete(ctx, h.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != hire.StatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	got, err := store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	if got.TrustScore != 100 {
		t.Fatalf("expected score 100, got %d", got.TrustScore)
	}
	if got.TrustRank != business.RankSilver {
		t.Fatalf("expected silver after crossing 100, got %s", got.TrustRank)
	}
	if got.TotalCustomers != 1 {
		t.Fatalf("expected 1 customer, got %d", got.TotalCustomers)
	}

	if len(rewarder.hireIDs) != 1 || rewarder.hireIDs[0] != h.ID {
		t.Fatalf("expected rewarder notified once for %s, got %v", h.ID, rewarder.hireIDs)
	}
}

type failingRewarder struct {
	calls    int
	failures int
}

func (r *failingRewarder) RewardForHire(_ context.Context, _ hire.Hire) error {
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("referral service unavailable")
	}
	return nil
}

func TestReplayedCompletionRetriesRewarder(t *testing.T) {
	svc, store, biz := setup(t)
	ctx := context.Background()

	rewarder := &failingRewarder{failures: 1}
	svc.AttachRewarder(rewarder)

	h, err := svc.Request(ctx, biz.ID, "cust@example.com", "", "cleaning", "", time.Time{})
	if err != nil {
		t.Fatalf("request hire: %v", err)
	}
	if _, err := svc.Confirm(ctx, h.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Complete(ctx, h.ID); err == nil {
		t.Fatal("expected completion to surface the rewarder failure")
	}

	// The hire completed and the score landed despite the rewarder failure.
	got, err := store.GetHire(ctx, h.ID)
	if err != nil {
		t.Fatalf("get hire: %v", err)
	}
	if got.Status != hire.StatusCompleted || !got.ScoreApplied {
		t.Fatalf("expected completed hire with score applied: %+v", got)
	}
	bizGot, err := store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	if bizGot.TrustScore != business.ScorePerCompletedHire {
		t.Fatalf("expected score %d, got %d", business.ScorePerCompletedHire, bizGot.TrustScore)
	}

	// Replaying the completed request re-drives the rewarder without
	// double-applying the score.
	if _, err := svc.Complete(ctx, h.ID); err != nil {
		t.Fatalf("replay complete: %v", err)
	}
	if rewarder.calls != 2 {
		t.Fatalf("expected rewarder retried on replay, got %d calls", rewarder.calls)
	}
	bizGot, err = store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business after replay: %v", err)
	}
	if bizGot.TrustScore != business.ScorePerCompletedHire || bizGot.TotalCustomers != 1 {
		t.Fatalf("score double-applied on replay: score=%d customers=%d", bizGot.TrustScore, bizGot.TotalCustomers)
	}
}

type failingBusinessStore struct {
	*memory.Store
	updateFailures int
}

func (s *failingBusinessStore) UpdateBusiness(ctx context.Context, biz business.Business) (business.Business, error) {
	if s.updateFailures > 0 {
		s.updateFailures--
		return business.Business{}, errors.New("business store unavailable")
	}
	return s.Store.UpdateBusiness(ctx, biz)
}

func TestBusinessUpdateFailureReleasesCompletionClaim(t *testing.T) {
	store := memory.New()
	businesses := &failingBusinessStore{Store: store}
	svc := New(businesses, store, nil)
	rewarder := &recordingRewarder{}
	svc.AttachRewarder(rewarder)
	ctx := context.Background()

	biz, err := svc.OnboardBusiness(ctx, "owner@example.com", "Clean Sweep", nil)
	if err != nil {
		t.Fatalf("onboard business: %v", err)
	}
	h, err := svc.Request(ctx, biz.ID, "cust@example.com", "", "cleaning", "", time.Time{})
	if err != nil {
		t.Fatalf("request hire: %v", err)
	}
	if _, err := svc.Confirm(ctx, h.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	businesses.updateFailures = 1
	if _, err := svc.Complete(ctx, h.ID); err == nil {
		t.Fatal("expected completion to surface the business update failure")
	}

	// The claim is released so a replay can retry the score.
	got, err := store.GetHire(ctx, h.ID)
	if err != nil {
		t.Fatalf("get hire: %v", err)
	}
	if got.Status != hire.StatusCompleted || got.ScoreApplied {
		t.Fatalf("expected completed hire with claim released: %+v", got)
	}
	bizGot, err := store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	if bizGot.TrustScore != 0 || bizGot.TotalCustomers != 0 {
		t.Fatalf("score applied despite failed update: %+v", bizGot)
	}

	if _, err := svc.Complete(ctx, h.ID); err != nil {
		t.Fatalf("replay complete: %v", err)
	}
	bizGot, err = store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business after replay: %v", err)
	}
	if bizGot.TrustScore != business.ScorePerCompletedHire || bizGot.TotalCustomers != 1 {
		t.Fatalf("expected score applied exactly once on replay: %+v", bizGot)
	}
	got, err = store.GetHire(ctx, h.ID)
	if err != nil {
		t.Fatalf("get hire after replay: %v", err)
	}
	if !got.ScoreApplied {
		t.Fatal("expected score claim recorded after successful replay")
	}
}

func TestTransitionToSameStatusIsIdempotent(t *testing.T) {
	svc, _, biz := setup(t)
	ctx := context.Background()

	h, err := svc.Request(ctx, biz.ID, "cust@example.com", "", "cleaning", "", time.Time{})
	if err != nil {
		t.Fatalf("request hire: %v", err)
	}
	if _, err := svc.Confirm(ctx, h.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got, err := svc.Confirm(ctx, h.ID)
	if err != nil {
		t.Fatalf("confirm again: %v", err)
	}
	if got.Status != hire.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}
}
