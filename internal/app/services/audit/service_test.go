package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/storage/memory"
)

func seedBusiness(t *testing.T, store *memory.Store, score int64, rank business.Rank) business.Business {
	t.Helper()
	ctx := context.Background()
	biz, err := store.CreateBusiness(ctx, business.Business{
		OwnerEmail:  "owner@example.com",
		CompanyName: "Sparkle Cleaning",
		TrustScore:  score,
		TrustRank:   rank,
	})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	return biz
}

func TestSweepCleanState(t *testing.T) {
	store := memory.New()
	seedBusiness(t, store, 0, business.RankBronze)
	seedBusiness(t, store, 250, business.RankGold)

	findings, err := New(store, nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(findings))
	}
}

func TestSweepReportsMismatchWithoutCorrecting(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	biz := seedBusiness(t, store, 600, business.RankBronze)

	findings, err := New(store, nil).Sweep(ctx)
	if !errors.Is(err, ErrRankMismatch) {
		t.Fatalf("expected ErrRankMismatch, got %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %d", len(findings))
	}
	f := findings[0]
	if f.BusinessID != biz.ID || f.StoredRank != business.RankBronze || f.ExpectedRank != business.RankPlatinum {
		t.Fatalf("unexpected finding: %+v", f)
	}

	// The sweep reports; it must not rewrite the record.
	got, err := store.GetBusiness(ctx, biz.ID)
	if err != nil {
		t.Fatalf("get business: %v", err)
	}
	if got.TrustRank != business.RankBronze || got.Version != biz.Version {
		t.Fatalf("sweep mutated the record: rank=%s version=%d", got.TrustRank, got.Version)
	}
}
