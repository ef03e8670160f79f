// Package audit verifies stored derived state against its source of truth.
// The sweep reports disagreements; it never self-corrects.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// ErrRankMismatch is returned when a business's stored rank disagrees with
// the rank recomputed from its score.
var ErrRankMismatch = errors.New("audit: trust rank mismatch")

// Finding is one integrity violation reported by a sweep.
type Finding struct {
	BusinessID   string
	TrustScore   int64
	StoredRank   business.Rank
	ExpectedRank business.Rank
}

// Service recomputes trust ranks from scores and reports mismatches.
type Service struct {
	businesses storage.BusinessStore
	log        *logger.Logger
}

// New constructs an audit service.
func New(businesses storage.BusinessStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Service{businesses: businesses, log: log}
}

// Sweep checks every business. It returns the findings and ErrRankMismatch
// when any business is inconsistent; stored records are left untouched.
func (s *Service) Sweep(ctx context.Context) ([]Finding, error) {
	bizs, err := s.businesses.ListBusinesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}

	var findings []Finding
	for _, biz := range bizs {
		if biz.RankConsistent() {
			continue
		}
		f := Finding{
			BusinessID:   biz.ID,
			TrustScore:   biz.TrustScore,
			StoredRank:   biz.TrustRank,
			ExpectedRank: business.RankForScore(biz.TrustScore),
		}
		findings = append(findings, f)
		metrics.RecordIntegrityViolation("trust_rank")
		s.log.WithField("business_id", f.BusinessID).
			WithField("stored_rank", string(f.StoredRank)).
			WithField("expected_rank", string(f.ExpectedRank)).
			WithField("trust_score", f.TrustScore).
			Error("trust rank disagrees with trust score")
	}

	if len(findings) > 0 {
		return findings, fmt.Errorf("%d inconsistent businesses: %w", len(findings), ErrRankMismatch)
	}
	return nil, nil
}
