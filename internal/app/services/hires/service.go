// Package hires manages businesses and their hire lifecycle. Completing a
// hire is the trigger that raises the business's trust score and releases
// referral rewards.
package hires

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

const casAttempts = 3

// ReferralRewarder is notified after a hire reaches completed. Implementations
// must be idempotent: the notification may be replayed for the same hire.
type ReferralRewarder interface {
	RewardForHire(ctx context.Context, h hire.Hire) error
}

// Service manages businesses and hires.
type Service struct {
	businesses storage.BusinessStore
	hires      storage.HireStore
	rewarder   ReferralRewarder
	log        *logger.Logger
}

// New constructs a hire service. The referral rewarder is attached separately
// to break the construction cycle between hires and referrals.
func New(businesses storage.BusinessStore, hires storage.HireStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("hires")
	}
	return &Service{businesses: businesses, hires: hires, log: log}
}

// AttachRewarder wires the referral rewarder called on hire completion.
func (s *Service) AttachRewarder(r ReferralRewarder) {
	s.rewarder = r
}

// OnboardBusiness registers a new business. New businesses start at bronze
// with zero score, customers, and referrals.
func (s *Service) OnboardBusiness(ctx context.Context, ownerEmail, companyName string, categories []string) (business.Business, error) {
	ownerEmail = strings.TrimSpace(ownerEmail)
	companyName = strings.TrimSpace(companyName)
	if ownerEmail == "" || companyName == "" {
		return business.Business{}, fmt.Errorf("owner email and company name are required")
	}

	biz := business.Business{
		OwnerEmail:  ownerEmail,
		CompanyName: companyName,
		Categories:  categories,
		TrustScore:  0,
		TrustRank:   business.RankBronze,
	}
	created, err := s.businesses.CreateBusiness(ctx, biz)
	if err != nil {
		return business.Business{}, err
	}
	s.log.WithField("business_id", created.ID).
		WithField("company", created.CompanyName).
		Info("business onboarded")
	return created, nil
}

// GetBusiness retrieves a business by identifier.
func (s *Service) GetBusiness(ctx context.Context, id string) (business.Business, error) {
	return s.businesses.GetBusiness(ctx, id)
}

// ListBusinesses returns all registered businesses.
func (s *Service) ListBusinesses(ctx context.Context) ([]business.Business, error) {
	return s.businesses.ListBusinesses(ctx)
}

// Request creates a pending hire against an existing business.
func (s *Service) Request(ctx context.Context, businessID, customerEmail, customerName, serviceCategory, notes string, hireDate time.Time) (hire.Hire, error) {
	if _, err := s.businesses.GetBusiness(ctx, businessID); err != nil {
		return hire.Hire{}, fmt.Errorf("business validation failed: %w", err)
	}
	customerEmail = strings.TrimSpace(customerEmail)
	if customerEmail == "" {
		return hire.Hire{}, fmt.Errorf("customer email is required")
	}
	if hireDate.IsZero() {
		hireDate = time.Now().UTC()
	}

	h := hire.Hire{
		BusinessID:      businessID,
		CustomerEmail:   customerEmail,
		CustomerName:    strings.TrimSpace(customerName),
		ServiceCategory: strings.TrimSpace(serviceCategory),
		Notes:           notes,
		Status:          hire.StatusPending,
		HireDate:        hireDate,
	}
	created, err := s.hires.CreateHire(ctx, h)
	if err != nil {
		return hire.Hire{}, err
	}
	s.log.WithField("hire_id", created.ID).
		WithField("business_id", businessID).
		Info("hire requested")
	return created, nil
}

// Get retrieves a hire by identifier.
func (s *Service) Get(ctx context.Context, id string) (hire.Hire, error) {
	return s.hires.GetHire(ctx, id)
}

// ListByBusiness returns all hires recorded against a business.
func (s *Service) ListByBusiness(ctx context.Context, businessID string) ([]hire.Hire, error) {
	return s.hires.ListHiresByBusiness(ctx, businessID)
}

// ListByCustomer returns all hires recorded for a customer.
func (s *Service) ListByCustomer(ctx context.Context, email string) ([]hire.Hire, error) {
	return s.hires.ListHiresByCustomer(ctx, email)
}

// Confirm moves a pending hire to confirmed.
func (s *Service) Confirm(ctx context.Context, hireID string) (hire.Hire, error) {
	return s.Transition(ctx, hireID, hire.StatusConfirmed)
}

// Cancel moves a pending hire to cancelled.
func (s *Service) Cancel(ctx context.Context, hireID string) (hire.Hire, error) {
	return s.Transition(ctx, hireID, hire.StatusCancelled)
}

// Complete moves a confirmed hire to completed and fires the completion
// side effects.
func (s *Service) Complete(ctx context.Context, hireID string) (hire.Hire, error) {
	return s.Transition(ctx, hireID, hire.StatusCompleted)
}

// Transition applies one edge of the hire state machine. The version-checked
// hire update elects the request that lands the completed write; the
// completion side effects themselves carry their own durable guard, so a
// replayed completed request re-drives whatever a failed first attempt left
// unapplied.
func (s *Service) Transition(ctx context.Context, hireID string, to hire.Status) (hire.Hire, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		h, err := s.hires.GetHire(ctx, hireID)
		if err != nil {
			return hire.Hire{}, err
		}
		if h.Status == to {
			if to == hire.StatusCompleted {
				return h, s.settleCompletion(ctx, h)
			}
			return h, nil
		}
		if !hire.CanTransition(h.Status, to) {
			return hire.Hire{}, fmt.Errorf("hire %s: %s -> %s: %w", hireID, h.Status, to, hire.ErrInvalidTransition)
		}

		h.Status = to
		updated, err := s.hires.UpdateHire(ctx, h)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("hire")
			lastErr = err
			continue
		}
		if err != nil {
			return hire.Hire{}, err
		}

		s.log.WithField("hire_id", hireID).
			WithField("status", string(to)).
			Info("hire status changed")

		if to == hire.StatusCompleted {
			if err := s.settleCompletion(ctx, updated); err != nil {
				return updated, err
			}
		}
		return updated, nil
	}
	return hire.Hire{}, fmt.Errorf("transition hire %s: %w", hireID, lastErr)
}

// settleCompletion drives the completion side effects for a completed hire.
// Safe to replay: the business score bump is guarded by the hire's
// ScoreApplied claim and the rewarder skips referrals already rewarded.
func (s *Service) settleCompletion(ctx context.Context, h hire.Hire) error {
	if err := s.applyCompletionScore(ctx, h.ID); err != nil {
		return err
	}
	if s.rewarder != nil {
		if err := s.rewarder.RewardForHire(ctx, h); err != nil {
			return fmt.Errorf("reward referral for hire %s: %w", h.ID, err)
		}
	}
	return nil
}

// applyCompletionScore claims the hire's ScoreApplied flag with a
// version-checked write and, having won the claim, raises the business trust
// score, recomputes its rank in the same write, and counts the customer. A
// failed business update releases the claim so a replay can retry; a hire
// whose flag is already set is a no-op.
func (s *Service) applyCompletionScore(ctx context.Context, hireID string) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		h, err := s.hires.GetHire(ctx, hireID)
		if err != nil {
			return err
		}
		if h.ScoreApplied {
			return nil
		}

		h.ScoreApplied = true
		claimed, err := s.hires.UpdateHire(ctx, h)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("hire")
			lastErr = err
			continue
		}
		if err != nil {
			return err
		}

		if err := s.raiseTrustScore(ctx, claimed.BusinessID); err != nil {
			claimed.ScoreApplied = false
			if _, releaseErr := s.hires.UpdateHire(ctx, claimed); releaseErr != nil {
				s.log.WithError(releaseErr).WithField("hire_id", hireID).
					Error("failed to release completion claim after business update failure")
			}
			return err
		}
		metrics.RecordHireCompleted()
		return nil
	}
	return fmt.Errorf("claim completion of hire %s: %w", hireID, lastErr)
}

func (s *Service) raiseTrustScore(ctx context.Context, businessID string) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		biz, err := s.businesses.GetBusiness(ctx, businessID)
		if err != nil {
			return fmt.Errorf("load business %s: %w", businessID, err)
		}

		biz.TrustScore += business.ScorePerCompletedHire
		biz.TrustRank = business.RankForScore(biz.TrustScore)
		biz.TotalCustomers++
		updated, err := s.businesses.UpdateBusiness(ctx, biz)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("business")
			lastErr = err
			continue
		}
		if err != nil {
			return fmt.Errorf("update business %s: %w", businessID, err)
		}

		s.log.WithField("business_id", updated.ID).
			WithField("trust_score", updated.TrustScore).
			WithField("trust_rank", string(updated.TrustRank)).
			Info("trust score raised after completed hire")
		return nil
	}
	return fmt.Errorf("raise trust score for business %s: %w", businessID, lastErr)
}
