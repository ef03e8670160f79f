// Package referrals drives the referral state machine: share, sign-up, hire
// binding, and the single-credit rewarded transition.
package referrals

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/domain/referral"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

const casAttempts = 3

// Ledger credits referral points to the referrer.
type Ledger interface {
	CreditByEmail(ctx context.Context, email string, amount int64) (profile.Profile, error)
}

// Service manages referral records.
type Service struct {
	referrals  storage.ReferralStore
	profiles   storage.ProfileStore
	businesses storage.BusinessStore
	hires      storage.HireStore
	ledger     Ledger
	log        *logger.Logger
}

// New constructs a referral service.
func New(referrals storage.ReferralStore, profiles storage.ProfileStore, businesses storage.BusinessStore, hires storage.HireStore, ledger Ledger, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("referrals")
	}
	return &Service{
		referrals:  referrals,
		profiles:   profiles,
		businesses: businesses,
		hires:      hires,
		ledger:     ledger,
		log:        log,
	}
}

// Share records a customer sharing a business through a channel. Every share
// creates its own pending referral with a fresh token, and counts against the
// business's referral total.
func (s *Service) Share(ctx context.Context, referrerEmail, businessID, channel string) (referral.Referral, error) {
	ch, err := referral.ParseChannel(channel)
	if err != nil {
		return referral.Referral{}, err
	}
	prof, err := s.profiles.GetProfileByEmail(ctx, strings.TrimSpace(referrerEmail))
	if err != nil {
		return referral.Referral{}, fmt.Errorf("referrer lookup failed: %w", err)
	}
	if _, err := s.businesses.GetBusiness(ctx, businessID); err != nil {
		return referral.Referral{}, fmt.Errorf("business validation failed: %w", err)
	}

	ref := referral.Referral{
		ReferrerEmail: prof.UserEmail,
		BusinessID:    businessID,
		ReferralCode:  prof.ReferralCode,
		ShareToken:    uuid.NewString(),
		ShareChannel:  ch,
		Status:        referral.StatusPending,
	}
	created, err := s.referrals.CreateReferral(ctx, ref)
	if err != nil {
		return referral.Referral{}, err
	}

	if err := s.bumpBusinessReferrals(ctx, businessID); err != nil {
		// The share record stands; the counter is display state and the
		// integrity audit does not check it.
		s.log.WithError(err).WithField("business_id", businessID).
			Warn("failed to bump business referral total")
	}

	s.log.WithField("referral_id", created.ID).
		WithField("business_id", businessID).
		WithField("channel", string(ch)).
		Info("referral shared")
	return created, nil
}

// ShareLink renders the shareable URL for a referral.
func (s *Service) ShareLink(origin string, ref referral.Referral) string {
	return fmt.Sprintf("%s/refer/%s?business=%s",
		strings.TrimRight(origin, "/"), ref.ReferralCode, url.QueryEscape(ref.BusinessID))
}

// Get retrieves a referral by identifier.
func (s *Service) Get(ctx context.Context, id string) (referral.Referral, error) {
	return s.referrals.GetReferral(ctx, id)
}

// ListByReferrer returns all referrals shared by a customer.
func (s *Service) ListByReferrer(ctx context.Context, email string) ([]referral.Referral, error) {
	return s.referrals.ListReferralsByReferrer(ctx, email)
}

// ListByBusiness returns all referrals recorded against a business.
func (s *Service) ListByBusiness(ctx context.Context, businessID string) ([]referral.Referral, error) {
	return s.referrals.ListReferralsByBusiness(ctx, businessID)
}

// ListByHire returns the referrals bound to a hire.
func (s *Service) ListByHire(ctx context.Context, hireID string) ([]referral.Referral, error) {
	return s.referrals.ListReferralsByHire(ctx, hireID)
}

// MarkSignedUp records that the referred party signed up.
func (s *Service) MarkSignedUp(ctx context.Context, referralID, referredEmail string) (referral.Referral, error) {
	referredEmail = strings.TrimSpace(referredEmail)
	if referredEmail == "" {
		return referral.Referral{}, fmt.Errorf("referred email is required")
	}
	return s.transition(ctx, referralID, referral.StatusSignedUp, func(ref *referral.Referral) error {
		ref.ReferredEmail = referredEmail
		return nil
	})
}

// MarkHired records that the referred party hired the business, binding the
// hire so the completion trigger can find this referral.
func (s *Service) MarkHired(ctx context.Context, referralID, hireID string) (referral.Referral, error) {
	return s.transition(ctx, referralID, referral.StatusHired, func(ref *referral.Referral) error {
		h, err := s.hireForBinding(ctx, hireID)
		if err != nil {
			return err
		}
		if h.BusinessID != ref.BusinessID {
			return fmt.Errorf("hire %s belongs to business %s, not %s: %w",
				hireID, h.BusinessID, ref.BusinessID, referral.ErrInvalidTransition)
		}
		ref.HireID = hireID
		return nil
	})
}

// RewardForHire rewards the referral bound to a completed hire. Exactly one
// caller wins the hired -> rewarded write and performs the credit; replays
// and losers observe the rewarded state and return without effect. A credit
// failure moves the referral back to hired so a replay can retry the credit.
func (s *Service) RewardForHire(ctx context.Context, h hire.Hire) error {
	refs, err := s.referrals.ListReferralsByHire(ctx, h.ID)
	if err != nil {
		return fmt.Errorf("list referrals for hire %s: %w", h.ID, err)
	}

	for _, ref := range refs {
		if ref.Status == referral.StatusRewarded {
			continue
		}
		if ref.Status != referral.StatusHired {
			s.log.WithField("referral_id", ref.ID).
				WithField("status", string(ref.Status)).
				Warn("referral bound to completed hire is not in hired state")
			continue
		}

		ref.Status = referral.StatusRewarded
		ref.PointsAwarded = referral.PointsPerReferral
		updated, err := s.referrals.UpdateReferral(ctx, ref)
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race; the winner performs the credit.
			metrics.RecordVersionConflict("referral")
			continue
		}
		if err != nil {
			return fmt.Errorf("reward referral %s: %w", ref.ID, err)
		}

		if _, err := s.ledger.CreditByEmail(ctx, updated.ReferrerEmail, updated.PointsAwarded); err != nil {
			// Release the rewarded claim so a replayed completion event can
			// retry the credit; without this the points are lost for good.
			points := updated.PointsAwarded
			updated.Status = referral.StatusHired
			updated.PointsAwarded = 0
			if _, revertErr := s.referrals.UpdateReferral(ctx, updated); revertErr != nil {
				s.log.WithError(revertErr).WithField("referral_id", updated.ID).
					Error("failed to release rewarded claim after credit failure")
			}
			return fmt.Errorf("credit referrer %s %d points for referral %s: %w", updated.ReferrerEmail, points, updated.ID, err)
		}
		metrics.RecordReferralRewarded()
		s.log.WithField("referral_id", updated.ID).
			WithField("referrer", updated.ReferrerEmail).
			WithField("points", updated.PointsAwarded).
			Info("referral rewarded")
	}
	return nil
}

func (s *Service) transition(ctx context.Context, referralID string, to referral.Status, mutate func(*referral.Referral) error) (referral.Referral, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		ref, err := s.referrals.GetReferral(ctx, referralID)
		if err != nil {
			return referral.Referral{}, err
		}
		if ref.Status == to {
			return ref, nil
		}
		if !referral.CanTransition(ref.Status, to) {
			return referral.Referral{}, fmt.Errorf("referral %s: %s -> %s: %w", referralID, ref.Status, to, referral.ErrInvalidTransition)
		}

		if mutate != nil {
			if err := mutate(&ref); err != nil {
				return referral.Referral{}, err
			}
		}
		ref.Status = to
		updated, err := s.referrals.UpdateReferral(ctx, ref)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("referral")
			lastErr = err
			continue
		}
		if err != nil {
			return referral.Referral{}, err
		}
		s.log.WithField("referral_id", referralID).
			WithField("status", string(to)).
			Info("referral status changed")
		return updated, nil
	}
	return referral.Referral{}, fmt.Errorf("transition referral %s: %w", referralID, lastErr)
}

func (s *Service) bumpBusinessReferrals(ctx context.Context, businessID string) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		biz, err := s.businesses.GetBusiness(ctx, businessID)
		if err != nil {
			return err
		}
		biz.TotalReferrals++
		if _, err := s.businesses.UpdateBusiness(ctx, biz); errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("business")
			lastErr = err
			continue
		} else if err != nil {
			return err
		}
		return nil
	}
	return lastErr
}

func (s *Service) hireForBinding(ctx context.Context, hireID string) (hire.Hire, error) {
	if s.hires == nil {
		return hire.Hire{}, fmt.Errorf("referrals: hire store not attached")
	}
	return s.hires.GetHire(ctx, hireID)
}
