// Package ledger implements the customer points ledger: atomic credits and
// debits against a profile's balance.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// ErrInsufficientBalance is returned when a debit exceeds the available
// balance. The balance is left untouched.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// casAttempts bounds the read-modify-write retry loop. Each attempt re-reads
// the profile, so retrying after a lost race cannot double-apply.
const casAttempts = 3

// Service moves points in and out of profile balances. Every mutation is a
// version-checked single-record write; TotalPoints and RedeemedPoints always
// change in the same write.
type Service struct {
	profiles storage.ProfileStore
	log      *logger.Logger
}

// New constructs a ledger service.
func New(profiles storage.ProfileStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{profiles: profiles, log: log}
}

// Credit increases a profile's available balance. Never fails for a positive
// amount on an existing profile.
func (s *Service) Credit(ctx context.Context, profileID string, amount int64) (profile.Profile, error) {
	if amount <= 0 {
		return profile.Profile{}, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		prof, err := s.profiles.GetProfile(ctx, profileID)
		if err != nil {
			return profile.Profile{}, err
		}

		prof.TotalPoints += amount
		updated, err := s.profiles.UpdateProfile(ctx, prof)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("profile")
			lastErr = err
			continue
		}
		if err != nil {
			return profile.Profile{}, err
		}

		metrics.RecordPointsCredited(amount)
		s.log.WithField("profile_id", profileID).
			WithField("amount", amount).
			WithField("balance", updated.TotalPoints).
			Info("points credited")
		return updated, nil
	}
	return profile.Profile{}, fmt.Errorf("credit profile %s: %w", profileID, lastErr)
}

// CreditByEmail credits the profile identified by its user email.
func (s *Service) CreditByEmail(ctx context.Context, email string, amount int64) (profile.Profile, error) {
	prof, err := s.profiles.GetProfileByEmail(ctx, email)
	if err != nil {
		return profile.Profile{}, err
	}
	return s.Credit(ctx, prof.ID, amount)
}

// Debit atomically moves amount from TotalPoints to RedeemedPoints. Fails
// with ErrInsufficientBalance when the available balance is too small; in
// that case neither field changes.
func (s *Service) Debit(ctx context.Context, profileID string, amount int64) (profile.Profile, error) {
	if amount <= 0 {
		return profile.Profile{}, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		prof, err := s.profiles.GetProfile(ctx, profileID)
		if err != nil {
			return profile.Profile{}, err
		}
		if amount > prof.TotalPoints {
			return profile.Profile{}, fmt.Errorf("debit %d from balance %d: %w", amount, prof.TotalPoints, ErrInsufficientBalance)
		}

		prof.TotalPoints -= amount
		prof.RedeemedPoints += amount
		updated, err := s.profiles.UpdateProfile(ctx, prof)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("profile")
			lastErr = err
			continue
		}
		if err != nil {
			return profile.Profile{}, err
		}

		metrics.RecordPointsDebited(amount)
		s.log.WithField("profile_id", profileID).
			WithField("amount", amount).
			WithField("balance", updated.TotalPoints).
			Info("points debited")
		return updated, nil
	}
	return profile.Profile{}, fmt.Errorf("debit profile %s: %w", profileID, lastErr)
}

// Refund reverses an earlier debit, moving amount from RedeemedPoints back to
// TotalPoints. Used to compensate a redemption that failed after its debit.
func (s *Service) Refund(ctx context.Context, profileID string, amount int64) (profile.Profile, error) {
	if amount <= 0 {
		return profile.Profile{}, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		prof, err := s.profiles.GetProfile(ctx, profileID)
		if err != nil {
			return profile.Profile{}, err
		}
		if amount > prof.RedeemedPoints {
			return profile.Profile{}, fmt.Errorf("refund %d exceeds redeemed %d", amount, prof.RedeemedPoints)
		}

		prof.TotalPoints += amount
		prof.RedeemedPoints -= amount
		updated, err := s.profiles.UpdateProfile(ctx, prof)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("profile")
			lastErr = err
			continue
		}
		if err != nil {
			return profile.Profile{}, err
		}

		s.log.WithField("profile_id", profileID).
			WithField("amount", amount).
			WithField("balance", updated.TotalPoints).
			Warn("debit refunded")
		return updated, nil
	}
	return profile.Profile{}, fmt.Errorf("refund profile %s: %w", profileID, lastErr)
}
