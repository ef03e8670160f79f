// Package profiles manages customer profiles: lazy creation with a unique
// referral code, the trusted-business set, and the points leaderboard.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

const casAttempts = 3

// codeMintAttempts bounds retries when a freshly minted referral code
// collides with an existing one.
const codeMintAttempts = 5

// Service manages customer profiles.
type Service struct {
	store      storage.ProfileStore
	businesses storage.BusinessStore
	log        *logger.Logger
}

// New constructs a profile service.
func New(store storage.ProfileStore, businesses storage.BusinessStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("profiles")
	}
	return &Service{store: store, businesses: businesses, log: log}
}

// EnsureProfile returns the profile for the given identity, creating it on
// first access. The referral code is minted once and never changes.
func (s *Service) EnsureProfile(ctx context.Context, email, displayName string) (profile.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return profile.Profile{}, fmt.Errorf("email is required")
	}

	existing, err := s.store.GetProfileByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, err
	}

	var lastErr error
	for attempt := 0; attempt < codeMintAttempts; attempt++ {
		prof := profile.Profile{
			UserEmail:    email,
			DisplayName:  strings.TrimSpace(displayName),
			ReferralCode: mintReferralCode(),
		}
		created, err := s.store.CreateProfile(ctx, prof)
		if errors.Is(err, storage.ErrDuplicate) {
			// Either the code collided or a concurrent request created the
			// profile first; a fresh read disambiguates.
			if found, getErr := s.store.GetProfileByEmail(ctx, email); getErr == nil {
				return found, nil
			}
			lastErr = err
			continue
		}
		if err != nil {
			return profile.Profile{}, err
		}
		s.log.WithField("profile_id", created.ID).
			WithField("referral_code", created.ReferralCode).
			Info("customer profile created")
		return created, nil
	}
	return profile.Profile{}, fmt.Errorf("ensure profile for %s: %w", email, lastErr)
}

// Get retrieves a profile by identifier.
func (s *Service) Get(ctx context.Context, id string) (profile.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// GetByEmail retrieves a profile by its user email.
func (s *Service) GetByEmail(ctx context.Context, email string) (profile.Profile, error) {
	return s.store.GetProfileByEmail(ctx, email)
}

// TrustBusiness adds a business to the profile's trusted set.
func (s *Service) TrustBusiness(ctx context.Context, profileID, businessID string) (profile.Profile, error) {
	return s.setTrusted(ctx, profileID, businessID, true)
}

// UntrustBusiness removes a business from the profile's trusted set.
func (s *Service) UntrustBusiness(ctx context.Context, profileID, businessID string) (profile.Profile, error) {
	return s.setTrusted(ctx, profileID, businessID, false)
}

func (s *Service) setTrusted(ctx context.Context, profileID, businessID string, trusted bool) (profile.Profile, error) {
	if trusted && s.businesses != nil {
		if _, err := s.businesses.GetBusiness(ctx, businessID); err != nil {
			return profile.Profile{}, fmt.Errorf("business validation failed: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		prof, err := s.store.GetProfile(ctx, profileID)
		if err != nil {
			return profile.Profile{}, err
		}
		if trusted == prof.Trusts(businessID) {
			return prof, nil
		}

		if trusted {
			prof.TrustedBusinesses = prof.AddTrusted(businessID)
		} else {
			prof.TrustedBusinesses = prof.RemoveTrusted(businessID)
		}

		updated, err := s.store.UpdateProfile(ctx, prof)
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordVersionConflict("profile")
			lastErr = err
			continue
		}
		if err != nil {
			return profile.Profile{}, err
		}
		return updated, nil
	}
	return profile.Profile{}, fmt.Errorf("update trusted set for profile %s: %w", profileID, lastErr)
}

// Leaderboard returns the top profiles by available points.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]profile.Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListTopProfiles(ctx, limit)
}

func mintReferralCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "REF" + raw[:9]
}
