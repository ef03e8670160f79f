package storage

import (
	"context"
	"errors"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/domain/referral"
	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict is returned by Update operations when the caller's record
	// version no longer matches the stored one. Safe to retry from a fresh
	// read.
	ErrConflict = errors.New("storage: version conflict")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("storage: duplicate record")
)

// Update operations are conditional writes: they succeed only when the
// caller's Version matches the stored record, and increment the version on
// success. This is the single serialization point for every balance and
// score mutation; the backing store needs no cross-record transactions.

// BusinessStore persists business records.
type BusinessStore interface {
	CreateBusiness(ctx context.Context, biz business.Business) (business.Business, error)
	UpdateBusiness(ctx context.Context, biz business.Business) (business.Business, error)
	GetBusiness(ctx context.Context, id string) (business.Business, error)
	ListBusinesses(ctx context.Context) ([]business.Business, error)
}

// ProfileStore persists customer profiles. Referral codes are unique.
type ProfileStore interface {
	CreateProfile(ctx context.Context, prof profile.Profile) (profile.Profile, error)
	UpdateProfile(ctx context.Context, prof profile.Profile) (profile.Profile, error)
	GetProfile(ctx context.Context, id string) (profile.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (profile.Profile, error)
	ListTopProfiles(ctx context.Context, limit int) ([]profile.Profile, error)
}

// HireStore persists hire records.
type HireStore interface {
	CreateHire(ctx context.Context, h hire.Hire) (hire.Hire, error)
	UpdateHire(ctx context.Context, h hire.Hire) (hire.Hire, error)
	GetHire(ctx context.Context, id string) (hire.Hire, error)
	ListHiresByBusiness(ctx context.Context, businessID string) ([]hire.Hire, error)
	ListHiresByCustomer(ctx context.Context, email string) ([]hire.Hire, error)
}

// ReferralStore persists referral records.
type ReferralStore interface {
	CreateReferral(ctx context.Context, ref referral.Referral) (referral.Referral, error)
	UpdateReferral(ctx context.Context, ref referral.Referral) (referral.Referral, error)
	GetReferral(ctx context.Context, id string) (referral.Referral, error)
	ListReferralsByReferrer(ctx context.Context, email string) ([]referral.Referral, error)
	ListReferralsByBusiness(ctx context.Context, businessID string) ([]referral.Referral, error)
	ListReferralsByHire(ctx context.Context, hireID string) ([]referral.Referral, error)
}

// RewardStore persists redemption records. Redemption codes are unique;
// CreateReward fails with ErrDuplicate on a code collision.
type RewardStore interface {
	CreateReward(ctx context.Context, rwd reward.Reward) (reward.Reward, error)
	UpdateReward(ctx context.Context, rwd reward.Reward) (reward.Reward, error)
	GetReward(ctx context.Context, id string) (reward.Reward, error)
	ListRewardsByCustomer(ctx context.Context, email string) ([]reward.Reward, error)
	ListPendingRewards(ctx context.Context) ([]reward.Reward, error)
}
