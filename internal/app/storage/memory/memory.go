package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/domain/referral"
	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and honours the same version-conditioned update
// semantics as the postgres store, so the engine's atomicity guarantees hold
// in tests and local development too.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	businesses      map[string]business.Business
	profiles        map[string]profile.Profile
	profilesByEmail map[string]string
	profileCodes    map[string]string
	hires           map[string]hire.Hire
	referrals       map[string]referral.Referral
	rewards         map[string]reward.Reward
	rewardCodes     map[string]string
}

var _ storage.BusinessStore = (*Store)(nil)
var _ storage.ProfileStore = (*Store)(nil)
var _ storage.HireStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.RewardStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		businesses:      make(map[string]business.Business),
		profiles:        make(map[string]profile.Profile),
		profilesByEmail: make(map[string]string),
		profileCodes:    make(map[string]string),
		hires:           make(map[string]hire.Hire),
		referrals:       make(map[string]referral.Referral),
		rewards:         make(map[string]reward.Reward),
		rewardCodes:     make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// BusinessStore implementation -----------------------------------------------

func (s *Store) CreateBusiness(_ context.Context, biz business.Business) (business.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if biz.ID == "" {
		biz.ID = s.nextIDLocked()
	} else if _, exists := s.businesses[biz.ID]; exists {
		return business.Business{}, fmt.Errorf("business %s: %w", biz.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	biz.CreatedAt = now
	biz.UpdatedAt = now
	biz.Version = 1
	biz.Categories = append([]string(nil), biz.Categories...)

	s.businesses[biz.ID] = biz
	return cloneBusiness(biz), nil
}

func (s *Store) UpdateBusiness(_ context.Context, biz business.Business) (business.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.businesses[biz.ID]
	if !ok {
		return business.Business{}, fmt.Errorf("business %s: %w", biz.ID, storage.ErrNotFound)
	}
	if original.Version != biz.Version {
		return business.Business{}, fmt.Errorf("business %s: %w", biz.ID, storage.ErrConflict)
	}

	biz.CreatedAt = original.CreatedAt
	biz.UpdatedAt = time.Now().UTC()
	biz.Version = original.Version + 1
	biz.Categories = append([]string(nil), biz.Categories...)

	s.businesses[biz.ID] = biz
	return cloneBusiness(biz), nil
}

func (s *Store) GetBusiness(_ context.Context, id string) (business.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	biz, ok := s.businesses[id]
	if !ok {
		return business.Business{}, fmt.Errorf("business %s: %w", id, storage.ErrNotFound)
	}
	return cloneBusiness(biz), nil
}

func (s *Store) ListBusinesses(_ context.Context) ([]business.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]business.Business, 0, len(s.businesses))
	for _, biz := range s.businesses {
		result = append(result, cloneBusiness(biz))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ProfileStore implementation ------------------------------------------------

func (s *Store) CreateProfile(_ context.Context, prof profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := strings.ToLower(strings.TrimSpace(prof.UserEmail))
	if emailKey == "" {
		return profile.Profile{}, fmt.Errorf("profile email is required")
	}
	if _, exists := s.profilesByEmail[emailKey]; exists {
		return profile.Profile{}, fmt.Errorf("profile for %s: %w", prof.UserEmail, storage.ErrDuplicate)
	}
	if prof.ReferralCode != "" {
		if _, exists := s.profileCodes[prof.ReferralCode]; exists {
			return profile.Profile{}, fmt.Errorf("referral code %s: %w", prof.ReferralCode, storage.ErrDuplicate)
		}
	}

	if prof.ID == "" {
		prof.ID = s.nextIDLocked()
	} else if _, exists := s.profiles[prof.ID]; exists {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", prof.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	prof.CreatedAt = now
	prof.UpdatedAt = now
	prof.Version = 1
	prof.TrustedBusinesses = append([]string(nil), prof.TrustedBusinesses...)

	s.profiles[prof.ID] = prof
	s.profilesByEmail[emailKey] = prof.ID
	if prof.ReferralCode != "" {
		s.profileCodes[prof.ReferralCode] = prof.ID
	}
	return cloneProfile(prof), nil
}

func (s *Store) UpdateProfile(_ context.Context, prof profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.profiles[prof.ID]
	if !ok {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", prof.ID, storage.ErrNotFound)
	}
	if original.Version != prof.Version {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", prof.ID, storage.ErrConflict)
	}

	// Identity fields never change after creation.
	prof.UserEmail = original.UserEmail
	prof.ReferralCode = original.ReferralCode
	prof.CreatedAt = original.CreatedAt
	prof.UpdatedAt = time.Now().UTC()
	prof.Version = original.Version + 1
	prof.TrustedBusinesses = append([]string(nil), prof.TrustedBusinesses...)

	s.profiles[prof.ID] = prof
	return cloneProfile(prof), nil
}

func (s *Store) GetProfile(_ context.Context, id string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prof, ok := s.profiles[id]
	if !ok {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	return cloneProfile(prof), nil
}

func (s *Store) GetProfileByEmail(_ context.Context, email string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.profilesByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return profile.Profile{}, fmt.Errorf("profile for %s: %w", email, storage.ErrNotFound)
	}
	return cloneProfile(s.profiles[id]), nil
}

func (s *Store) ListTopProfiles(_ context.Context, limit int) ([]profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]profile.Profile, 0, len(s.profiles))
	for _, prof := range s.profiles {
		result = append(result, cloneProfile(prof))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalPoints != result[j].TotalPoints {
			return result[i].TotalPoints > result[j].TotalPoints
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// HireStore implementation ---------------------------------------------------

func (s *Store) CreateHire(_ context.Context, h hire.Hire) (hire.Hire, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.ID == "" {
		h.ID = s.nextIDLocked()
	} else if _, exists := s.hires[h.ID]; exists {
		return hire.Hire{}, fmt.Errorf("hire %s: %w", h.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	h.Version = 1

	s.hires[h.ID] = h
	return h, nil
}

func (s *Store) UpdateHire(_ context.Context, h hire.Hire) (hire.Hire, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.hires[h.ID]
	if !ok {
		return hire.Hire{}, fmt.Errorf("hire %s: %w", h.ID, storage.ErrNotFound)
	}
	if original.Version != h.Version {
		return hire.Hire{}, fmt.Errorf("hire %s: %w", h.ID, storage.ErrConflict)
	}

	h.BusinessID = original.BusinessID
	h.CustomerEmail = original.CustomerEmail
	h.CreatedAt = original.CreatedAt
	h.UpdatedAt = time.Now().UTC()
	h.Version = original.Version + 1

	s.hires[h.ID] = h
	return h, nil
}

func (s *Store) GetHire(_ context.Context, id string) (hire.Hire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hires[id]
	if !ok {
		return hire.Hire{}, fmt.Errorf("hire %s: %w", id, storage.ErrNotFound)
	}
	return h, nil
}

func (s *Store) ListHiresByBusiness(_ context.Context, businessID string) ([]hire.Hire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]hire.Hire, 0)
	for _, h := range s.hires {
		if h.BusinessID == businessID {
			result = append(result, h)
		}
	}
	sortHires(result)
	return result, nil
}

func (s *Store) ListHiresByCustomer(_ context.Context, email string) ([]hire.Hire, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]hire.Hire, 0)
	for _, h := range s.hires {
		if strings.EqualFold(h.CustomerEmail, email) {
			result = append(result, h)
		}
	}
	sortHires(result)
	return result, nil
}

// ReferralStore implementation -----------------------------------------------

func (s *Store) CreateReferral(_ context.Context, ref referral.Referral) (referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref.ID == "" {
		ref.ID = s.nextIDLocked()
	} else if _, exists := s.referrals[ref.ID]; exists {
		return referral.Referral{}, fmt.Errorf("referral %s: %w", ref.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	ref.CreatedAt = now
	ref.UpdatedAt = now
	ref.Version = 1

	s.referrals[ref.ID] = ref
	return ref, nil
}

func (s *Store) UpdateReferral(_ context.Context, ref referral.Referral) (referral.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.referrals[ref.ID]
	if !ok {
		return referral.Referral{}, fmt.Errorf("referral %s: %w", ref.ID, storage.ErrNotFound)
	}
	if original.Version != ref.Version {
		return referral.Referral{}, fmt.Errorf("referral %s: %w", ref.ID, storage.ErrConflict)
	}

	ref.ReferrerEmail = original.ReferrerEmail
	ref.BusinessID = original.BusinessID
	ref.ReferralCode = original.ReferralCode
	ref.ShareToken = original.ShareToken
	ref.CreatedAt = original.CreatedAt
	ref.UpdatedAt = time.Now().UTC()
	ref.Version = original.Version + 1

	s.referrals[ref.ID] = ref
	return ref, nil
}

func (s *Store) GetReferral(_ context.Context, id string) (referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.referrals[id]
	if !ok {
		return referral.Referral{}, fmt.Errorf("referral %s: %w", id, storage.ErrNotFound)
	}
	return ref, nil
}

func (s *Store) ListReferralsByReferrer(_ context.Context, email string) ([]referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referral.Referral, 0)
	for _, ref := range s.referrals {
		if strings.EqualFold(ref.ReferrerEmail, email) {
			result = append(result, ref)
		}
	}
	sortReferrals(result)
	return result, nil
}

func (s *Store) ListReferralsByBusiness(_ context.Context, businessID string) ([]referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referral.Referral, 0)
	for _, ref := range s.referrals {
		if ref.BusinessID == businessID {
			result = append(result, ref)
		}
	}
	sortReferrals(result)
	return result, nil
}

func (s *Store) ListReferralsByHire(_ context.Context, hireID string) ([]referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]referral.Referral, 0)
	if hireID == "" {
		return result, nil
	}
	for _, ref := range s.referrals {
		if ref.HireID == hireID {
			result = append(result, ref)
		}
	}
	sortReferrals(result)
	return result, nil
}

// RewardStore implementation -------------------------------------------------

func (s *Store) CreateReward(_ context.Context, rwd reward.Reward) (reward.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rwd.RedemptionCode == "" {
		return reward.Reward{}, fmt.Errorf("redemption code is required")
	}
	if existing, exists := s.rewardCodes[rwd.RedemptionCode]; exists {
		return reward.Reward{}, fmt.Errorf("redemption code %s already on reward %s: %w", rwd.RedemptionCode, existing, storage.ErrDuplicate)
	}

	if rwd.ID == "" {
		rwd.ID = s.nextIDLocked()
	} else if _, exists := s.rewards[rwd.ID]; exists {
		return reward.Reward{}, fmt.Errorf("reward %s: %w", rwd.ID, storage.ErrDuplicate)
	}

	now := time.Now().UTC()
	rwd.CreatedAt = now
	rwd.UpdatedAt = now
	rwd.Version = 1

	s.rewards[rwd.ID] = rwd
	s.rewardCodes[rwd.RedemptionCode] = rwd.ID
	return rwd, nil
}

func (s *Store) UpdateReward(_ context.Context, rwd reward.Reward) (reward.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rewards[rwd.ID]
	if !ok {
		return reward.Reward{}, fmt.Errorf("reward %s: %w", rwd.ID, storage.ErrNotFound)
	}
	if original.Version != rwd.Version {
		return reward.Reward{}, fmt.Errorf("reward %s: %w", rwd.ID, storage.ErrConflict)
	}

	// Only status progresses after creation.
	status := rwd.Status
	rwd = original
	rwd.Status = status
	rwd.UpdatedAt = time.Now().UTC()
	rwd.Version = original.Version + 1

	s.rewards[rwd.ID] = rwd
	return rwd, nil
}

func (s *Store) GetReward(_ context.Context, id string) (reward.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rwd, ok := s.rewards[id]
	if !ok {
		return reward.Reward{}, fmt.Errorf("reward %s: %w", id, storage.ErrNotFound)
	}
	return rwd, nil
}

func (s *Store) ListRewardsByCustomer(_ context.Context, email string) ([]reward.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reward.Reward, 0)
	for _, rwd := range s.rewards {
		if strings.EqualFold(rwd.CustomerEmail, email) {
			result = append(result, rwd)
		}
	}
	sortRewards(result)
	return result, nil
}

func (s *Store) ListPendingRewards(_ context.Context) ([]reward.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reward.Reward, 0)
	for _, rwd := range s.rewards {
		if rwd.Status == reward.StatusPending || rwd.Status == reward.StatusProcessed {
			result = append(result, rwd)
		}
	}
	sortRewards(result)
	return result, nil
}

// Helpers --------------------------------------------------------------------

func cloneBusiness(biz business.Business) business.Business {
	biz.Categories = append([]string(nil), biz.Categories...)
	return biz
}

func cloneProfile(prof profile.Profile) profile.Profile {
	prof.TrustedBusinesses = append([]string(nil), prof.TrustedBusinesses...)
	return prof
}

func sortHires(hires []hire.Hire) {
	sort.Slice(hires, func(i, j int) bool { return hires[i].ID < hires[j].ID })
}

func sortReferrals(refs []referral.Referral) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
}

func sortRewards(rwds []reward.Reward) {
	sort.Slice(rwds, func(i, j int) bool { return rwds[i].ID < rwds[j].ID })
}
