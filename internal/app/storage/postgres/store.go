// Package postgres implements the storage interfaces backed by PostgreSQL.
// Conditional updates carry the version in the WHERE clause, so every
// balance and score mutation serializes on the database row itself.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/trustedlocal/trustrewards/internal/app/domain/business"
	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/domain/profile"
	"github.com/trustedlocal/trustrewards/internal/app/domain/referral"
	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.BusinessStore = (*Store)(nil)
var _ storage.ProfileStore = (*Store)(nil)
var _ storage.HireStore = (*Store)(nil)
var _ storage.ReferralStore = (*Store)(nil)
var _ storage.RewardStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapCreateErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%v: %w", err, storage.ErrDuplicate)
	}
	return err
}

// resolveUpdateMiss classifies a conditional update that touched zero rows:
// if the record still exists the caller's version is stale, otherwise the
// record is gone. getErr is the result of re-reading the record.
func resolveUpdateMiss(getErr error, id string) error {
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("%s: %w", id, storage.ErrConflict)
}

// --- BusinessStore ----------------------------------------------------------

func (s *Store) CreateBusiness(ctx context.Context, biz business.Business) (business.Business, error) {
	if biz.ID == "" {
		biz.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	biz.CreatedAt = now
	biz.UpdatedAt = now
	biz.Version = 1

	categoriesJSON, err := json.Marshal(biz.Categories)
	if err != nil {
		return business.Business{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_businesses (id, owner_email, company_name, categories, trust_score, trust_rank, total_customers, total_referrals, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, biz.ID, biz.OwnerEmail, biz.CompanyName, categoriesJSON, biz.TrustScore, string(biz.TrustRank), biz.TotalCustomers, biz.TotalReferrals, biz.Version, biz.CreatedAt, biz.UpdatedAt)
	if err != nil {
		return business.Business{}, mapCreateErr(err)
	}
	return biz, nil
}

func (s *Store) UpdateBusiness(ctx context.Context, biz business.Business) (business.Business, error) {
	categoriesJSON, err := json.Marshal(biz.Categories)
	if err != nil {
		return business.Business{}, err
	}
	updatedAt := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_businesses
		SET owner_email = $3, company_name = $4, categories = $5, trust_score = $6, trust_rank = $7,
		    total_customers = $8, total_referrals = $9, version = version + 1, updated_at = $10
		WHERE id = $1 AND version = $2
	`, biz.ID, biz.Version, biz.OwnerEmail, biz.CompanyName, categoriesJSON, biz.TrustScore, string(biz.TrustRank), biz.TotalCustomers, biz.TotalReferrals, updatedAt)
	if err != nil {
		return business.Business{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, getErr := s.GetBusiness(ctx, biz.ID)
		return business.Business{}, resolveUpdateMiss(getErr, biz.ID)
	}
	biz.Version++
	biz.UpdatedAt = updatedAt
	return biz, nil
}

func (s *Store) GetBusiness(ctx context.Context, id string) (business.Business, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_email, company_name, categories, trust_score, trust_rank, total_customers, total_referrals, version, created_at, updated_at
		FROM app_businesses
		WHERE id = $1
	`, id)
	biz, err := scanBusiness(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return business.Business{}, fmt.Errorf("business %s: %w", id, storage.ErrNotFound)
	}
	return biz, err
}

func (s *Store) ListBusinesses(ctx context.Context) ([]business.Business, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_email, company_name, categories, trust_score, trust_rank, total_customers, total_referrals, version, created_at, updated_at
		FROM app_businesses
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []business.Business
	for rows.Next() {
		biz, err := scanBusiness(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, biz)
	}
	return result, rows.Err()
}

func scanBusiness(scan func(dest ...any) error) (business.Business, error) {
	var (
		biz           business.Business
		rank          string
		categoriesRaw []byte
	)
	if err := scan(&biz.ID, &biz.OwnerEmail, &biz.CompanyName, &categoriesRaw, &biz.TrustScore, &rank, &biz.TotalCustomers, &biz.TotalReferrals, &biz.Version, &biz.CreatedAt, &biz.UpdatedAt); err != nil {
		return business.Business{}, err
	}
	biz.TrustRank = business.Rank(rank)
	if len(categoriesRaw) > 0 {
		_ = json.Unmarshal(categoriesRaw, &biz.Categories)
	}
	return biz, nil
}

// --- ProfileStore -----------------------------------------------------------

func (s *Store) CreateProfile(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	if prof.ID == "" {
		prof.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	prof.CreatedAt = now
	prof.UpdatedAt = now
	prof.Version = 1

	trustedJSON, err := json.Marshal(prof.TrustedBusinesses)
	if err != nil {
		return profile.Profile{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_profiles (id, user_email, display_name, referral_code, total_points, redeemed_points, trusted_businesses, version, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10)
	`, prof.ID, prof.UserEmail, prof.DisplayName, prof.ReferralCode, prof.TotalPoints, prof.RedeemedPoints, trustedJSON, prof.Version, prof.CreatedAt, prof.UpdatedAt)
	if err != nil {
		return profile.Profile{}, mapCreateErr(err)
	}
	return prof, nil
}

func (s *Store) UpdateProfile(ctx context.Context, prof profile.Profile) (profile.Profile, error) {
	trustedJSON, err := json.Marshal(prof.TrustedBusinesses)
	if err != nil {
		return profile.Profile{}, err
	}
	updatedAt := time.Now().UTC()

	// user_email and referral_code are identity fields and never change.
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_profiles
		SET display_name = $3, total_points = $4, redeemed_points = $5, trusted_businesses = $6,
		    version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
	`, prof.ID, prof.Version, prof.DisplayName, prof.TotalPoints, prof.RedeemedPoints, trustedJSON, updatedAt)
	if err != nil {
		return profile.Profile{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, getErr := s.GetProfile(ctx, prof.ID)
		return profile.Profile{}, resolveUpdateMiss(getErr, prof.ID)
	}
	prof.Version++
	prof.UpdatedAt = updatedAt
	return prof, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_email, display_name, referral_code, total_points, redeemed_points, trusted_businesses, version, created_at, updated_at
		FROM app_profiles
		WHERE id = $1
	`, id)
	prof, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, fmt.Errorf("profile %s: %w", id, storage.ErrNotFound)
	}
	return prof, err
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_email, display_name, referral_code, total_points, redeemed_points, trusted_businesses, version, created_at, updated_at
		FROM app_profiles
		WHERE user_email = lower($1)
	`, email)
	prof, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, fmt.Errorf("profile for %s: %w", email, storage.ErrNotFound)
	}
	return prof, err
}

func (s *Store) ListTopProfiles(ctx context.Context, limit int) ([]profile.Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_email, display_name, referral_code, total_points, redeemed_points, trusted_businesses, version, created_at, updated_at
		FROM app_profiles
		ORDER BY total_points DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []profile.Profile
	for rows.Next() {
		prof, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, prof)
	}
	return result, rows.Err()
}

func scanProfile(scan func(dest ...any) error) (profile.Profile, error) {
	var (
		prof       profile.Profile
		trustedRaw []byte
	)
	if err := scan(&prof.ID, &prof.UserEmail, &prof.DisplayName, &prof.ReferralCode, &prof.TotalPoints, &prof.RedeemedPoints, &trustedRaw, &prof.Version, &prof.CreatedAt, &prof.UpdatedAt); err != nil {
		return profile.Profile{}, err
	}
	if len(trustedRaw) > 0 {
		_ = json.Unmarshal(trustedRaw, &prof.TrustedBusinesses)
	}
	return prof, nil
}

// --- HireStore --------------------------------------------------------------

func (s *Store) CreateHire(ctx context.Context, h hire.Hire) (hire.Hire, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	h.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_hires (id, business_id, customer_email, customer_name, service_category, notes, status, hire_date, score_applied, version, created_at, updated_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, h.ID, h.BusinessID, h.CustomerEmail, h.CustomerName, h.ServiceCategory, h.Notes, string(h.Status), h.HireDate, h.ScoreApplied, h.Version, h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return hire.Hire{}, mapCreateErr(err)
	}
	return h, nil
}

func (s *Store) UpdateHire(ctx context.Context, h hire.Hire) (hire.Hire, error) {
	updatedAt := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_hires
		SET customer_name = $3, service_category = $4, notes = $5, status = $6, hire_date = $7,
		    score_applied = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2
	`, h.ID, h.Version, h.CustomerName, h.ServiceCategory, h.Notes, string(h.Status), h.HireDate, h.ScoreApplied, updatedAt)
	if err != nil {
		return hire.Hire{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, getErr := s.GetHire(ctx, h.ID)
		return hire.Hire{}, resolveUpdateMiss(getErr, h.ID)
	}
	h.Version++
	h.UpdatedAt = updatedAt
	return h, nil
}

func (s *Store) GetHire(ctx context.Context, id string) (hire.Hire, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, customer_email, customer_name, service_category, notes, status, hire_date, score_applied, version, created_at, updated_at
		FROM app_hires
		WHERE id = $1
	`, id)
	h, err := scanHire(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return hire.Hire{}, fmt.Errorf("hire %s: %w", id, storage.ErrNotFound)
	}
	return h, err
}

func (s *Store) ListHiresByBusiness(ctx context.Context, businessID string) ([]hire.Hire, error) {
	return s.listHires(ctx, `business_id = $1`, businessID)
}

func (s *Store) ListHiresByCustomer(ctx context.Context, email string) ([]hire.Hire, error) {
	return s.listHires(ctx, `customer_email = lower($1)`, email)
}

func (s *Store) listHires(ctx context.Context, where string, arg any) ([]hire.Hire, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, customer_email, customer_name, service_category, notes, status, hire_date, score_applied, version, created_at, updated_at
		FROM app_hires
		WHERE `+where+`
		ORDER BY created_at
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []hire.Hire
	for rows.Next() {
		h, err := scanHire(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func scanHire(scan func(dest ...any) error) (hire.Hire, error) {
	var (
		h      hire.Hire
		status string
	)
	if err := scan(&h.ID, &h.BusinessID, &h.CustomerEmail, &h.CustomerName, &h.ServiceCategory, &h.Notes, &status, &h.HireDate, &h.ScoreApplied, &h.Version, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return hire.Hire{}, err
	}
	h.Status = hire.Status(status)
	return h, nil
}

// --- ReferralStore ----------------------------------------------------------

func (s *Store) CreateReferral(ctx context.Context, ref referral.Referral) (referral.Referral, error) {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ref.CreatedAt = now
	ref.UpdatedAt = now
	ref.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_referrals (id, referrer_email, business_id, referral_code, share_token, share_channel, referred_email, hire_id, status, points_awarded, version, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, NULLIF(lower($7), ''), NULLIF($8, ''), $9, $10, $11, $12, $13)
	`, ref.ID, ref.ReferrerEmail, ref.BusinessID, ref.ReferralCode, ref.ShareToken, string(ref.ShareChannel), ref.ReferredEmail, ref.HireID, string(ref.Status), ref.PointsAwarded, ref.Version, ref.CreatedAt, ref.UpdatedAt)
	if err != nil {
		return referral.Referral{}, mapCreateErr(err)
	}
	return ref, nil
}

func (s *Store) UpdateReferral(ctx context.Context, ref referral.Referral) (referral.Referral, error) {
	updatedAt := time.Now().UTC()

	// Identity and share fields never change after creation.
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_referrals
		SET referred_email = NULLIF(lower($3), ''), hire_id = NULLIF($4, ''), status = $5,
		    points_awarded = $6, version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
	`, ref.ID, ref.Version, ref.ReferredEmail, ref.HireID, string(ref.Status), ref.PointsAwarded, updatedAt)
	if err != nil {
		return referral.Referral{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, getErr := s.GetReferral(ctx, ref.ID)
		return referral.Referral{}, resolveUpdateMiss(getErr, ref.ID)
	}
	ref.Version++
	ref.UpdatedAt = updatedAt
	return ref, nil
}

func (s *Store) GetReferral(ctx context.Context, id string) (referral.Referral, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, referrer_email, business_id, referral_code, share_token, share_channel, referred_email, hire_id, status, points_awarded, version, created_at, updated_at
		FROM app_referrals
		WHERE id = $1
	`, id)
	ref, err := scanReferral(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return referral.Referral{}, fmt.Errorf("referral %s: %w", id, storage.ErrNotFound)
	}
	return ref, err
}

func (s *Store) ListReferralsByReferrer(ctx context.Context, email string) ([]referral.Referral, error) {
	return s.listReferrals(ctx, `referrer_email = lower($1)`, email)
}

func (s *Store) ListReferralsByBusiness(ctx context.Context, businessID string) ([]referral.Referral, error) {
	return s.listReferrals(ctx, `business_id = $1`, businessID)
}

func (s *Store) ListReferralsByHire(ctx context.Context, hireID string) ([]referral.Referral, error) {
	return s.listReferrals(ctx, `hire_id = $1`, hireID)
}

func (s *Store) listReferrals(ctx context.Context, where string, arg any) ([]referral.Referral, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, referrer_email, business_id, referral_code, share_token, share_channel, referred_email, hire_id, status, points_awarded, version, created_at, updated_at
		FROM app_referrals
		WHERE `+where+`
		ORDER BY created_at
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []referral.Referral
	for rows.Next() {
		ref, err := scanReferral(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}

func scanReferral(scan func(dest ...any) error) (referral.Referral, error) {
	var (
		ref           referral.Referral
		channel       string
		status        string
		referredEmail sql.NullString
		hireID        sql.NullString
	)
	if err := scan(&ref.ID, &ref.ReferrerEmail, &ref.BusinessID, &ref.ReferralCode, &ref.ShareToken, &channel, &referredEmail, &hireID, &status, &ref.PointsAwarded, &ref.Version, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
		return referral.Referral{}, err
	}
	ref.ShareChannel = referral.Channel(channel)
	ref.Status = referral.Status(status)
	ref.ReferredEmail = referredEmail.String
	ref.HireID = hireID.String
	return ref, nil
}

// --- RewardStore ------------------------------------------------------------

func (s *Store) CreateReward(ctx context.Context, rwd reward.Reward) (reward.Reward, error) {
	if rwd.ID == "" {
		rwd.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rwd.CreatedAt = now
	rwd.UpdatedAt = now
	rwd.Version = 1

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_rewards (id, customer_email, reward_name, partner, points_cost, value_amount, status, redemption_code, version, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rwd.ID, rwd.CustomerEmail, rwd.RewardName, rwd.Partner, rwd.PointsCost, rwd.ValueAmount, string(rwd.Status), rwd.RedemptionCode, rwd.Version, rwd.CreatedAt, rwd.UpdatedAt)
	if err != nil {
		return reward.Reward{}, mapCreateErr(err)
	}
	return rwd, nil
}

func (s *Store) UpdateReward(ctx context.Context, rwd reward.Reward) (reward.Reward, error) {
	updatedAt := time.Now().UTC()

	// Only status progresses after creation.
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_rewards
		SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
	`, rwd.ID, rwd.Version, string(rwd.Status), updatedAt)
	if err != nil {
		return reward.Reward{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, getErr := s.GetReward(ctx, rwd.ID)
		return reward.Reward{}, resolveUpdateMiss(getErr, rwd.ID)
	}
	rwd.Version++
	rwd.UpdatedAt = updatedAt
	return rwd, nil
}

func (s *Store) GetReward(ctx context.Context, id string) (reward.Reward, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_email, reward_name, partner, points_cost, value_amount, status, redemption_code, version, created_at, updated_at
		FROM app_rewards
		WHERE id = $1
	`, id)
	rwd, err := scanReward(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return reward.Reward{}, fmt.Errorf("reward %s: %w", id, storage.ErrNotFound)
	}
	return rwd, err
}

func (s *Store) ListRewardsByCustomer(ctx context.Context, email string) ([]reward.Reward, error) {
	return s.listRewards(ctx, `WHERE customer_email = lower($1)`, email)
}

func (s *Store) ListPendingRewards(ctx context.Context) ([]reward.Reward, error) {
	return s.listRewards(ctx, `WHERE status IN ($1, $2)`, string(reward.StatusPending), string(reward.StatusProcessed))
}

func (s *Store) listRewards(ctx context.Context, where string, args ...any) ([]reward.Reward, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_email, reward_name, partner, points_cost, value_amount, status, redemption_code, version, created_at, updated_at
		FROM app_rewards
		`+where+`
		ORDER BY created_at
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reward.Reward
	for rows.Next() {
		rwd, err := scanReward(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rwd)
	}
	return result, rows.Err()
}

func scanReward(scan func(dest ...any) error) (reward.Reward, error) {
	var (
		rwd    reward.Reward
		status string
	)
	if err := scan(&rwd.ID, &rwd.CustomerEmail, &rwd.RewardName, &rwd.Partner, &rwd.PointsCost, &rwd.ValueAmount, &status, &rwd.RedemptionCode, &rwd.Version, &rwd.CreatedAt, &rwd.UpdatedAt); err != nil {
		return reward.Reward{}, err
	}
	rwd.Status = reward.Status(status)
	return rwd, nil
}
