// Package business holds the business entity and the trust rank calculation.
package business

import "time"

// Rank is a business's discrete trust tier, derived from its trust score.
type Rank string

const (
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
)

// Trust score thresholds, inclusive lower bounds.
const (
	SilverMinScore   = 100
	GoldMinScore     = 250
	PlatinumMinScore = 500
)

// ScorePerCompletedHire is added to a business's trust score every time one
// of its hires reaches completed.
const ScorePerCompletedHire = 10

// RankForScore maps an accumulated trust score to its tier. Total over all
// non-negative scores; negative input clamps to bronze.
func RankForScore(score int64) Rank {
	switch {
	case score >= PlatinumMinScore:
		return RankPlatinum
	case score >= GoldMinScore:
		return RankGold
	case score >= SilverMinScore:
		return RankSilver
	default:
		return RankBronze
	}
}

// Business is a service provider listed on the marketplace. TrustRank is
// derived state: it must always equal RankForScore(TrustScore).
type Business struct {
	ID             string
	OwnerEmail     string
	CompanyName    string
	Categories     []string
	TrustScore     int64
	TrustRank      Rank
	TotalCustomers int64
	TotalReferrals int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RankConsistent reports whether the stored rank agrees with the score.
func (b Business) RankConsistent() bool {
	return b.TrustRank == RankForScore(b.TrustScore)
}
