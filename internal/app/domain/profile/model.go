// Package profile holds the customer profile entity and its point balances.
package profile

import "time"

// Profile is the customer-side record carrying the points ledger state.
// TotalPoints is the available balance and never goes negative;
// RedeemedPoints is cumulative and never decreases. ReferralCode is assigned
// at creation and immutable afterwards.
type Profile struct {
	ID                string
	UserEmail         string
	DisplayName       string
	ReferralCode      string
	TotalPoints       int64
	RedeemedPoints    int64
	TrustedBusinesses []string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Trusts reports whether the profile lists the business as trusted.
func (p Profile) Trusts(businessID string) bool {
	for _, id := range p.TrustedBusinesses {
		if id == businessID {
			return true
		}
	}
	return false
}

// AddTrusted returns the trusted set with businessID included.
func (p Profile) AddTrusted(businessID string) []string {
	if p.Trusts(businessID) {
		return p.TrustedBusinesses
	}
	return append(append([]string(nil), p.TrustedBusinesses...), businessID)
}

// RemoveTrusted returns the trusted set with businessID excluded.
func (p Profile) RemoveTrusted(businessID string) []string {
	out := make([]string, 0, len(p.TrustedBusinesses))
	for _, id := range p.TrustedBusinesses {
		if id != businessID {
			out = append(out, id)
		}
	}
	return out
}
