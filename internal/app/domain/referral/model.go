// Package referral models one share action and its downstream outcome.
package referral

import (
	"errors"
	"time"
)

// Status is the referral lifecycle state. The chain is strictly one-way:
// pending -> signed_up -> hired -> rewarded. rewarded is terminal and a
// referral is only ever credited once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSignedUp Status = "signed_up"
	StatusHired    Status = "hired"
	StatusRewarded Status = "rewarded"
)

// PointsPerReferral is credited to the referrer when a referral is rewarded.
const PointsPerReferral = 25

var (
	// ErrInvalidTransition is returned for any edge outside the chain.
	ErrInvalidTransition = errors.New("referral: invalid status transition")
	// ErrUnknownChannel is returned for an unrecognised share channel.
	ErrUnknownChannel = errors.New("referral: unknown share channel")
)

// Channel is the medium a referral link was shared through.
type Channel string

const (
	ChannelLink     Channel = "link"
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelFacebook Channel = "facebook"
	ChannelTwitter  Channel = "twitter"
)

// ParseChannel validates a raw share channel value.
func ParseChannel(raw string) (Channel, error) {
	switch Channel(raw) {
	case ChannelLink, ChannelEmail, ChannelSMS, ChannelFacebook, ChannelTwitter:
		return Channel(raw), nil
	}
	return "", ErrUnknownChannel
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSignedUp
	case StatusSignedUp:
		return to == StatusHired
	case StatusHired:
		return to == StatusRewarded
	}
	return false
}

// Referral tracks a single share by a customer of a business. ShareToken is
// minted per share so concurrent referrals by the same customer stay
// distinguishable; ReferralCode is the referrer's permanent profile code and
// only identifies the customer. HireID is bound on the hired transition so
// the completion trigger can find the referral to reward. PointsAwarded is
// fixed at the rewarded transition and never recalculated.
type Referral struct {
	ID            string
	ReferrerEmail string
	BusinessID    string
	ReferralCode  string
	ShareToken    string
	ShareChannel  Channel
	ReferredEmail string
	HireID        string
	Status        Status
	PointsAwarded int64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
