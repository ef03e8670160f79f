// Package reward models point redemptions and the fixed reward catalog.
package reward

import (
	"errors"
	"time"
)

// Status is the fulfillment state of a redemption record. Progression is
// driven by the fulfillment collaborator, never by the customer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDelivered Status = "delivered"
)

// ErrUnknownCatalogEntry is returned when a redemption names no catalog id.
var ErrUnknownCatalogEntry = errors.New("reward: unknown catalog entry")

// Reward is one redemption drawn from the catalog. Immutable once created
// except for Status progression.
type Reward struct {
	ID             string
	CustomerEmail  string
	RewardName     string
	Partner        string
	PointsCost     int64
	ValueAmount    int64
	Status         Status
	RedemptionCode string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CatalogEntry is one redeemable option. The catalog is fixed at build time
// and not persisted.
type CatalogEntry struct {
	ID      string
	Name    string
	Partner string
	Points  int64
	Value   int64
}

var catalog = []CatalogEntry{
	{ID: "amazon_10", Name: "$10 Amazon Gift Card", Partner: "Amazon", Points: 100, Value: 10},
	{ID: "starbucks_10", Name: "$10 Starbucks Card", Partner: "Starbucks", Points: 100, Value: 10},
	{ID: "amazon_25", Name: "$25 Amazon Gift Card", Partner: "Amazon", Points: 200, Value: 25},
	{ID: "visa_25", Name: "$25 Visa Gift Card", Partner: "Visa", Points: 250, Value: 25},
	{ID: "amazon_50", Name: "$50 Amazon Gift Card", Partner: "Amazon", Points: 400, Value: 50},
	{ID: "premium_100", Name: "$100 Premium Reward", Partner: "Various", Points: 750, Value: 100},
}

// Catalog returns a copy of the fixed reward catalog.
func Catalog() []CatalogEntry {
	return append([]CatalogEntry(nil), catalog...)
}

// CatalogEntryByID finds a catalog entry.
func CatalogEntryByID(id string) (CatalogEntry, error) {
	for _, entry := range catalog {
		if entry.ID == id {
			return entry, nil
		}
	}
	return CatalogEntry{}, ErrUnknownCatalogEntry
}
