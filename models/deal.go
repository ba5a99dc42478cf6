package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DealType string

const (
	DealTypePriceDrop DealType = "price_drop"
	DealTypeFlashSale DealType = "flash_sale"
	DealTypeCoupon    DealType = "coupon"
	DealTypeClearance DealType = "clearance"
	DealTypeBundle    DealType = "bundle"
)

// Valid reports whether t is a member of the closed deal-type set.
func (t DealType) Valid() bool {
	switch t {
	case DealTypePriceDrop, DealTypeFlashSale, DealTypeCoupon, DealTypeClearance, DealTypeBundle:
		return true
	}
	return false
}

// NormalizedProduct is the adapter output shape for a single product,
// independent of any storefront-specific representation.
type NormalizedProduct struct {
	ExternalID    string          `json:"external_id"`
	Title         string          `json:"title"`
	Price         float64         `json:"price"`
	OriginalPrice *float64        `json:"original_price,omitempty"`
	Currency      string          `json:"currency"`
	URL           string          `json:"url"`
	ImageURL      string          `json:"image_url,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	CategoryHint  string          `json:"category_hint,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

func (p *NormalizedProduct) Validate() error {
	if p.ExternalID == "" {
		return errors.New("product missing external id")
	}
	if p.Title == "" {
		return fmt.Errorf("product %s: missing title", p.ExternalID)
	}
	if p.Price < 0 {
		return fmt.Errorf("product %s: negative price %.2f", p.ExternalID, p.Price)
	}
	return nil
}

// NormalizedDeal is the adapter output shape for one presented deal.
type NormalizedDeal struct {
	Product       NormalizedProduct `json:"product"`
	Title         string            `json:"title"`
	Price         float64           `json:"price"`
	OriginalPrice *float64          `json:"original_price,omitempty"`
	URL           string            `json:"url"`
	DiscountPct   *float64          `json:"discount_pct,omitempty"`
	Type          DealType          `json:"type"`
	StartsAt      *time.Time        `json:"starts_at,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Metadata      json.RawMessage   `json:"metadata,omitempty"`
}

func (d *NormalizedDeal) Validate() error {
	if err := d.Product.Validate(); err != nil {
		return err
	}
	if !d.Type.Valid() {
		return fmt.Errorf("deal %s: unknown deal type %q", d.Product.ExternalID, d.Type)
	}
	if d.Price < 0 {
		return fmt.Errorf("deal %s: negative deal price %.2f", d.Product.ExternalID, d.Price)
	}
	return nil
}

type Tier string

const (
	TierNone  Tier = "none"
	TierDeal  Tier = "deal"
	TierHot   Tier = "hot_deal"
	TierSuper Tier = "super_deal"
)

// ScoreComponents breaks a deal score into its additive parts.
type ScoreComponents struct {
	BelowMean      float64 `json:"below_mean"`      // 0-30
	BelowRecent    float64 `json:"below_recent"`    // 0-20
	RangePosition  float64 `json:"range_position"`  // 0-25
	ListedDiscount float64 `json:"listed_discount"` // 0-15
	Outlier        float64 `json:"outlier"`         // 0-10
}

func (c ScoreComponents) Total() float64 {
	return c.BelowMean + c.BelowRecent + c.RangePosition + c.ListedDiscount + c.Outlier
}

// DealScore is the scoring engine output for one observation.
type DealScore struct {
	Score      float64         `json:"score"`
	Tier       Tier            `json:"tier"`
	Rationale  string          `json:"rationale"`
	Components ScoreComponents `json:"components"`
}

func (s DealScore) Qualifies() bool {
	return s.Tier != TierNone
}

// Deal is a persisted qualifying deal. At most one active deal exists per
// (product, source) pair.
type Deal struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	ProductID     uuid.UUID  `json:"product_id" db:"product_id"`
	Source        string     `json:"source" db:"source"`
	Title         string     `json:"title" db:"title"`
	URL           string     `json:"url" db:"url"`
	Price         float64    `json:"price" db:"price"`
	OriginalPrice *float64   `json:"original_price" db:"original_price"`
	DiscountPct   *float64   `json:"discount_pct" db:"discount_pct"`
	Type          DealType   `json:"type" db:"type"`
	Score         float64    `json:"score" db:"score"`
	Tier          Tier       `json:"tier" db:"tier"`
	Rationale     string     `json:"rationale" db:"rationale"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	ExpiresAt     *time.Time `json:"expires_at" db:"expires_at"`
	FirstSeenAt   time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at" db:"last_seen_at"`
	DeactivatedAt *time.Time `json:"deactivated_at" db:"deactivated_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
