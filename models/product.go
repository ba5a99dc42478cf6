package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Product is the persisted product entity, keyed by (source, external_id).
// Products are created once and logically retired (is_active=false) when a
// source stops reporting them; they are never deleted.
type Product struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Source        string          `json:"source" db:"source"`
	ExternalID    string          `json:"external_id" db:"external_id"`
	Title         string          `json:"title" db:"title"`
	Price         float64         `json:"price" db:"price"`
	OriginalPrice *float64        `json:"original_price" db:"original_price"`
	Currency      string          `json:"currency" db:"currency"`
	URL           string          `json:"url" db:"url"`
	ImageURL      string          `json:"image_url" db:"image_url"`
	Brand         string          `json:"brand" db:"brand"`
	CategoryID    *uuid.UUID      `json:"category_id" db:"category_id"`
	Metadata      json.RawMessage `json:"metadata" db:"metadata"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	LastFetchedAt time.Time       `json:"last_fetched_at" db:"last_fetched_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// PricePoint is one append-only price observation for a product.
type PricePoint struct {
	ID         int64     `json:"id" db:"id"`
	ProductID  uuid.UUID `json:"product_id" db:"product_id"`
	Price      float64   `json:"price" db:"price"`
	Currency   string    `json:"currency" db:"currency"`
	Source     string    `json:"source" db:"source"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// Category groups products and may override the deal qualification threshold.
type Category struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Slug           string    `json:"slug" db:"slug"`
	Name           string    `json:"name" db:"name"`
	ScoreThreshold *float64  `json:"score_threshold" db:"score_threshold"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
