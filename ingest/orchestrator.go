package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"dealhound/adapter"
	"dealhound/config"
	"dealhound/metrics"
	"dealhound/models"
	"dealhound/retry"
)

var (
	ErrSourceInactive = errors.New("source is inactive")
	ErrPaused         = errors.New("ingestion is paused")
)

// categoryMatchThreshold is the Jaro-Winkler similarity a hint must reach
// against a category name before we trust the match.
const categoryMatchThreshold = 0.85

// Store is the persistence surface ingestion writes through.
type Store interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetProductBySourceExternalID(ctx context.Context, source, externalID string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error
	RetireStaleProducts(ctx context.Context, source string, notSeenSince time.Time) (int, error)
	LatestPricePoint(ctx context.Context, productID uuid.UUID) (*models.PricePoint, error)
	InsertPricePoint(ctx context.Context, p *models.PricePoint) error
	GetActiveDeal(ctx context.Context, productID uuid.UUID, source string) (*models.Deal, error)
	UpsertActiveDeal(ctx context.Context, d *models.Deal) error
	DeactivateDeal(ctx context.Context, dealID uuid.UUID) error
}

// Scorer computes deal quality for one price observation.
type Scorer interface {
	Score(ctx context.Context, productID uuid.UUID, currentPrice float64, originalPrice *float64, categorySlug string) models.DealScore
}

// Orchestrator runs the fetch, normalize, persist, score pipeline for one
// source at a time.
type Orchestrator struct {
	cfg      *config.Config
	registry *adapter.Registry
	store    Store
	scorer   Scorer
	metrics  *metrics.Metrics

	paused atomic.Bool

	catMu       sync.Mutex
	categories  []models.Category
	catLoadedAt time.Time
}

func NewOrchestrator(cfg *config.Config, registry *adapter.Registry, store Store, scorer Scorer, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		store:    store,
		scorer:   scorer,
		metrics:  m,
	}
}

func (o *Orchestrator) Pause()         { o.paused.Store(true) }
func (o *Orchestrator) Resume()        { o.paused.Store(false) }
func (o *Orchestrator) IsPaused() bool { return o.paused.Load() }

// RunSource executes one full ingestion pass for the source. Partial fetch
// results are processed before the fetch error is reported: deals already
// in hand are not discarded because pagination died on page four.
func (o *Orchestrator) RunSource(ctx context.Context, sourceID string, category *string) (*models.IngestStats, error) {
	if o.IsPaused() {
		return nil, ErrPaused
	}

	src, ok := o.cfg.Sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownSource, sourceID)
	}
	if !src.Active {
		return nil, fmt.Errorf("%w: %s", ErrSourceInactive, sourceID)
	}

	a, err := o.registry.CreateAdapter(sourceID)
	if err != nil {
		return nil, err
	}

	if category == nil && src.CategoryHint != "" {
		hint := src.CategoryHint
		category = &hint
	}

	start := time.Now()
	log.Printf("%s: starting ingestion run", sourceID)

	deals, fetchErr := a.FetchDeals(ctx, category)
	stats := o.ProcessDeals(ctx, sourceID, deals)

	if fetchErr != nil {
		log.Printf("%s: fetch failed after %d deals: %v", sourceID, len(deals), fetchErr)
		return stats, fetchErr
	}

	if retired, err := o.store.RetireStaleProducts(ctx, sourceID, time.Now().Add(-o.cfg.Ingest.StaleAfter)); err != nil {
		log.Printf("%s: retiring stale products failed: %v", sourceID, err)
	} else if retired > 0 {
		log.Printf("%s: retired %d stale products", sourceID, retired)
	}

	log.Printf("%s: run finished in %s: %d fetched, %d created, %d updated, %d skipped, %d deactivated, %d errors",
		sourceID, time.Since(start).Round(time.Millisecond), stats.Fetched,
		stats.DealsCreated, stats.DealsUpdated, stats.DealsSkipped, stats.DealsDeactivated, stats.Errors)
	return stats, nil
}

// ProcessDeals persists and scores a batch. Items are isolated: a bad deal
// increments the error counter and the batch keeps going.
func (o *Orchestrator) ProcessDeals(ctx context.Context, sourceID string, deals []models.NormalizedDeal) *models.IngestStats {
	stats := &models.IngestStats{Fetched: len(deals)}

	for i := range deals {
		if err := o.processDeal(ctx, sourceID, &deals[i], stats); err != nil {
			stats.Errors++
			log.Printf("%s: deal %s: %v", sourceID, deals[i].Product.ExternalID, err)
		}
	}

	o.metrics.AddStats(sourceID, stats)
	return stats
}

func (o *Orchestrator) processDeal(ctx context.Context, sourceID string, deal *models.NormalizedDeal, stats *models.IngestStats) error {
	if err := deal.Validate(); err != nil {
		return err
	}

	product, created, err := o.upsertProduct(ctx, sourceID, deal)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	if created {
		stats.ProductsCreated++
	} else {
		stats.ProductsUpdated++
	}

	// History write failures degrade scoring accuracy but must not lose
	// the deal itself.
	if err := o.recordPricePoint(ctx, product, sourceID); err != nil {
		log.Printf("%s: price point for %s not recorded: %v", sourceID, product.ExternalID, err)
	}

	categorySlug := ""
	if product.CategoryID != nil {
		categorySlug = o.slugForCategoryID(ctx, *product.CategoryID)
	}
	score := o.scorer.Score(ctx, product.ID, deal.Price, deal.OriginalPrice, categorySlug)
	o.metrics.ObserveScore(sourceID, score.Score)

	expired := deal.ExpiresAt != nil && deal.ExpiresAt.Before(time.Now())
	if !score.Qualifies() || expired {
		existing, err := o.store.GetActiveDeal(ctx, product.ID, sourceID)
		if err != nil {
			return fmt.Errorf("lookup active deal: %w", err)
		}
		if existing != nil {
			if err := o.store.DeactivateDeal(ctx, existing.ID); err != nil {
				return fmt.Errorf("deactivate deal: %w", err)
			}
			stats.DealsDeactivated++
			return nil
		}
		stats.DealsSkipped++
		return nil
	}

	return o.publishDeal(ctx, sourceID, product, deal, score, stats)
}

func (o *Orchestrator) upsertProduct(ctx context.Context, sourceID string, deal *models.NormalizedDeal) (*models.Product, bool, error) {
	existing, err := o.store.GetProductBySourceExternalID(ctx, sourceID, deal.Product.ExternalID)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	product := &models.Product{
		Source:        sourceID,
		ExternalID:    deal.Product.ExternalID,
		Title:         deal.Product.Title,
		Price:         deal.Product.Price,
		OriginalPrice: deal.Product.OriginalPrice,
		Currency:      deal.Product.Currency,
		URL:           deal.Product.URL,
		ImageURL:      deal.Product.ImageURL,
		Brand:         deal.Product.Brand,
		Metadata:      deal.Product.Metadata,
		IsActive:      true,
		LastFetchedAt: now,
		UpdatedAt:     now,
	}

	if existing != nil {
		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		product.CategoryID = existing.CategoryID
	} else {
		product.ID = uuid.New()
		product.CreatedAt = now
	}
	if product.CategoryID == nil && deal.Product.CategoryHint != "" {
		product.CategoryID = o.resolveCategory(ctx, deal.Product.CategoryHint)
	}

	if err := o.store.UpsertProduct(ctx, product); err != nil {
		return nil, false, err
	}
	return product, existing == nil, nil
}

// recordPricePoint appends an observation unless the price is unchanged and
// the last observation is recent. Unchanged prices still get re-recorded
// eventually so history shows the price held, not that tracking stopped.
func (o *Orchestrator) recordPricePoint(ctx context.Context, product *models.Product, sourceID string) error {
	latest, err := o.store.LatestPricePoint(ctx, product.ID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Price == product.Price &&
		time.Since(latest.RecordedAt) < o.cfg.Ingest.MinRecordInterval {
		return nil
	}
	return o.store.InsertPricePoint(ctx, &models.PricePoint{
		ProductID:  product.ID,
		Price:      product.Price,
		Currency:   product.Currency,
		Source:     sourceID,
		RecordedAt: time.Now(),
	})
}

func (o *Orchestrator) publishDeal(ctx context.Context, sourceID string, product *models.Product, deal *models.NormalizedDeal, score models.DealScore, stats *models.IngestStats) error {
	existing, err := o.store.GetActiveDeal(ctx, product.ID, sourceID)
	if err != nil {
		return fmt.Errorf("lookup active deal: %w", err)
	}

	now := time.Now()
	row := &models.Deal{
		ProductID:     product.ID,
		Source:        sourceID,
		Title:         deal.Title,
		URL:           deal.URL,
		Price:         deal.Price,
		OriginalPrice: deal.OriginalPrice,
		DiscountPct:   deal.DiscountPct,
		Type:          deal.Type,
		Score:         score.Score,
		Tier:          score.Tier,
		Rationale:     score.Rationale,
		IsActive:      true,
		ExpiresAt:     deal.ExpiresAt,
		LastSeenAt:    now,
		UpdatedAt:     now,
	}

	if existing != nil {
		row.ID = existing.ID
		row.FirstSeenAt = existing.FirstSeenAt
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = uuid.New()
		row.FirstSeenAt = now
		row.CreatedAt = now
	}

	// Qualifying deals are the product of the whole pipeline; a transient
	// store hiccup gets the aggressive retry tier before we drop one.
	err = retry.Critical.Do(ctx, "publish "+deal.Product.ExternalID, func() error {
		return o.store.UpsertActiveDeal(ctx, row)
	})
	if err != nil {
		return fmt.Errorf("upsert deal: %w", err)
	}
	if existing != nil {
		stats.DealsUpdated++
	} else {
		stats.DealsCreated++
	}
	return nil
}

// =============================================================================
// Category resolution
// =============================================================================

// resolveCategory maps a storefront's category hint onto a known category,
// first by exact slug, then by fuzzy name similarity. Unmatched hints leave
// the product uncategorized rather than guessing.
func (o *Orchestrator) resolveCategory(ctx context.Context, hint string) *uuid.UUID {
	categories := o.loadCategories(ctx)
	if len(categories) == 0 {
		return nil
	}

	normalized := strings.ToLower(strings.TrimSpace(hint))
	for i := range categories {
		if categories[i].Slug == normalized {
			return &categories[i].ID
		}
	}

	var best *models.Category
	bestSim := 0.0
	for i := range categories {
		sim := matchr.JaroWinkler(normalized, strings.ToLower(categories[i].Name), false)
		if sim > bestSim {
			bestSim = sim
			best = &categories[i]
		}
	}
	if best != nil && bestSim >= categoryMatchThreshold {
		return &best.ID
	}
	return nil
}

func (o *Orchestrator) slugForCategoryID(ctx context.Context, id uuid.UUID) string {
	for _, c := range o.loadCategories(ctx) {
		if c.ID == id {
			return c.Slug
		}
	}
	return ""
}

// loadCategories caches the category table for five minutes. Categories are
// operator-managed and change rarely.
func (o *Orchestrator) loadCategories(ctx context.Context) []models.Category {
	o.catMu.Lock()
	defer o.catMu.Unlock()

	if o.categories != nil && time.Since(o.catLoadedAt) < 5*time.Minute {
		return o.categories
	}
	categories, err := o.store.ListCategories(ctx)
	if err != nil {
		log.Printf("ingest: loading categories failed: %v", err)
		return o.categories
	}
	o.categories = categories
	o.catLoadedAt = time.Now()
	return o.categories
}
