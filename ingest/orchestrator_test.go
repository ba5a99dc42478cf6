package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"dealhound/config"
	"dealhound/models"
)

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	categories  []models.Category
	products    map[string]*models.Product // source|external_id
	pricePoints map[uuid.UUID][]models.PricePoint
	deals       map[string]*models.Deal // product_id|source, active only
	history     map[string]*models.Deal // deactivated deals by id
}

func newMemStore() *memStore {
	return &memStore{
		products:    make(map[string]*models.Product),
		pricePoints: make(map[uuid.UUID][]models.PricePoint),
		deals:       make(map[string]*models.Deal),
		history:     make(map[string]*models.Deal),
	}
}

func (m *memStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	return m.categories, nil
}

func (m *memStore) GetProductBySourceExternalID(ctx context.Context, source, externalID string) (*models.Product, error) {
	if p, ok := m.products[source+"|"+externalID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	cp := *p
	m.products[p.Source+"|"+p.ExternalID] = &cp
	return nil
}

func (m *memStore) RetireStaleProducts(ctx context.Context, source string, notSeenSince time.Time) (int, error) {
	n := 0
	for _, p := range m.products {
		if p.Source == source && p.IsActive && p.LastFetchedAt.Before(notSeenSince) {
			p.IsActive = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) LatestPricePoint(ctx context.Context, productID uuid.UUID) (*models.PricePoint, error) {
	points := m.pricePoints[productID]
	if len(points) == 0 {
		return nil, nil
	}
	cp := points[len(points)-1]
	return &cp, nil
}

func (m *memStore) InsertPricePoint(ctx context.Context, p *models.PricePoint) error {
	m.pricePoints[p.ProductID] = append(m.pricePoints[p.ProductID], *p)
	return nil
}

func (m *memStore) GetActiveDeal(ctx context.Context, productID uuid.UUID, source string) (*models.Deal, error) {
	if d, ok := m.deals[productID.String()+"|"+source]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) UpsertActiveDeal(ctx context.Context, d *models.Deal) error {
	cp := *d
	m.deals[d.ProductID.String()+"|"+d.Source] = &cp
	return nil
}

func (m *memStore) DeactivateDeal(ctx context.Context, dealID uuid.UUID) error {
	for key, d := range m.deals {
		if d.ID == dealID {
			d.IsActive = false
			m.history[dealID.String()] = d
			delete(m.deals, key)
			return nil
		}
	}
	return nil
}

// fixedScorer returns a canned score per external ID prefix, defaulting to
// a qualifying score.
type fixedScorer struct {
	scores map[uuid.UUID]models.DealScore
	def    models.DealScore
}

func (f *fixedScorer) Score(ctx context.Context, productID uuid.UUID, currentPrice float64, originalPrice *float64, categorySlug string) models.DealScore {
	if s, ok := f.scores[productID]; ok {
		return s
	}
	return f.def
}

func qualifying() models.DealScore {
	return models.DealScore{Score: 60, Tier: models.TierDeal, Rationale: "test"}
}

func notQualifying() models.DealScore {
	return models.DealScore{Score: 10, Tier: models.TierNone, Rationale: "no significant signals"}
}

func testConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{
			MinRecordInterval: 6 * time.Hour,
			HistoryWindowDays: 90,
			StaleAfter:        72 * time.Hour,
		},
		Sources: map[string]*config.SourceConfig{
			"megamart": {ID: "megamart", Name: "MegaMart", Adapter: "html", Active: true},
		},
	}
}

func newTestOrchestrator(store *memStore, scorer Scorer) *Orchestrator {
	return NewOrchestrator(testConfig(), nil, store, scorer, nil)
}

func makeDeal(id string, price float64) models.NormalizedDeal {
	return models.NormalizedDeal{
		Product: models.NormalizedProduct{
			ExternalID: id,
			Title:      "Product " + id,
			Price:      price,
			Currency:   "USD",
			URL:        "https://megamart.test/p/" + id,
		},
		Title: "Product " + id,
		Price: price,
		URL:   "https://megamart.test/p/" + id,
		Type:  models.DealTypePriceDrop,
	}
}

func TestProcessDealsIsolatesBadItems(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})

	deals := make([]models.NormalizedDeal, 0, 17)
	for i := 1; i <= 17; i++ {
		d := makeDeal(fmt.Sprintf("sku-%02d", i), 100)
		if i == 9 {
			d.Price = -5
			d.Product.Price = -5
		}
		deals = append(deals, d)
	}

	stats := o.ProcessDeals(context.Background(), "megamart", deals)

	if stats.Errors != 1 {
		t.Fatalf("errors = %d, want 1", stats.Errors)
	}
	if stats.ProductsCreated != 16 {
		t.Fatalf("products created = %d, want 16", stats.ProductsCreated)
	}
	if stats.DealsCreated != 16 {
		t.Fatalf("deals created = %d, want 16", stats.DealsCreated)
	}
	if len(store.products) != 16 {
		t.Fatalf("store has %d products", len(store.products))
	}
}

func TestProcessDealIdempotent(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})
	ctx := context.Background()

	batch := []models.NormalizedDeal{makeDeal("sku-1", 100)}
	first := o.ProcessDeals(ctx, "megamart", batch)
	second := o.ProcessDeals(ctx, "megamart", batch)

	if first.DealsCreated != 1 || first.ProductsCreated != 1 {
		t.Fatalf("first pass: %+v", first)
	}
	if second.DealsCreated != 0 || second.DealsUpdated != 1 {
		t.Fatalf("second pass should update, not create: %+v", second)
	}
	if second.ProductsCreated != 0 || second.ProductsUpdated != 1 {
		t.Fatalf("second pass product counters: %+v", second)
	}

	// Same price twice within the record interval is one observation.
	p := store.products["megamart|sku-1"]
	if got := len(store.pricePoints[p.ID]); got != 1 {
		t.Fatalf("price points = %d, want 1", got)
	}
	if len(store.deals) != 1 {
		t.Fatalf("active deals = %d, want 1", len(store.deals))
	}
}

func TestPriceChangeRecordsNewPoint(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})
	ctx := context.Background()

	o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 100)})
	o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 90)})

	p := store.products["megamart|sku-1"]
	if got := len(store.pricePoints[p.ID]); got != 2 {
		t.Fatalf("price points = %d, want 2", got)
	}
}

func TestSkippedVersusDeactivated(t *testing.T) {
	store := newMemStore()
	scorer := &fixedScorer{scores: map[uuid.UUID]models.DealScore{}, def: qualifying()}
	o := newTestOrchestrator(store, scorer)
	ctx := context.Background()

	// Never qualified: skipped, nothing to deactivate.
	scorer.def = notQualifying()
	stats := o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 100)})
	if stats.DealsSkipped != 1 || stats.DealsDeactivated != 0 {
		t.Fatalf("first pass: %+v", stats)
	}

	// Qualifies, gets published.
	scorer.def = qualifying()
	stats = o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 80)})
	if stats.DealsCreated != 1 {
		t.Fatalf("publish pass: %+v", stats)
	}

	// Stops qualifying: the existing active deal is deactivated.
	scorer.def = notQualifying()
	stats = o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 100)})
	if stats.DealsDeactivated != 1 || stats.DealsSkipped != 0 {
		t.Fatalf("deactivate pass: %+v", stats)
	}
	if len(store.deals) != 0 {
		t.Fatalf("active deals = %d after deactivation", len(store.deals))
	}
}

func TestExpiredDealNotPublished(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})

	expired := time.Now().Add(-time.Hour)
	d := makeDeal("sku-1", 100)
	d.ExpiresAt = &expired

	stats := o.ProcessDeals(context.Background(), "megamart", []models.NormalizedDeal{d})
	if stats.DealsSkipped != 1 || stats.DealsCreated != 0 {
		t.Fatalf("expired deal stats: %+v", stats)
	}
}

func TestFirstSeenAtPreservedAcrossUpdates(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})
	ctx := context.Background()

	o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 100)})
	var firstSeen time.Time
	for _, d := range store.deals {
		firstSeen = d.FirstSeenAt
	}

	time.Sleep(5 * time.Millisecond)
	o.ProcessDeals(ctx, "megamart", []models.NormalizedDeal{makeDeal("sku-1", 95)})
	for _, d := range store.deals {
		if !d.FirstSeenAt.Equal(firstSeen) {
			t.Fatalf("first_seen_at moved from %v to %v", firstSeen, d.FirstSeenAt)
		}
		if !d.LastSeenAt.After(firstSeen) {
			t.Fatalf("last_seen_at %v not advanced past %v", d.LastSeenAt, firstSeen)
		}
	}
}

func TestResolveCategory(t *testing.T) {
	store := newMemStore()
	electronics := models.Category{ID: uuid.New(), Slug: "electronics", Name: "Electronics"}
	kitchen := models.Category{ID: uuid.New(), Slug: "kitchen", Name: "Kitchen & Dining"}
	store.categories = []models.Category{electronics, kitchen}

	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})
	ctx := context.Background()

	if got := o.resolveCategory(ctx, "electronics"); got == nil || *got != electronics.ID {
		t.Fatalf("exact slug match failed: %v", got)
	}
	if got := o.resolveCategory(ctx, "Electronics "); got == nil || *got != electronics.ID {
		t.Fatalf("normalized match failed: %v", got)
	}
	if got := o.resolveCategory(ctx, "electroncs"); got == nil || *got != electronics.ID {
		t.Fatalf("fuzzy match failed: %v", got)
	}
	if got := o.resolveCategory(ctx, "garden furniture"); got != nil {
		t.Fatalf("unrelated hint matched category %v", got)
	}
}

func TestRunSourceChecks(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fixedScorer{def: qualifying()})
	ctx := context.Background()

	if _, err := o.RunSource(ctx, "unknown", nil); err == nil {
		t.Fatal("unknown source should fail")
	}

	o.cfg.Sources["megamart"].Active = false
	if _, err := o.RunSource(ctx, "megamart", nil); err == nil {
		t.Fatal("inactive source should fail")
	}
	o.cfg.Sources["megamart"].Active = true

	o.Pause()
	if _, err := o.RunSource(ctx, "megamart", nil); err != ErrPaused {
		t.Fatalf("paused run error = %v", err)
	}
	o.Resume()
	if o.IsPaused() {
		t.Fatal("resume did not clear pause flag")
	}
}
