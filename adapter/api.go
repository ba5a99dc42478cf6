package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"

	"dealhound/config"
	"dealhound/httputil"
	"dealhound/identity"
	"dealhound/models"
	"dealhound/retry"
)

// apiAdapter consumes storefronts that expose a paginated JSON deals feed.
type apiAdapter struct {
	cfg      *config.SourceConfig
	deps     Deps
	client   *resty.Client
	proxyURL string
}

func newAPIAdapter(cfg *config.SourceConfig, deps Deps) *apiAdapter {
	proxyURL := ""
	if cfg.UseProxy {
		proxyURL, _ = deps.Proxies.Next()
	}
	return &apiAdapter{
		cfg:      cfg,
		deps:     deps,
		client:   httputil.NewAPIClient(identity.RandomProfile(), proxyURL),
		proxyURL: proxyURL,
	}
}

func (a *apiAdapter) ID() string { return a.cfg.ID }

type feedResponse struct {
	Deals      []feedDeal `json:"deals"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
}

type feedDeal struct {
	ExternalID    string   `json:"id"`
	Title         string   `json:"title"`
	Price         float64  `json:"price"`
	OriginalPrice *float64 `json:"original_price"`
	Currency      string   `json:"currency"`
	URL           string   `json:"url"`
	ImageURL      string   `json:"image_url"`
	Brand         string   `json:"brand"`
	Category      string   `json:"category"`
	DealType      string   `json:"deal_type"`
	DiscountPct   *float64 `json:"discount_pct"`
	ExpiresAt     *string  `json:"expires_at"`
}

func (a *apiAdapter) FetchDeals(ctx context.Context, category *string) ([]models.NormalizedDeal, error) {
	endpoint := a.cfg.Endpoints["deals"]
	if endpoint == "" {
		endpoint = a.cfg.DealsURL
	}

	maxPages := a.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var deals []models.NormalizedDeal
	for page := 1; page <= maxPages; page++ {
		feed, err := a.fetchPage(ctx, endpoint, page, category)
		if err != nil {
			// Pages already collected are still usable; a block midway
			// through pagination must not discard them.
			if len(deals) > 0 {
				log.Printf("%s: pagination stopped at page %d: %v (keeping %d deals)", a.cfg.ID, page, err, len(deals))
				return deals, nil
			}
			return nil, err
		}
		for i := range feed.Deals {
			deals = append(deals, a.normalize(&feed.Deals[i]))
		}
		if feed.TotalPages > 0 && page >= feed.TotalPages {
			break
		}
		if len(feed.Deals) == 0 {
			break
		}
	}
	return deals, nil
}

func (a *apiAdapter) fetchPage(ctx context.Context, endpoint string, page int, category *string) (*feedResponse, error) {
	if err := a.deps.Limiter.Acquire(ctx, a.cfg.Domain()); err != nil {
		return nil, err
	}

	var feed feedResponse
	err := retry.Network.Do(ctx, a.cfg.ID, func() error {
		req := a.client.R().
			SetContext(ctx).
			SetQueryParam("page", fmt.Sprintf("%d", page))
		if category != nil && *category != "" {
			req.SetQueryParam("category", *category)
		}

		resp, err := req.Get(endpoint)
		if err != nil {
			a.reportProxy(false)
			return err
		}
		if resp.StatusCode() == 403 || resp.StatusCode() == 503 || looksBlocked(string(resp.Body())) {
			a.reportProxy(false)
			return fmt.Errorf("%s page %d: %w", a.cfg.ID, page, retry.ErrBlocked)
		}
		if resp.StatusCode() != 200 {
			return &retry.StatusError{Code: resp.StatusCode(), URL: endpoint}
		}
		if err := json.Unmarshal(resp.Body(), &feed); err != nil {
			return fmt.Errorf("decode deals feed: %w", err)
		}
		a.reportProxy(true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

func (a *apiAdapter) normalize(d *feedDeal) models.NormalizedDeal {
	currency := d.Currency
	if currency == "" {
		currency = a.cfg.Currency
	}
	pageURL := absoluteURL(a.cfg.BaseURL, d.URL)

	deal := models.NormalizedDeal{
		Product: models.NormalizedProduct{
			ExternalID:    d.ExternalID,
			Title:         d.Title,
			Price:         d.Price,
			OriginalPrice: d.OriginalPrice,
			Currency:      currency,
			URL:           pageURL,
			ImageURL:      absoluteURL(a.cfg.BaseURL, d.ImageURL),
			Brand:         d.Brand,
			CategoryHint:  d.Category,
		},
		Title:         d.Title,
		Price:         d.Price,
		OriginalPrice: d.OriginalPrice,
		URL:           pageURL,
		DiscountPct:   d.DiscountPct,
		Type:          mapDealType(d.DealType, a.cfg.DefaultDealType),
	}
	if deal.Product.ExternalID == "" {
		deal.Product.ExternalID = identity.Fingerprint(a.cfg.ID, pageURL)
	}
	if deal.DiscountPct == nil {
		deal.DiscountPct = discountPct(d.Price, d.OriginalPrice)
	}
	if d.ExpiresAt != nil {
		if t, err := time.Parse(time.RFC3339, *d.ExpiresAt); err == nil {
			deal.ExpiresAt = &t
		}
	}
	return deal
}

func (a *apiAdapter) FetchProductDetails(ctx context.Context, externalID string) (*models.NormalizedProduct, error) {
	endpoint := a.cfg.Endpoints["product"]
	if endpoint == "" {
		return nil, fmt.Errorf("%s: no product endpoint configured", a.cfg.ID)
	}
	if err := a.deps.Limiter.Acquire(ctx, a.cfg.Domain()); err != nil {
		return nil, err
	}

	var d feedDeal
	err := retry.Network.Do(ctx, a.cfg.ID, func() error {
		resp, err := a.client.R().
			SetContext(ctx).
			SetPathParam("id", externalID).
			Get(endpoint)
		if err != nil {
			return err
		}
		if resp.StatusCode() != 200 {
			return &retry.StatusError{Code: resp.StatusCode(), URL: endpoint}
		}
		return json.Unmarshal(resp.Body(), &d)
	})
	if err != nil {
		return nil, err
	}

	product := a.normalize(&d).Product
	return &product, nil
}

func (a *apiAdapter) HealthCheck(ctx context.Context) bool {
	endpoint := a.cfg.Endpoints["health"]
	if endpoint == "" {
		endpoint = a.cfg.BaseURL
	}
	resp, err := a.client.R().SetContext(ctx).Get(endpoint)
	return err == nil && resp.StatusCode() < 500
}

func (a *apiAdapter) reportProxy(ok bool) {
	if a.proxyURL == "" {
		return
	}
	if ok {
		a.deps.Proxies.ReportSuccess(a.proxyURL)
	} else {
		a.deps.Proxies.ReportFailure(a.proxyURL)
	}
}
