package adapter

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"dealhound/config"
	"dealhound/httputil"
	"dealhound/identity"
	"dealhound/models"
	"dealhound/retry"
)

// htmlAdapter scrapes server-rendered storefronts with configured CSS
// selectors. It carries no site-specific code: a new storefront of this kind
// is one YAML file.
type htmlAdapter struct {
	cfg      *config.SourceConfig
	deps     Deps
	client   *resty.Client
	proxyURL string
}

func newHTMLAdapter(cfg *config.SourceConfig, deps Deps) *htmlAdapter {
	proxyURL := ""
	if cfg.UseProxy {
		proxyURL, _ = deps.Proxies.Next()
	}
	return &htmlAdapter{
		cfg:      cfg,
		deps:     deps,
		client:   httputil.NewScrapingClient(identity.RandomProfile(), proxyURL),
		proxyURL: proxyURL,
	}
}

func (a *htmlAdapter) ID() string { return a.cfg.ID }

func (a *htmlAdapter) FetchDeals(ctx context.Context, category *string) ([]models.NormalizedDeal, error) {
	maxPages := a.cfg.MaxPages
	if maxPages <= 0 || !strings.Contains(a.cfg.DealsURL, "%d") {
		maxPages = 1
	}

	var deals []models.NormalizedDeal
	for page := 1; page <= maxPages; page++ {
		pageURL := a.cfg.DealsURL
		if strings.Contains(pageURL, "%d") {
			pageURL = fmt.Sprintf(pageURL, page)
		}

		doc, err := a.fetchDocument(ctx, pageURL)
		if err != nil {
			if len(deals) > 0 {
				log.Printf("%s: pagination stopped at page %d: %v (keeping %d deals)", a.cfg.ID, page, err, len(deals))
				return deals, nil
			}
			return nil, err
		}

		pageDeals := a.parseDoc(doc, category)
		if len(pageDeals) == 0 {
			break
		}
		deals = append(deals, pageDeals...)
	}
	return deals, nil
}

func (a *htmlAdapter) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := a.deps.Limiter.Acquire(ctx, a.cfg.Domain()); err != nil {
		return nil, err
	}

	var doc *goquery.Document
	err := retry.Network.Do(ctx, a.cfg.ID, func() error {
		resp, err := a.client.R().SetContext(ctx).Get(pageURL)
		if err != nil {
			a.reportProxy(false)
			return err
		}
		body := string(resp.Body())
		if resp.StatusCode() == 403 || resp.StatusCode() == 503 || looksBlocked(body) {
			a.reportProxy(false)
			return fmt.Errorf("%s: %w", pageURL, retry.ErrBlocked)
		}
		if resp.StatusCode() != 200 {
			return &retry.StatusError{Code: resp.StatusCode(), URL: pageURL}
		}
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("parse page: %w", err)
		}
		a.reportProxy(true)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// parseDoc extracts deals from a listing page. Individually broken cards are
// skipped with a log line; one mangled card must not sink the page.
func (a *htmlAdapter) parseDoc(doc *goquery.Document, category *string) []models.NormalizedDeal {
	sel := a.cfg.Selectors
	var deals []models.NormalizedDeal

	doc.Find(sel.List).Each(func(i int, card *goquery.Selection) {
		deal, err := a.parseCard(card)
		if err != nil {
			log.Printf("%s: skipping card %d: %v", a.cfg.ID, i, err)
			return
		}
		if category != nil && *category != "" && deal.Product.CategoryHint == "" {
			deal.Product.CategoryHint = *category
		}
		deals = append(deals, *deal)
	})
	return deals
}

func (a *htmlAdapter) parseCard(card *goquery.Selection) (*models.NormalizedDeal, error) {
	sel := a.cfg.Selectors

	title := strings.TrimSpace(card.Find(sel.Title).First().Text())
	if title == "" {
		return nil, fmt.Errorf("no title under %q", sel.Title)
	}

	price, err := parsePrice(card.Find(sel.Price).First().Text())
	if err != nil {
		return nil, err
	}

	var original *float64
	if sel.OriginalPrice != "" {
		if v, err := parsePrice(card.Find(sel.OriginalPrice).First().Text()); err == nil && v > price {
			original = &v
		}
	}

	href, _ := card.Find(sel.URL).First().Attr("href")
	pageURL := absoluteURL(a.cfg.BaseURL, href)
	if pageURL == "" {
		return nil, fmt.Errorf("no link under %q", sel.URL)
	}

	externalID := ""
	if sel.ExternalIDAttr != "" {
		externalID, _ = card.Attr(sel.ExternalIDAttr)
	}
	if externalID == "" {
		externalID = identity.Fingerprint(a.cfg.ID, pageURL)
	}

	img := ""
	if sel.Image != "" {
		img, _ = card.Find(sel.Image).First().Attr("src")
	}
	brand := ""
	if sel.Brand != "" {
		brand = strings.TrimSpace(card.Find(sel.Brand).First().Text())
	}
	badge := ""
	if sel.DealType != "" {
		badge = strings.TrimSpace(card.Find(sel.DealType).First().Text())
	}

	deal := &models.NormalizedDeal{
		Product: models.NormalizedProduct{
			ExternalID:    externalID,
			Title:         title,
			Price:         price,
			OriginalPrice: original,
			Currency:      a.cfg.Currency,
			URL:           pageURL,
			ImageURL:      absoluteURL(a.cfg.BaseURL, img),
			Brand:         brand,
			CategoryHint:  a.cfg.CategoryHint,
		},
		Title:         title,
		Price:         price,
		OriginalPrice: original,
		URL:           pageURL,
		DiscountPct:   discountPct(price, original),
		Type:          mapDealType(badge, a.cfg.DefaultDealType),
	}
	return deal, nil
}

func (a *htmlAdapter) FetchProductDetails(ctx context.Context, externalID string) (*models.NormalizedProduct, error) {
	if a.cfg.ProductURL == "" {
		return nil, fmt.Errorf("%s: no product url configured", a.cfg.ID)
	}
	pageURL := strings.ReplaceAll(a.cfg.ProductURL, "{id}", externalID)

	doc, err := a.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	sel := a.cfg.Selectors
	title := strings.TrimSpace(doc.Find(sel.ProductTitle).First().Text())
	if title == "" {
		return nil, fmt.Errorf("%s: product %s has no title", a.cfg.ID, externalID)
	}
	price, err := parsePrice(doc.Find(sel.ProductPrice).First().Text())
	if err != nil {
		return nil, err
	}
	img := ""
	if sel.ProductImage != "" {
		img, _ = doc.Find(sel.ProductImage).First().Attr("src")
	}

	return &models.NormalizedProduct{
		ExternalID: externalID,
		Title:      title,
		Price:      price,
		Currency:   a.cfg.Currency,
		URL:        pageURL,
		ImageURL:   absoluteURL(a.cfg.BaseURL, img),
	}, nil
}

func (a *htmlAdapter) HealthCheck(ctx context.Context) bool {
	resp, err := a.client.R().SetContext(ctx).Get(a.cfg.BaseURL)
	return err == nil && resp.StatusCode() < 500 && !looksBlocked(string(resp.Body()))
}

func (a *htmlAdapter) reportProxy(ok bool) {
	if a.proxyURL == "" {
		return
	}
	if ok {
		a.deps.Proxies.ReportSuccess(a.proxyURL)
	} else {
		a.deps.Proxies.ReportFailure(a.proxyURL)
	}
}
