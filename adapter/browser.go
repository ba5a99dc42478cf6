package adapter

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"dealhound/browser"
	"dealhound/config"
	"dealhound/identity"
	"dealhound/models"
	"dealhound/retry"
)

// browserAdapter drives a real browser for storefronts that render listings
// client-side or sit behind aggressive bot protection.
type browserAdapter struct {
	cfg  *config.SourceConfig
	deps Deps
}

func newBrowserAdapter(cfg *config.SourceConfig, deps Deps) *browserAdapter {
	return &browserAdapter{cfg: cfg, deps: deps}
}

func (a *browserAdapter) ID() string { return a.cfg.ID }

func (a *browserAdapter) FetchDeals(ctx context.Context, category *string) ([]models.NormalizedDeal, error) {
	session, err := a.deps.Browser.Session(a.cfg.ID)
	if err != nil {
		return nil, err
	}

	page, err := session.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%s: open page: %w", a.cfg.ID, err)
	}
	defer page.Close()

	maxPages := a.cfg.MaxPages
	if maxPages <= 0 || !strings.Contains(a.cfg.DealsURL, "%d") {
		maxPages = 1
	}

	var deals []models.NormalizedDeal
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		pageURL := a.cfg.DealsURL
		if strings.Contains(pageURL, "%d") {
			pageURL = fmt.Sprintf(pageURL, pageNum)
		}

		pageDeals, err := a.fetchListingPage(ctx, session, page, pageURL)
		if err != nil {
			if len(deals) > 0 {
				log.Printf("%s: pagination stopped at page %d: %v (keeping %d deals)", a.cfg.ID, pageNum, err, len(deals))
				return deals, nil
			}
			return nil, err
		}
		if len(pageDeals) == 0 {
			break
		}
		deals = append(deals, pageDeals...)
		humanDelay(2000, 5000)
	}
	return deals, nil
}

func (a *browserAdapter) fetchListingPage(ctx context.Context, session *browser.Session, page playwright.Page, pageURL string) ([]models.NormalizedDeal, error) {
	if err := a.deps.Limiter.Acquire(ctx, a.cfg.Domain()); err != nil {
		return nil, err
	}

	err := retry.Browser.Do(ctx, a.cfg.ID, func() error {
		if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
			Timeout:   playwright.Float(60000),
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return err
		}
		humanDelay(1500, 3500)

		blocked, err := a.detectChallenge(page)
		if err != nil {
			return err
		}
		if blocked {
			// A burned context stays burned; the next run gets a fresh
			// identity instead of replaying this one against the challenge.
			a.deps.Browser.Drop(a.cfg.ID)
			if session.ProxyURL != "" {
				a.deps.Proxies.ReportFailure(session.ProxyURL)
			}
			return fmt.Errorf("%s: %w", pageURL, retry.ErrBlocked)
		}

		return page.Locator(a.cfg.Selectors.List).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(15000),
		})
	})
	if err != nil {
		return nil, err
	}
	if session.ProxyURL != "" {
		a.deps.Proxies.ReportSuccess(session.ProxyURL)
	}

	return a.extractDeals(page)
}

// detectChallenge checks the rendered page for bot-wall tells.
func (a *browserAdapter) detectChallenge(page playwright.Page) (bool, error) {
	title, err := page.Title()
	if err != nil {
		return false, err
	}
	if looksBlocked(title) {
		return true, nil
	}
	body, err := page.Locator("body").TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(5000),
	})
	if err != nil {
		return false, nil
	}
	// Challenge pages are near-empty shells; real listing pages are not.
	return len(body) < 2000 && looksBlocked(body), nil
}

func (a *browserAdapter) extractDeals(page playwright.Page) ([]models.NormalizedDeal, error) {
	sel := a.cfg.Selectors
	cards, err := page.Locator(sel.List).All()
	if err != nil {
		return nil, fmt.Errorf("locate deal cards: %w", err)
	}

	var deals []models.NormalizedDeal
	for i, card := range cards {
		deal, err := a.extractCard(card)
		if err != nil {
			log.Printf("%s: skipping card %d: %v", a.cfg.ID, i, err)
			continue
		}
		deals = append(deals, *deal)
	}
	return deals, nil
}

func (a *browserAdapter) extractCard(card playwright.Locator) (*models.NormalizedDeal, error) {
	sel := a.cfg.Selectors

	title, err := locatorText(card, sel.Title)
	if err != nil || title == "" {
		return nil, fmt.Errorf("no title under %q", sel.Title)
	}
	priceText, err := locatorText(card, sel.Price)
	if err != nil {
		return nil, err
	}
	price, err := parsePrice(priceText)
	if err != nil {
		return nil, err
	}

	var original *float64
	if sel.OriginalPrice != "" {
		if text, err := locatorText(card, sel.OriginalPrice); err == nil {
			if v, err := parsePrice(text); err == nil && v > price {
				original = &v
			}
		}
	}

	href, err := card.Locator(sel.URL).First().GetAttribute("href")
	if err != nil || href == "" {
		return nil, fmt.Errorf("no link under %q", sel.URL)
	}
	pageURL := absoluteURL(a.cfg.BaseURL, href)

	externalID := ""
	if sel.ExternalIDAttr != "" {
		externalID, _ = card.GetAttribute(sel.ExternalIDAttr)
	}
	if externalID == "" {
		externalID = identity.Fingerprint(a.cfg.ID, pageURL)
	}

	img := ""
	if sel.Image != "" {
		img, _ = card.Locator(sel.Image).First().GetAttribute("src")
	}
	badge := ""
	if sel.DealType != "" {
		badge, _ = locatorText(card, sel.DealType)
	}

	return &models.NormalizedDeal{
		Product: models.NormalizedProduct{
			ExternalID:    externalID,
			Title:         title,
			Price:         price,
			OriginalPrice: original,
			Currency:      a.cfg.Currency,
			URL:           pageURL,
			ImageURL:      absoluteURL(a.cfg.BaseURL, img),
			CategoryHint:  a.cfg.CategoryHint,
		},
		Title:         title,
		Price:         price,
		OriginalPrice: original,
		URL:           pageURL,
		DiscountPct:   discountPct(price, original),
		Type:          mapDealType(badge, a.cfg.DefaultDealType),
	}, nil
}

func (a *browserAdapter) FetchProductDetails(ctx context.Context, externalID string) (*models.NormalizedProduct, error) {
	if a.cfg.ProductURL == "" {
		return nil, fmt.Errorf("%s: no product url configured", a.cfg.ID)
	}
	session, err := a.deps.Browser.Session(a.cfg.ID)
	if err != nil {
		return nil, err
	}
	page, err := session.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%s: open page: %w", a.cfg.ID, err)
	}
	defer page.Close()

	pageURL := strings.ReplaceAll(a.cfg.ProductURL, "{id}", externalID)
	if err := a.deps.Limiter.Acquire(ctx, a.cfg.Domain()); err != nil {
		return nil, err
	}

	sel := a.cfg.Selectors
	var product *models.NormalizedProduct
	err = retry.Browser.Do(ctx, a.cfg.ID, func() error {
		if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
			Timeout:   playwright.Float(60000),
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return err
		}
		humanDelay(1000, 2500)

		title, err := page.Locator(sel.ProductTitle).First().TextContent()
		if err != nil {
			return err
		}
		priceText, err := page.Locator(sel.ProductPrice).First().TextContent()
		if err != nil {
			return err
		}
		price, err := parsePrice(priceText)
		if err != nil {
			return err
		}
		img := ""
		if sel.ProductImage != "" {
			img, _ = page.Locator(sel.ProductImage).First().GetAttribute("src")
		}
		product = &models.NormalizedProduct{
			ExternalID: externalID,
			Title:      strings.TrimSpace(title),
			Price:      price,
			Currency:   a.cfg.Currency,
			URL:        pageURL,
			ImageURL:   absoluteURL(a.cfg.BaseURL, img),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (a *browserAdapter) HealthCheck(ctx context.Context) bool {
	session, err := a.deps.Browser.Session(a.cfg.ID)
	if err != nil {
		return false
	}
	page, err := session.Context.NewPage()
	if err != nil {
		return false
	}
	defer page.Close()

	if _, err := page.Goto(a.cfg.BaseURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(30000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return false
	}
	blocked, err := a.detectChallenge(page)
	return err == nil && !blocked
}

func locatorText(card playwright.Locator, selector string) (string, error) {
	text, err := card.Locator(selector).First().TextContent()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// humanDelay sleeps a random interval so navigation pacing does not look
// machine-regular.
func humanDelay(minMs, maxMs int) {
	time.Sleep(time.Duration(minMs+rand.Intn(maxMs-minMs)) * time.Millisecond)
}
