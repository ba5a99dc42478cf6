package adapter

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"dealhound/models"
)

var priceCleanRegex = regexp.MustCompile(`[^\d.,]`)

// parsePrice extracts a price from storefront text like "$1,299.99",
// "1.299,00 €" or "Now: 49.90". Returns an error when no digits survive.
func parsePrice(raw string) (float64, error) {
	s := priceCleanRegex.ReplaceAllString(raw, "")
	if s == "" {
		return 0, fmt.Errorf("no price in %q", raw)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		// European format: comma is the decimal separator.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return price, nil
}

var dealTypeKeywords = []struct {
	keyword string
	t       models.DealType
}{
	{"flash", models.DealTypeFlashSale},
	{"lightning", models.DealTypeFlashSale},
	{"coupon", models.DealTypeCoupon},
	{"code", models.DealTypeCoupon},
	{"clearance", models.DealTypeClearance},
	{"closeout", models.DealTypeClearance},
	{"bundle", models.DealTypeBundle},
	{"combo", models.DealTypeBundle},
}

// mapDealType resolves a storefront's free-text badge into the closed type
// set, falling back to the source default and then to price_drop.
func mapDealType(raw, sourceDefault string) models.DealType {
	lowered := strings.ToLower(raw)
	for _, kw := range dealTypeKeywords {
		if strings.Contains(lowered, kw.keyword) {
			return kw.t
		}
	}
	if def := models.DealType(sourceDefault); def.Valid() {
		return def
	}
	return models.DealTypePriceDrop
}

// absoluteURL resolves href against the source base URL.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

// discountPct derives the listed discount when the storefront shows both
// prices but no explicit percentage.
func discountPct(price float64, original *float64) *float64 {
	if original == nil || *original <= 0 || price >= *original {
		return nil
	}
	pct := (*original - price) / *original * 100
	return &pct
}

var challengeMarkers = []string{
	"captcha",
	"incapsula",
	"access denied",
	"are you a robot",
	"unusual traffic",
	"cf-challenge",
	"just a moment",
}

// looksBlocked inspects a response body for bot-challenge tells. Status codes
// alone are not enough: some storefronts serve challenges with a 200.
func looksBlocked(body string) bool {
	lowered := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
