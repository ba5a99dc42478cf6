package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"

	"dealhound/identity"
)

// NewScrapingClient builds a client aimed at target storefronts: browser-like
// headers from the identity profile, no automatic redirects (storefronts
// redirect blocked clients to challenge pages and we want to see the 3xx),
// and an optional egress proxy.
func NewScrapingClient(profile identity.Profile, proxyURL string) *resty.Client {
	client := resty.New().
		SetTimeout(20 * time.Second).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetHeader("User-Agent", profile.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8").
		SetHeader("Accept-Language", profile.AcceptLanguage()).
		SetHeader("Sec-Fetch-Dest", "document").
		SetHeader("Sec-Fetch-Mode", "navigate").
		SetHeader("Sec-Fetch-Site", "none")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return client
}

// NewAPIClient builds a plain client for JSON feeds that do not fight back.
func NewAPIClient(profile identity.Profile, proxyURL string) *resty.Client {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", profile.UserAgent).
		SetHeader("Accept", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return client
}
