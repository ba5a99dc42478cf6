package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
)

// Profile is a coherent browser identity. All fields are picked together so
// that the user agent, platform and locale do not contradict each other.
type Profile struct {
	UserAgent      string
	Platform       string
	Locale         string
	Timezone       string
	Languages      []string
	ViewportWidth  int
	ViewportHeight int
}

var profiles = []Profile{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:       "Win32",
		Locale:         "en-US",
		Timezone:       "America/New_York",
		Languages:      []string{"en-US", "en"},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:       "MacIntel",
		Locale:         "en-US",
		Timezone:       "America/Chicago",
		Languages:      []string{"en-US", "en"},
		ViewportWidth:  1680,
		ViewportHeight: 1050,
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		Platform:       "Win32",
		Locale:         "en-GB",
		Timezone:       "Europe/London",
		Languages:      []string{"en-GB", "en"},
		ViewportWidth:  1536,
		ViewportHeight: 864,
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:       "Linux x86_64",
		Locale:         "en-US",
		Timezone:       "America/Los_Angeles",
		Languages:      []string{"en-US", "en"},
		ViewportWidth:  1920,
		ViewportHeight: 1200,
	},
}

// RandomProfile returns one of the built-in profiles.
func RandomProfile() Profile {
	return profiles[rand.Intn(len(profiles))]
}

// AcceptLanguage builds the Accept-Language header value for the profile,
// with descending quality values after the primary language.
func (p Profile) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return p.Locale
	}
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - float64(i)*0.1
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Fingerprint derives a stable external identifier for a listing that does
// not expose one of its own. The source is part of the input so identical
// URLs on different storefronts never collide.
func Fingerprint(source, url string) string {
	input := source + "|" + strings.TrimRight(strings.TrimSpace(url), "/")
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}
