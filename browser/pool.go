package browser

import (
	"fmt"
	"log"
	"sync"

	"github.com/playwright-community/playwright-go"

	"dealhound/identity"
	"dealhound/proxy"
)

// Config controls how the shared browser process is launched.
type Config struct {
	Headless bool
	Locale   string
	Timezone string
}

// stealthScript papers over the obvious headless tells before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`

// blockedResources are fetched by real pages but useless for extraction.
// Skipping them cuts bandwidth and speeds navigation on heavy storefronts.
var blockedResources = map[string]bool{
	"image": true,
	"font":  true,
	"media": true,
}

// SessionPool shares one browser process across all browser-driven sources,
// with one isolated context (cookies, storage, identity) per source.
type SessionPool struct {
	mu       sync.Mutex
	cfg      Config
	proxies  proxy.Pool
	pw       *playwright.Playwright
	browser  playwright.Browser
	sessions map[string]*Session
}

// Session is a per-source browser context plus its identity profile.
type Session struct {
	Context  playwright.BrowserContext
	Profile  identity.Profile
	ProxyURL string
}

func NewSessionPool(cfg Config, proxies proxy.Pool) *SessionPool {
	return &SessionPool{
		cfg:      cfg,
		proxies:  proxies,
		sessions: make(map[string]*Session),
	}
}

// Session returns the context for the named source, launching the browser
// process and creating the context lazily on first use.
func (p *SessionPool) Session(name string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[name]; ok {
		return s, nil
	}
	if err := p.ensureBrowserLocked(); err != nil {
		return nil, err
	}

	profile := identity.RandomProfile()
	opts := playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(profile.UserAgent),
		Locale:     playwright.String(p.locale(profile)),
		TimezoneId: playwright.String(p.timezone(profile)),
		Viewport: &playwright.Size{
			Width:  profile.ViewportWidth,
			Height: profile.ViewportHeight,
		},
	}

	proxyURL, useProxy := p.proxies.Next()
	if useProxy {
		opts.Proxy = &playwright.Proxy{Server: proxyURL}
	}

	ctx, err := p.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("create context for %s: %w", name, err)
	}
	if err := ctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		ctx.Close()
		return nil, fmt.Errorf("install init script for %s: %w", name, err)
	}
	err = ctx.Route("**/*", func(route playwright.Route) {
		if blockedResources[route.Request().ResourceType()] {
			route.Abort()
			return
		}
		route.Continue()
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("install route filter for %s: %w", name, err)
	}

	s := &Session{Context: ctx, Profile: profile, ProxyURL: proxyURL}
	p.sessions[name] = s
	log.Printf("browser: started session for %s (proxy=%v)", name, useProxy)
	return s, nil
}

// Drop closes and forgets the named session so the next Session call builds
// a fresh context with a new identity.
func (p *SessionPool) Drop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[name]; ok {
		s.Context.Close()
		delete(p.sessions, name)
	}
}

func (p *SessionPool) ensureBrowserLocked() error {
	if p.browser != nil {
		return nil
	}

	var err error
	p.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	p.browser, err = p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		p.pw.Stop()
		p.pw = nil
		return fmt.Errorf("launch browser: %w", err)
	}
	return nil
}

// Shutdown closes every session and stops the browser process.
func (p *SessionPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, s := range p.sessions {
		s.Context.Close()
		delete(p.sessions, name)
	}
	if p.browser != nil {
		p.browser.Close()
		p.browser = nil
	}
	if p.pw != nil {
		p.pw.Stop()
		p.pw = nil
	}
}

func (p *SessionPool) locale(profile identity.Profile) string {
	if p.cfg.Locale != "" {
		return p.cfg.Locale
	}
	return profile.Locale
}

func (p *SessionPool) timezone(profile identity.Profile) string {
	if p.cfg.Timezone != "" {
		return p.cfg.Timezone
	}
	return profile.Timezone
}
