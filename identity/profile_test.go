package identity

import (
	"strings"
	"testing"
)

func TestRandomProfileCoherent(t *testing.T) {
	for i := 0; i < 20; i++ {
		p := RandomProfile()
		if p.UserAgent == "" || p.Platform == "" || p.Locale == "" || p.Timezone == "" {
			t.Fatalf("incomplete profile: %+v", p)
		}
		if p.ViewportWidth <= 0 || p.ViewportHeight <= 0 {
			t.Fatalf("invalid viewport: %dx%d", p.ViewportWidth, p.ViewportHeight)
		}
		if len(p.Languages) == 0 || p.Languages[0] != p.Locale {
			t.Fatalf("primary language %v does not match locale %s", p.Languages, p.Locale)
		}
	}
}

func TestAcceptLanguage(t *testing.T) {
	p := Profile{Locale: "en-US", Languages: []string{"en-US", "en"}}
	got := p.AcceptLanguage()
	if got != "en-US,en;q=0.9" {
		t.Fatalf("AcceptLanguage() = %q", got)
	}
	if !strings.HasPrefix(got, p.Locale) {
		t.Fatalf("header %q does not lead with locale", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("megamart", "https://megamart.test/p/123")
	b := Fingerprint("megamart", "https://megamart.test/p/123/")
	if a != b {
		t.Fatalf("trailing slash changed fingerprint: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("unexpected fingerprint length %d", len(a))
	}
	if a == Fingerprint("other", "https://megamart.test/p/123") {
		t.Fatal("different sources produced the same fingerprint")
	}
}
