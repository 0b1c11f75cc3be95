package classify

import "testing"

var locales = []string{"en", "ar"}

func TestIsStaticOrInternal(t *testing.T) {
	cases := map[string]bool{
		"/_next/static/chunks/main.js": true,
		"/api/_internal/warm":          true,
		"/favicon.ico":                 true,
		"/en/products/1.jpg":           true,
		"/en/products":                 false,
		"/":                           false,
	}
	for path, want := range cases {
		if got := IsStaticOrInternal(path); got != want {
			t.Errorf("IsStaticOrInternal(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestStaticWinsOverOtherClasses(t *testing.T) {
	// A protected-looking path with an extension is static first.
	path := "/en/dashboard/report.pdf"
	if !IsStaticOrInternal(path) {
		t.Fatal("extension path must classify static")
	}
	if !IsProtectedPath(path) {
		t.Fatal("precondition: path also matches protected set")
	}
	// The tie-break is enforced by the engine checking static first; this
	// test pins that both classifications hold so the ordering matters.
}

func TestHasLocalePrefix(t *testing.T) {
	cases := map[string]bool{
		"/en":           true,
		"/en/":          true,
		"/ar/products":  true,
		"/enx/products": false,
		"/products":     false,
		"/":             false,
	}
	for path, want := range cases {
		if got := HasLocalePrefix(path, locales); got != want {
			t.Errorf("HasLocalePrefix(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLocale(t *testing.T) {
	cases := map[string]string{
		"/en/checkout": "en",
		"/ar":          "ar",
		"/products":    "",
		"/":            "",
	}
	for path, want := range cases {
		if got := Locale(path); got != want {
			t.Errorf("Locale(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestPublicAndProtectedAreExclusive(t *testing.T) {
	paths := []string{
		"/en", "/en/", "/en/about", "/en/contact", "/en/products/42",
		"/en/categories/skincare", "/en/search", "/en/signin", "/en/signup",
		"/en/forgot-password", "/en/reset-password", "/api/auth/callback",
		"/api/public/banners",
		"/en/checkout", "/en/profile", "/en/orders/7", "/en/settings",
		"/en/dashboard", "/en/complete-profile", "/api/protected/cart",
	}
	for _, p := range paths {
		pub, prot := IsPublicPath(p), IsProtectedPath(p)
		if pub && prot {
			t.Errorf("%q classified both public and protected", p)
		}
		if !pub && !prot {
			t.Errorf("%q classified neither public nor protected", p)
		}
	}
}

func TestIsAuthPage(t *testing.T) {
	cases := map[string]bool{
		"/en/signin":           true,
		"/ar/signup":           true,
		"/en/complete-profile": true,
		"/en/checkout":         false,
		"/en":                  false,
	}
	for path, want := range cases {
		if got := IsAuthPage(path); got != want {
			t.Errorf("IsAuthPage(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestIsAuthAPIRoute(t *testing.T) {
	if !IsAuthAPIRoute("/api/auth/signin") {
		t.Error("auth API prefix should match")
	}
	if IsAuthAPIRoute("/api/protected/cart") {
		t.Error("protected API prefix should not match")
	}
}

func TestLocalize(t *testing.T) {
	cases := []struct{ path, locale, want string }{
		{"/dashboard", "en", "/en/dashboard"},
		{"/en/dashboard", "en", "/en/dashboard"},
		{"/", "ar", "/ar"},
		{"", "en", "/en"},
		{"/signin", "ar", "/ar/signin"},
	}
	for _, c := range cases {
		if got := Localize(c.path, c.locale); got != c.want {
			t.Errorf("Localize(%q, %q) = %q, want %q", c.path, c.locale, got, c.want)
		}
	}
}
