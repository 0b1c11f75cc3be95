package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"storegate/edge-service/internal/config"

	"github.com/rs/zerolog"
)

func TestClientIP_Precedence(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "cloudflare header wins",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.7", "X-Forwarded-For": "198.51.100.1", "X-Real-IP": "192.0.2.1"},
			remote:  "10.0.0.1:4000",
			want:    "203.0.113.7",
		},
		{
			name:    "first forwarded hop",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2, 10.0.0.3"},
			remote:  "10.0.0.1:4000",
			want:    "198.51.100.1",
		},
		{
			name:    "real ip fallback",
			headers: map[string]string{"X-Real-IP": "192.0.2.1"},
			remote:  "10.0.0.1:4000",
			want:    "192.0.2.1",
		},
		{
			name:   "socket peer",
			remote: "10.0.0.1:4000",
			want:   "10.0.0.1",
		},
		{
			name:    "garbage header falls through",
			headers: map[string]string{"CF-Connecting-IP": "not-an-ip"},
			remote:  "10.0.0.1:4000",
			want:    "10.0.0.1",
		},
		{
			name:   "unparseable peer",
			remote: "pipe",
			want:   "unknown",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = c.remote
			for k, v := range c.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != c.want {
				t.Errorf("ClientIP = %q, want %q", got, c.want)
			}
		})
	}
}

func TestSanitizeCallbackURL(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"/":                         "/",
		"/en/dashboard":             "/en/dashboard",
		"/en/products?page=2":       "/en/products?page=2",
		"//evil.example":            "",
		"https://evil.example/":     "",
		"javascript://alert(1)":     "",
		"%2F%2Fevil.example":        "",
		"http%3A%2F%2Fevil.example": "",
		"relative/path":             "",
		"%zz":                       "",
	}
	for in, want := range cases {
		if got := SanitizeCallbackURL(in); got != want {
			t.Errorf("SanitizeCallbackURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seenID string
	h := RequestIDMiddleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("request-scoped logger missing")
		}
	}))

	// Generated when absent.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seenID == "" {
		t.Error("no request ID generated")
	}
	if rec.Header().Get("X-Request-ID") != seenID {
		t.Error("request ID not echoed on response")
	}

	// Propagated when present.
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-123")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if seenID != "req-123" {
		t.Errorf("inbound request ID dropped, got %q", seenID)
	}
}

func TestBuildSessionCookie(t *testing.T) {
	cfg := config.Default()
	cfg.Cookie.Secure = false
	c := BuildSessionCookie(cfg, "v1", 3600)
	if c.Name != cfg.Cookie.Name {
		t.Errorf("name = %q, want %q", c.Name, cfg.Cookie.Name)
	}
	if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie not locked down: %+v", c)
	}

	cfg.Cookie.Secure = true
	c = BuildSessionCookie(cfg, "v1", 3600)
	if c.Name != cfg.Cookie.SecureName {
		t.Errorf("secure cookie name = %q, want %q", c.Name, cfg.Cookie.SecureName)
	}
	if !c.Secure {
		t.Error("Secure flag not set")
	}
}
