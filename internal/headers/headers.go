// Package headers attaches the fixed security header set to every
// response leaving the process.
package headers

import (
	"fmt"
	"net/http"
	"strings"

	"storegate/edge-service/internal/config"
)

// Injector holds the precomputed header set. Apply uses Set (never Add),
// so applying twice yields the same headers as applying once.
type Injector struct {
	fixed map[string]string
}

func NewInjector(cfg *config.Config) *Injector {
	hsts := fmt.Sprintf("max-age=%d; includeSubDomains", cfg.Headers.HSTSMaxAgeSec)
	if cfg.Modes.Hardened {
		hsts += "; preload"
	}
	return &Injector{
		fixed: map[string]string{
			"X-Frame-Options":                   "DENY",
			"X-Content-Type-Options":            "nosniff",
			"Referrer-Policy":                   "strict-origin-when-cross-origin",
			"X-XSS-Protection":                  "1; mode=block",
			"Permissions-Policy":                "camera=(), microphone=(), geolocation=()",
			"Strict-Transport-Security":         hsts,
			"Content-Security-Policy":           buildCSP(cfg.Headers.CSP),
			"X-Permitted-Cross-Domain-Policies": "none",
			"Cross-Origin-Embedder-Policy":      "require-corp",
			"Cross-Origin-Opener-Policy":        "same-origin",
			"Cross-Origin-Resource-Policy":      "same-origin",
		},
	}
}

// buildCSP assembles the policy string from the declarative per-directive
// source lists.
func buildCSP(csp config.CSPCfg) string {
	var b strings.Builder
	directive := func(name string, sources []string) {
		if len(sources) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(strings.Join(sources, " "))
	}
	directive("default-src", csp.DefaultSrc)
	directive("script-src", csp.ScriptSrc)
	directive("style-src", csp.StyleSrc)
	directive("font-src", csp.FontSrc)
	directive("img-src", csp.ImgSrc)
	directive("connect-src", csp.ConnectSrc)
	directive("frame-ancestors", csp.FrameAncestors)
	return b.String()
}

// Apply sets the full header set. Idempotent and order-independent.
func (inj *Injector) Apply(h http.Header) {
	for name, value := range inj.fixed {
		h.Set(name, value)
	}
}

// Middleware applies the header set before the wrapped handler writes
// anything.
func (inj *Injector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inj.Apply(w.Header())
		next.ServeHTTP(w, r)
	})
}
