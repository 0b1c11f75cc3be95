package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"storegate/edge-service/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys for request metadata
type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// Buffer pool for JSON encoding hot path optimization
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WithLogger adds logger to context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// GetLogger retrieves the request-scoped logger from context
func GetLogger(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok {
		return logger
	}
	nopLogger := zerolog.Nop()
	return &nopLogger
}

// RequestIDMiddleware extracts or generates a request ID and attaches it,
// along with a request-scoped logger, to the request context.
func RequestIDMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			reqLogger := logger.With().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ctx := WithRequestID(r.Context(), requestID)
			ctx = WithLogger(ctx, &reqLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP extracts the best-effort client identity from proxy headers.
// Precedence: CF-Connecting-IP, first X-Forwarded-For hop, X-Real-IP,
// then the socket peer. Returns "unknown" when nothing parses. The result
// is only used for rate limiting and is never treated as authenticated.
func ClientIP(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		if ip := net.ParseIP(strings.TrimSpace(cf)); ip != nil {
			return ip.String()
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			if ip := net.ParseIP(strings.TrimSpace(parts[0])); ip != nil {
				return ip.String()
			}
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		if ip := net.ParseIP(strings.TrimSpace(xr)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return "unknown"
}

// SanitizeCallbackURL restricts redirect targets to same-origin paths.
// Accepts "/", "/path", "/path?query" but never "//host" or absolute URLs,
// including encoded variants.
func SanitizeCallbackURL(in string) string {
	if in == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(in)
	if err != nil {
		return ""
	}
	if strings.Contains(decoded, "://") || strings.HasPrefix(decoded, "//") {
		return ""
	}
	u, err := url.ParseRequestURI(in)
	if err != nil {
		return ""
	}
	if u.Host != "" || u.Scheme != "" {
		return ""
	}
	if !strings.HasPrefix(u.Path, "/") {
		return ""
	}
	out := u.Path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// WriteJSON writes a JSON response with proper headers.
// Uses sync.Pool for buffers to reduce hot path allocations.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return
	}
	w.Write(buf.Bytes())
}

// BuildSessionCookie creates the session cookie with the configured
// security settings. The __Secure- variant is used when cookie.secure
// is set, matching what the resolver checks on the way in.
func BuildSessionCookie(cfg *config.Config, value string, maxAge int) *http.Cookie {
	name := cfg.Cookie.Name
	if cfg.Cookie.Secure {
		name = cfg.Cookie.SecureName
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Cookie.Path,
		MaxAge:   maxAge,
		Secure:   cfg.Cookie.Secure,
		HttpOnly: true,
	}
	switch strings.ToLower(cfg.Cookie.SameSite) {
	case "none":
		c.SameSite = http.SameSiteNoneMode
	case "lax":
		c.SameSite = http.SameSiteLaxMode
	default:
		c.SameSite = http.SameSiteStrictMode
	}
	if cfg.Cookie.Domain != "" {
		c.Domain = cfg.Cookie.Domain
	}
	return c
}
