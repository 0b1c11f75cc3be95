// Package engine orchestrates the edge pipeline: classification, rate
// limiting, validation, locale negotiation and session resolution, folded
// into exactly one decision per request.
package engine

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storegate/edge-service/internal/classify"
	"storegate/edge-service/internal/config"
	"storegate/edge-service/internal/headers"
	"storegate/edge-service/internal/httputil"
	"storegate/edge-service/internal/i18n"
	"storegate/edge-service/internal/metrics"
	"storegate/edge-service/internal/rate"
	"storegate/edge-service/internal/session"
	"storegate/edge-service/internal/util"
	"storegate/edge-service/internal/validate"

	"github.com/rs/zerolog"
)

type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeRedirectLocale
	OutcomeRedirectSignin
	OutcomeRedirectCompleteProfile
	OutcomeRedirectHome
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeRedirectLocale:
		return "redirect_locale"
	case OutcomeRedirectSignin:
		return "redirect_signin"
	case OutcomeRedirectCompleteProfile:
		return "redirect_complete_profile"
	case OutcomeRedirectHome:
		return "redirect_home"
	case OutcomeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision is the single terminal result of the pipeline for one request.
type Decision struct {
	Outcome    Outcome
	Location   string // redirect target, locale-prefixed
	Status     int    // reject status (400 or 429)
	Reason     string
	RetryAfter int // seconds, 429 only

	freshCookie string // re-issued session cookie, set on the way out
}

type Engine struct {
	cfg       *config.Config
	limiter   *rate.Limiter
	validator *validate.Validator
	locales   *i18n.Negotiator
	sessions  *session.Resolver
	inject    *headers.Injector
	next      http.Handler
	log       zerolog.Logger
	ipLogKey  []byte

	nowFunc func() time.Time // for tests
}

func New(cfg *config.Config, limiter *rate.Limiter, validator *validate.Validator,
	locales *i18n.Negotiator, sessions *session.Resolver, inject *headers.Injector,
	next http.Handler, log zerolog.Logger, ipLogKey []byte) *Engine {
	return &Engine{
		cfg:       cfg,
		limiter:   limiter,
		validator: validator,
		locales:   locales,
		sessions:  sessions,
		inject:    inject,
		next:      next,
		log:       log,
		ipLogKey:  ipLogKey,
		nowFunc:   time.Now,
	}
}

// tierFor selects the rate-limit tier. Auth-adjacent UI routes share the
// strict auth tier; the identity provider's own API prefix never reaches
// here (it passes in step 2), so it cannot starve itself.
func tierFor(path string) rate.Tier {
	if strings.Contains(path, "/signin") || strings.Contains(path, "/signup") {
		return rate.TierAuth
	}
	if strings.HasPrefix(path, "/api/") {
		return rate.TierAPI
	}
	return rate.TierGeneral
}

// Decide runs the ordered transition table. The branches are mutually
// exclusive and exhaustive: every request maps to exactly one decision.
func (e *Engine) Decide(r *http.Request) Decision {
	path := r.URL.Path

	// 1. Static and framework-internal paths bypass everything.
	if classify.IsStaticOrInternal(path) {
		return Decision{Outcome: OutcomeContinue}
	}

	// 2. Identity-provider traffic always passes: the gate must not block
	// its own authentication backend.
	if classify.IsAuthAPIRoute(path) {
		return Decision{Outcome: OutcomeContinue}
	}

	// 3. Rate limit by (client identity, tier).
	identity := httputil.ClientIP(r)
	tier := tierFor(path)
	res := e.limiter.Check(identity, tier)
	if !res.Allowed {
		metrics.RateLimitHits.WithLabelValues(tier.String()).Inc()
		retryAfter := int(math.Ceil(res.ResetTime.Sub(e.nowFunc()).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		e.log.Warn().
			Str("client", util.AnonymizeIP(identity, e.ipLogKey)).
			Str("tier", tier.String()).
			Str("path", path).
			Int("retry_after", retryAfter).
			Msg("rate limit exceeded")
		return Decision{
			Outcome:    OutcomeReject,
			Status:     http.StatusTooManyRequests,
			Reason:     "Rate limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	// 4. Request shape validation.
	if v := e.validator.Validate(r); !v.Valid {
		metrics.ValidationFailures.Inc()
		e.log.Warn().
			Str("client", util.AnonymizeIP(identity, e.ipLogKey)).
			Strs("errors", v.Errors).
			Str("path", path).
			Msg("request validation failed")
		return Decision{
			Outcome: OutcomeReject,
			Status:  http.StatusBadRequest,
			Reason:  strings.Join(v.Errors, "; "),
		}
	}

	// 5. Locale negotiation for unprefixed paths, preserving the query.
	if !classify.HasLocalePrefix(path, e.cfg.Locales.Supported) {
		locale := e.locales.Negotiate(r.Header.Get("Accept-Language"))
		target := classify.Localize(path, locale)
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		return Decision{Outcome: OutcomeRedirectLocale, Location: target}
	}

	locale := classify.Locale(path)

	// 6. Session membership check (read-only; refresh happens inside).
	rec, freshCookie, _ := e.sessions.Resolve(r.Context(), r)

	// 7. Protected page without a session: preserve the path as callback.
	if classify.IsProtectedPath(path) && rec == nil {
		target := classify.Localize("/signin", locale) +
			"?callbackUrl=" + url.QueryEscape(path)
		return Decision{Outcome: OutcomeRedirectSignin, Location: target, freshCookie: freshCookie}
	}

	// 8. Authenticated users have no business on auth pages.
	if classify.IsAuthPage(path) && rec != nil {
		profileDone := hasCookie(r, e.cfg.Cookie.ProfileMarker)
		if !profileDone && !classify.IsCompleteProfilePage(path) {
			return Decision{
				Outcome:     OutcomeRedirectCompleteProfile,
				Location:    classify.Localize("/complete-profile", locale),
				freshCookie: freshCookie,
			}
		}
		target := "/" + locale
		if cb := httputil.SanitizeCallbackURL(r.URL.Query().Get("callbackUrl")); cb != "" {
			target = classify.Localize(cb, locale)
		}
		return Decision{Outcome: OutcomeRedirectHome, Location: target, freshCookie: freshCookie}
	}

	// 9. Pass through.
	return Decision{Outcome: OutcomeContinue, freshCookie: freshCookie}
}

func hasCookie(r *http.Request, name string) bool {
	c, err := r.Cookie(name)
	return err == nil && c.Value != ""
}

// ServeHTTP renders the decision. Security headers go on first so every
// branch, including the wrapped handler, carries them.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	e.inject.Apply(w.Header())

	d := e.Decide(r)
	metrics.Decision.WithLabelValues(d.Outcome.String()).Inc()
	metrics.DecisionDuration.Observe(time.Since(start).Seconds())

	if d.freshCookie != "" {
		maxAge := int(e.sessions.Lifetime().Seconds())
		http.SetCookie(w, httputil.BuildSessionCookie(e.cfg, d.freshCookie, maxAge))
	}

	switch d.Outcome {
	case OutcomeContinue:
		e.next.ServeHTTP(w, r)
	case OutcomeRedirectLocale, OutcomeRedirectSignin, OutcomeRedirectCompleteProfile, OutcomeRedirectHome:
		w.Header().Set("Location", d.Location)
		w.WriteHeader(http.StatusFound)
	case OutcomeReject:
		if d.Status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      d.Reason,
				"retryAfter": d.RetryAfter,
			})
			return
		}
		http.Error(w, "Bad Request", d.Status)
	}
}
