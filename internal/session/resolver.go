package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"storegate/edge-service/internal/metrics"
	"storegate/edge-service/internal/upstream"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Refresher exchanges an expired access token for a fresh one.
// *upstream.Client satisfies it; tests substitute fakes.
type Refresher interface {
	Refresh(ctx context.Context, accessToken string) (string, error)
}

// Resolver turns an inbound request into a session record, refreshing
// expired sessions against the identity authority. Shared state is the
// refresh outcome cache plus a singleflight group deduplicating in-flight
// refreshes for the same token.
type Resolver struct {
	codec       *Codec
	refresher   Refresher
	cookieNames []string

	group singleflight.Group
	cache *refreshCache
	log   zerolog.Logger

	nowFunc func() time.Time // for tests
}

func NewResolver(codec *Codec, refresher Refresher, cookieNames []string, cacheCap int, cacheTTL time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		codec:       codec,
		refresher:   refresher,
		cookieNames: cookieNames,
		cache:       newRefreshCache(cacheCap, cacheTTL),
		log:         log,
		nowFunc:     time.Now,
	}
}

// Issue seals a fresh record into a cookie value.
func (s *Resolver) Issue(rec *Record) (string, error) {
	return s.codec.Issue(rec)
}

// Lifetime is the configured session duration.
func (s *Resolver) Lifetime() time.Duration { return s.codec.Lifetime() }

// AccessTokenFromRequest recovers the raw upstream token for the signout
// path. It stays inside this package so nothing outside can reach it from
// a Record.
func (s *Resolver) AccessTokenFromRequest(r *http.Request) string {
	raw := s.rawCookie(r)
	if raw == "" {
		return ""
	}
	rec, err := s.codec.Decode(raw)
	if err != nil {
		return ""
	}
	return rec.accessToken
}

// Resolve returns the session record for the request, or nil when absent.
// When an expired session was refreshed, freshCookie carries the
// re-issued cookie value for the caller to set on the response.
//
// Exactly one refresh attempt is made per expired token; failure tears
// the session down, never falls back to the stale token.
func (s *Resolver) Resolve(ctx context.Context, r *http.Request) (rec *Record, freshCookie string, err error) {
	raw := s.rawCookie(r)
	if raw == "" {
		return nil, "", nil
	}
	rec, decErr := s.codec.Decode(raw)
	if decErr != nil {
		s.log.Debug().Err(decErr).Msg("session cookie rejected")
		return nil, "", nil
	}
	now := s.nowFunc()
	if !rec.Expired(now) {
		return rec, "", nil
	}
	return s.refreshExpired(ctx, rec, now)
}

func (s *Resolver) refreshExpired(ctx context.Context, stale *Record, now time.Time) (*Record, string, error) {
	oldToken := stale.accessToken
	if oldToken == "" {
		return nil, "", nil
	}

	if cookie, ok, hit := s.cache.get(oldToken, now); hit {
		if !ok {
			return nil, "", nil
		}
		return s.decodeFresh(cookie)
	}

	v, err, _ := s.group.Do(oldToken, func() (interface{}, error) {
		newToken, err := s.refresher.Refresh(ctx, oldToken)
		if err != nil {
			s.cache.put(oldToken, "", false, s.nowFunc())
			return nil, err
		}
		// Atomic replacement: token, iat and exp move together.
		stale.accessToken = newToken
		cookie, err := s.codec.Issue(stale)
		if err != nil {
			return nil, err
		}
		s.cache.put(oldToken, cookie, true, s.nowFunc())
		return cookie, nil
	})
	if err != nil {
		if errors.Is(err, upstream.ErrUnavailable) {
			metrics.SessionRefresh.WithLabelValues("unavailable").Inc()
			s.log.Warn().Err(err).Msg("session refresh failed: authority unavailable")
		} else {
			metrics.SessionRefresh.WithLabelValues("rejected").Inc()
			s.log.Debug().Err(err).Msg("session refresh rejected")
		}
		// Either way the caller sees an absent session.
		return nil, "", err
	}
	metrics.SessionRefresh.WithLabelValues("success").Inc()
	return s.decodeFresh(v.(string))
}

func (s *Resolver) decodeFresh(cookie string) (*Record, string, error) {
	rec, err := s.codec.Decode(cookie)
	if err != nil {
		return nil, "", err
	}
	return rec, cookie, nil
}

func (s *Resolver) rawCookie(r *http.Request) string {
	for _, name := range s.cookieNames {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}
