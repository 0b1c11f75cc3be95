package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *Breaker) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := NewBreaker(DefaultBreakerConfig())
	return NewClient(srv.URL, 2*time.Second, b, zerolog.Nop()), b
}

func TestLogin_Success(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Write([]byte(`{"userId":"u-1","token":"tok-1","firstName":"Mona"}`))
	})
	res, err := c.Login(context.Background(), "01001234567", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != "u-1" || res.Token != "tok-1" || res.FirstName != "Mona" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestLogin_MissingToken(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"userId":"u-1"}`))
	})
	_, err := c.Login(context.Background(), "m", "p")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected for incomplete response, got %v", err)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	c, b := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Login(context.Background(), "m", "wrong")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected on 401, got %v", err)
	}
	// An answering authority is a healthy authority.
	if b.State() != StateClosed {
		t.Errorf("breaker state = %v after 401, want closed", b.State())
	}
}

func TestRefresh_AccessTokenField(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer old-tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"accessToken":"new-tok"}`))
	})
	tok, err := c.Refresh(context.Background(), "old-tok")
	if err != nil || tok != "new-tok" {
		t.Fatalf("Refresh = %q, %v", tok, err)
	}
}

func TestRefresh_LegacyTokenField(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"new-tok"}`))
	})
	tok, err := c.Refresh(context.Background(), "old-tok")
	if err != nil || tok != "new-tok" {
		t.Fatalf("Refresh = %q, %v", tok, err)
	}
}

func TestRefresh_EmptyResponse(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := c.Refresh(context.Background(), "old-tok"); !errors.Is(err, ErrRejected) {
		t.Fatalf("want ErrRejected for empty refresh response, got %v", err)
	}
}

func TestPost_ServerErrorOpensBreaker(t *testing.T) {
	c, b := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	var lastErr error
	for i := 0; i < DefaultBreakerConfig().FailureThreshold; i++ {
		_, lastErr = c.Refresh(context.Background(), "tok")
		if !errors.Is(lastErr, ErrUnavailable) {
			t.Fatalf("want ErrUnavailable on 5xx, got %v", lastErr)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("breaker state = %v after threshold failures, want open", b.State())
	}
	// While open, calls fail fast without reaching the wire.
	if _, err := c.Refresh(context.Background(), "tok"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("open breaker should fail fast with ErrUnavailable, got %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Cooldown: time.Nanosecond}
	b := NewBreaker(cfg)
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	time.Sleep(time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after cooldown: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %v after probes, want closed", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	cfg := BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Nanosecond}
	b := NewBreaker(cfg)
	b.RecordFailure()
	time.Sleep(time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v after probe failure, want open", b.State())
	}
}
