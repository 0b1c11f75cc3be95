package upstream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"storegate/edge-service/internal/metrics"

	"github.com/rs/zerolog/log"
)

// State represents the breaker state for the identity authority.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	// FailureThreshold is consecutive transport failures before opening.
	FailureThreshold int
	// SuccessThreshold is consecutive successes in half-open before closing.
	SuccessThreshold int
	// Cooldown is how long to stay open before probing again.
	Cooldown time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker fails fast when the identity authority is down, so an outage
// never ties up the request pipeline waiting on timeouts. Only transport
// failures trip it; explicit rejections mean the authority is healthy.
type Breaker struct {
	config BreakerConfig

	state        atomic.Int32
	failures     atomic.Int64
	successes    atomic.Int64
	lastFailTime atomic.Int64 // unix nanos

	mu sync.Mutex // guards state transitions
}

func NewBreaker(config BreakerConfig) *Breaker {
	b := &Breaker{config: config}
	b.state.Store(int32(StateClosed))
	b.lastFailTime.Store(time.Now().UnixNano())
	metrics.UpstreamBreakerState.Set(float64(StateClosed))
	return b
}

// Allow reports whether an outbound call may proceed.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		lastFail := time.Unix(0, b.lastFailTime.Load())
		elapsed := time.Since(lastFail)
		if elapsed >= b.config.Cooldown {
			b.mu.Lock()
			if State(b.state.Load()) == StateOpen {
				b.transitionTo(StateHalfOpen)
			}
			b.mu.Unlock()
			return nil
		}
		return fmt.Errorf("identity authority circuit open (retry in %v)",
			(b.config.Cooldown - elapsed).Round(time.Second))
	default:
		return fmt.Errorf("identity authority circuit in unknown state")
	}
}

func (b *Breaker) RecordSuccess() {
	switch State(b.state.Load()) {
	case StateClosed:
		b.failures.Store(0)
	case StateHalfOpen:
		if int(b.successes.Add(1)) >= b.config.SuccessThreshold {
			b.mu.Lock()
			if State(b.state.Load()) == StateHalfOpen {
				b.transitionTo(StateClosed)
				b.failures.Store(0)
				b.successes.Store(0)
				log.Info().Msg("identity authority circuit recovered")
			}
			b.mu.Unlock()
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.lastFailTime.Store(time.Now().UnixNano())

	switch State(b.state.Load()) {
	case StateClosed:
		if int(b.failures.Add(1)) >= b.config.FailureThreshold {
			b.mu.Lock()
			if State(b.state.Load()) == StateClosed {
				b.transitionTo(StateOpen)
				log.Error().
					Int64("failures", b.failures.Load()).
					Msg("identity authority circuit opened")
			}
			b.mu.Unlock()
		}
	case StateHalfOpen:
		b.mu.Lock()
		if State(b.state.Load()) == StateHalfOpen {
			b.transitionTo(StateOpen)
			b.successes.Store(0)
			log.Warn().Msg("identity authority circuit reopened after probe failure")
		}
		b.mu.Unlock()
	}
}

// transitionTo changes state; caller must hold b.mu.
func (b *Breaker) transitionTo(newState State) {
	old := State(b.state.Load())
	b.state.Store(int32(newState))
	metrics.UpstreamBreakerState.Set(float64(newState))
	log.Info().
		Str("old_state", old.String()).
		Str("new_state", newState.String()).
		Msg("identity authority circuit state transition")
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}
