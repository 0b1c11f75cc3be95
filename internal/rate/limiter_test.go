package rate

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testLimits() map[Tier]TierLimit {
	return map[Tier]TierLimit{
		TierAuth:    {MaxRequests: 10, Window: 15 * time.Minute},
		TierAPI:     {MaxRequests: 100, Window: time.Minute},
		TierGeneral: {MaxRequests: 200, Window: time.Minute},
	}
}

func TestCheck_WindowExhaustion(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	for i := 1; i <= 10; i++ {
		res := l.Check("1.2.3.4", TierAuth)
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Remaining != 10-i {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, 10-i)
		}
	}

	// 11th within the same window is rejected.
	res := l.Check("1.2.3.4", TierAuth)
	if res.Allowed {
		t.Error("11th request should be rejected")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	wantReset := now.Add(15 * time.Minute)
	if !res.ResetTime.Equal(wantReset) {
		t.Errorf("resetTime = %v, want %v", res.ResetTime, wantReset)
	}
}

func TestCheck_ResetAfterWindow(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i < 11; i++ {
		l.Check("ip", TierAuth)
	}
	if res := l.Status("ip", TierAuth); res.Allowed {
		t.Fatal("window should be exhausted")
	}

	// Past resetTime the next check starts a fresh window with count 1.
	now = now.Add(15*time.Minute + time.Second)
	res := l.Check("ip", TierAuth)
	if !res.Allowed {
		t.Error("request after reset should be allowed")
	}
	if res.Remaining != 9 {
		t.Errorf("remaining = %d, want 9 (count reset to 1)", res.Remaining)
	}
}

func TestCheck_TiersIndependent(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		l.Check("ip", TierAuth)
	}
	if res := l.Check("ip", TierAuth); res.Allowed {
		t.Error("auth tier should be exhausted")
	}
	if res := l.Check("ip", TierGeneral); !res.Allowed {
		t.Error("general tier should be unaffected by auth tier exhaustion")
	}
}

func TestCheck_ConcurrentNoLostIncrements(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)

	const n = 150
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.Check("same-ip", TierGeneral)
		}()
	}
	wg.Wait()

	// Status does not count a request; after n checks the window must hold
	// exactly n.
	res := l.Status("same-ip", TierGeneral)
	if got := 200 - res.Remaining; got != n {
		t.Errorf("final count = %d, want %d (lost increments)", got, n)
	}
}

func TestCheck_KeyCapFailsClosed(t *testing.T) {
	l := New(testLimits(), 10, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		res := l.Check(fmt.Sprintf("ip-%d", i), TierGeneral)
		if !res.Allowed {
			t.Fatalf("identity %d should be tracked and allowed", i)
		}
	}

	// No window is expired, so the partial sweep frees nothing and the new
	// identity is rejected rather than tracked.
	res := l.Check("ip-overflow", TierGeneral)
	if res.Allowed {
		t.Error("new identity past the cap should fail closed")
	}
	if l.Len() != 10 {
		t.Errorf("len = %d, want 10 (cap held)", l.Len())
	}

	// Existing identities keep working.
	if res := l.Check("ip-3", TierGeneral); !res.Allowed {
		t.Error("existing identity should still be allowed at cap")
	}
}

func TestCheck_CapRecoversViaPartialSweep(t *testing.T) {
	l := New(testLimits(), 10, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		l.Check(fmt.Sprintf("ip-%d", i), TierGeneral)
	}

	// All windows expire; the inline sweep at cap should make room.
	now = now.Add(2 * time.Minute)
	res := l.Check("ip-new", TierGeneral)
	if !res.Allowed {
		t.Error("new identity should be accepted after expired windows are swept")
	}
}

func TestSweep_RemovesExpiredWindows(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	l.Check("a", TierGeneral)
	l.Check("b", TierGeneral)
	l.Check("c", TierAuth) // 15m window, survives

	now = now.Add(2 * time.Minute)
	evicted := l.Sweep()
	if evicted != 2 {
		t.Errorf("evicted = %d, want 2", evicted)
	}
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}
}

func TestStatus_DoesNotCount(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)
	now := time.Unix(1000, 0)
	l.nowFunc = func() time.Time { return now }

	l.Check("ip", TierAPI)
	for i := 0; i < 5; i++ {
		l.Status("ip", TierAPI)
	}
	res := l.Status("ip", TierAPI)
	if res.Remaining != 99 {
		t.Errorf("remaining = %d, want 99", res.Remaining)
	}
}

func TestStatus_UnknownIdentity(t *testing.T) {
	l := New(testLimits(), 100, time.Minute)
	res := l.Status("never-seen", TierGeneral)
	if !res.Allowed || res.Remaining != 200 {
		t.Errorf("unknown identity: got %+v, want fresh window", res)
	}
}
