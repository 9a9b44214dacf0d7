package narrative

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/pkg/types"
)

func testService(upstream Upstream) *Service {
	cfg := &types.Config{}
	cfg.ApplyDefaults()
	return NewService(upstream, cfg, logging.NewNopLogger())
}

func customerSnap(actual int) CustomerSnapshot {
	return CustomerSnapshot{
		SessionID:    "R1_2025-10-09_x_abcd1234",
		RouteCode:    "R1",
		CustomerCode: "C1",
		Score:        90,
		Items:        []ItemTuple{{Item: "X", Recommended: 10, Actual: actual}},
	}
}

func TestIdenticalSnapshotsServeFromCache(t *testing.T) {
	s := testService(StaticUpstream{})

	first, err := s.AnalyzeCustomer(context.Background(), customerSnap(6))
	if err != nil {
		t.Fatalf("first analysis failed: %v", err)
	}

	// immediately again: the fingerprint matches, so no cooldown applies
	second, err := s.AnalyzeCustomer(context.Background(), customerSnap(6))
	if err != nil {
		t.Fatalf("cached analysis failed: %v", err)
	}
	if first != second {
		t.Error("identical snapshots must return identical text")
	}
}

func TestCustomerCooldown(t *testing.T) {
	s := testService(StaticUpstream{})

	if _, err := s.AnalyzeCustomer(context.Background(), customerSnap(6)); err != nil {
		t.Fatalf("first analysis failed: %v", err)
	}

	// a changed snapshot within the cooldown window is limited
	_, err := s.AnalyzeCustomer(context.Background(), customerSnap(7))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected RateLimited, got %v", err)
	}

	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatal("expected a RateLimitError with retry-after")
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > 5*time.Second {
		t.Errorf("retry-after out of range: %s", rl.RetryAfter)
	}
}

func TestRouteCooldownIsPerSession(t *testing.T) {
	s := testService(StaticUpstream{})

	snapA := RouteSnapshot{SessionID: "sess-a", RouteCode: "R1", Score: 80,
		Items: []ItemTuple{{Item: "C1/X", Recommended: 10, Actual: 8}}}
	snapB := RouteSnapshot{SessionID: "sess-b", RouteCode: "R2", Score: 70,
		Items: []ItemTuple{{Item: "C2/Y", Recommended: 4, Actual: 4}}}

	if _, err := s.AnalyzeRoute(context.Background(), snapA); err != nil {
		t.Fatalf("route A analysis failed: %v", err)
	}
	// a different session is not throttled by A's cooldown
	if _, err := s.AnalyzeRoute(context.Background(), snapB); err != nil {
		t.Fatalf("route B analysis failed: %v", err)
	}
}

type failingUpstream struct{}

func (failingUpstream) Analyze(context.Context, string) (string, error) {
	return "", errors.New("provider overloaded")
}

func TestUpstreamFailureSurfacesUpstreamBusy(t *testing.T) {
	s := testService(failingUpstream{})

	_, err := s.AnalyzeCustomer(context.Background(), customerSnap(6))
	if !errors.Is(err, domain.ErrUpstreamBusy) {
		t.Fatalf("expected UpstreamBusy, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !b.allow(now) {
			t.Fatalf("breaker closed prematurely at attempt %d", i)
		}
		b.record(false, now)
	}
	if b.allow(now) {
		t.Fatal("breaker must be open after the failure threshold")
	}

	// after the reset timeout a single probe goes through
	later := now.Add(2 * time.Minute)
	if !b.allow(later) {
		t.Fatal("expected half-open probe after reset timeout")
	}
	b.record(true, later)
	if !b.allow(later) {
		t.Fatal("breaker must close again after a successful probe")
	}
}

func TestFingerprintIgnoresItemOrder(t *testing.T) {
	a := fingerprint("customer", "s", "R1/C1", 90, []ItemTuple{
		{Item: "X", Recommended: 10, Actual: 6},
		{Item: "Y", Recommended: 4, Actual: 4},
	})
	b := fingerprint("customer", "s", "R1/C1", 90, []ItemTuple{
		{Item: "Y", Recommended: 4, Actual: 4},
		{Item: "X", Recommended: 10, Actual: 6},
	})
	if a != b {
		t.Error("fingerprint must be stable across item ordering")
	}

	c := fingerprint("customer", "s", "R1/C1", 90, []ItemTuple{
		{Item: "X", Recommended: 10, Actual: 7},
		{Item: "Y", Recommended: 4, Actual: 4},
	})
	if a == c {
		t.Error("fingerprint must change with the actual quantities")
	}
}
