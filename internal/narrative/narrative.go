// internal/narrative/narrative.go
//
// Package narrative wraps the opaque text analyzer collaborator with the
// guarantees the core requires: a fingerprint-keyed response cache, per-key
// cooldowns, a circuit breaker over the upstream and context cancellation
// when a session is abandoned. The production upstream lives outside this
// module; any text-in/text-out implementation plugs in.
package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"
	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const cacheSize = 4096

// Upstream is the raw text producer. Implementations receive a rendered
// snapshot and return free text.
type Upstream interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// ItemTuple is one (item, recommended, actual) line of a snapshot, the unit
// the response fingerprint is computed over.
type ItemTuple struct {
	Item        string
	Recommended int
	Actual      int
}

// CustomerSnapshot is the input to a customer analysis.
type CustomerSnapshot struct {
	SessionID    string
	RouteCode    string
	CustomerCode string
	Score        float64
	Items        []ItemTuple
}

// RouteSnapshot is the input to a route analysis.
type RouteSnapshot struct {
	SessionID string
	RouteCode string
	Score     float64
	Items     []ItemTuple
}

// Service enforces the collaborator contract around an Upstream.
type Service struct {
	upstream Upstream
	logger   logging.AdvisorLogger

	cache *expirable.LRU[string, string]

	customerCooldown time.Duration
	routeCooldown    time.Duration
	upstreamTimeout  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	breaker *breaker
}

// NewService creates the narrative service.
func NewService(upstream Upstream, cfg *types.Config, logger logging.AdvisorLogger) *Service {
	ttl := time.Duration(cfg.Narrative.CacheTTLHours) * time.Hour
	return &Service{
		upstream:         upstream,
		logger:           logger.With(zap.String("component", "narrative")),
		cache:            expirable.NewLRU[string, string](cacheSize, nil, ttl),
		customerCooldown: time.Duration(cfg.Narrative.CustomerCooldownSeconds) * time.Second,
		routeCooldown:    time.Duration(cfg.Narrative.RouteCooldownSeconds) * time.Second,
		upstreamTimeout:  cfg.UpstreamTimeoutDuration(),
		limiters:         make(map[string]*rate.Limiter),
		breaker:          newBreaker(3, 30*time.Second),
	}
}

// AnalyzeCustomer produces the narrative for one visited customer. Identical
// snapshots within the cache TTL return the cached text without touching the
// cooldown; a cooldown violation returns RateLimited with a retry-after.
func (s *Service) AnalyzeCustomer(ctx context.Context, snap CustomerSnapshot) (string, error) {
	fp := fingerprint("customer", snap.SessionID, snap.RouteCode+"/"+snap.CustomerCode, snap.Score, snap.Items)
	if text, ok := s.cache.Get(fp); ok {
		return text, nil
	}

	limitKey := "customer|" + snap.SessionID + "|" + snap.CustomerCode
	if err := s.checkCooldown(limitKey, s.customerCooldown); err != nil {
		return "", err
	}

	prompt := renderPrompt("customer", snap.RouteCode, snap.CustomerCode, snap.Score, snap.Items)
	return s.analyze(ctx, fp, prompt)
}

// AnalyzeRoute produces the narrative for the whole route session.
func (s *Service) AnalyzeRoute(ctx context.Context, snap RouteSnapshot) (string, error) {
	fp := fingerprint("route", snap.SessionID, snap.RouteCode, snap.Score, snap.Items)
	if text, ok := s.cache.Get(fp); ok {
		return text, nil
	}

	limitKey := "route|" + snap.SessionID
	if err := s.checkCooldown(limitKey, s.routeCooldown); err != nil {
		return "", err
	}

	prompt := renderPrompt("route", snap.RouteCode, "", snap.Score, snap.Items)
	return s.analyze(ctx, fp, prompt)
}

func (s *Service) analyze(ctx context.Context, fp, prompt string) (string, error) {
	now := time.Now()
	if !s.breaker.allow(now) {
		return "", errors.Wrap(domain.ErrUpstreamBusy, "analyzer circuit open")
	}

	ctx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	defer cancel()

	text, err := s.upstream.Analyze(ctx, prompt)
	if err != nil {
		s.breaker.record(false, time.Now())
		if ctx.Err() != nil {
			// a request cancelled by session abandonment or timeout leaves
			// no state change
			return "", errors.Wrapf(domain.ErrUpstreamBusy, "analyzer did not answer: %v", err)
		}
		return "", errors.Wrapf(domain.ErrUpstreamBusy, "analyzer failed: %v", err)
	}
	s.breaker.record(true, time.Now())

	s.cache.Add(fp, text)
	return text, nil
}

// checkCooldown enforces one analysis per key per cooldown window.
func (s *Service) checkCooldown(key string, cooldown time.Duration) error {
	s.mu.Lock()
	lim := s.limiters[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(cooldown), 1)
		s.limiters[key] = lim
	}
	s.mu.Unlock()

	res := lim.Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return &domain.RateLimitError{RetryAfter: d}
	}
	return nil
}

// fingerprint derives the deterministic cache key: scope identity plus a
// stable hash over the (item, recommended, actual) tuples and the score.
func fingerprint(scope, sessionID, identity string, score float64, items []ItemTuple) string {
	sorted := make([]ItemTuple, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Item < sorted[j].Item })

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%.1f", scope, sessionID, identity, score)
	for _, t := range sorted {
		fmt.Fprintf(&b, "|%s:%d:%d", t.Item, t.Recommended, t.Actual)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// renderPrompt flattens a snapshot to the text-in contract of the upstream.
func renderPrompt(scope, route, customer string, score float64, items []ItemTuple) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scope=%s route=%s", scope, route)
	if customer != "" {
		fmt.Fprintf(&b, " customer=%s", customer)
	}
	fmt.Fprintf(&b, " score=%.1f\n", score)
	for _, t := range items {
		fmt.Fprintf(&b, "%s recommended=%d actual=%d\n", t.Item, t.Recommended, t.Actual)
	}
	return b.String()
}

// StaticUpstream is a trivial Upstream used for wiring and tests: it echoes
// a short summary derived from the prompt.
type StaticUpstream struct{}

// Analyze implements Upstream.
func (StaticUpstream) Analyze(_ context.Context, prompt string) (string, error) {
	line := prompt
	if i := strings.IndexByte(prompt, '\n'); i > 0 {
		line = prompt[:i]
	}
	return "analysis: " + line, nil
}
