package throttle

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/staykeeper/gatehouse/pkg/observability"
)

// Decision is the outcome of a policy check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Trusted reports that the client address bypassed the policy. Trusted
	// requests never touch a counter.
	Trusted bool
	// Count is the in-window hit count including this request. Zero for
	// trusted requests.
	Count int64
	// Remaining is the time until the window resets.
	Remaining time.Duration
	// Rejection describes the response to send when Allowed is false.
	Rejection *Rejection
}

// Rejection is the wire shape of a throttled response.
type Rejection struct {
	Status            int    `json:"-"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// Engine evaluates requests against a named policy set. The set swaps
// atomically, so a reload never blocks in-flight checks.
type Engine struct {
	counter  Counter
	policies atomic.Pointer[map[string]Policy]
	trusted  []*net.IPNet
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTrustedNetworks exempts the given CIDR blocks from every policy.
// Loopback addresses are always exempt.
func WithTrustedNetworks(cidrs ...string) EngineOption {
	return func(e *Engine) {
		for _, cidr := range cidrs {
			_, block, err := net.ParseCIDR(cidr)
			if err != nil {
				// Accept bare addresses as /32 or /128 blocks.
				ip := net.ParseIP(cidr)
				if ip == nil {
					continue
				}
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				block = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
			}
			e.trusted = append(e.trusted, block)
		}
	}
}

// WithEngineLogger sets the logger for counter failures.
func WithEngineLogger(logger *observability.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics records decisions and store errors.
func WithEngineMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine builds an engine over the given counter and policy set.
func NewEngine(counter Counter, policies []Policy, opts ...EngineOption) *Engine {
	e := &Engine{counter: counter}
	e.SetPolicies(policies)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPolicies replaces the live policy set.
func (e *Engine) SetPolicies(policies []Policy) {
	byName := make(map[string]Policy, len(policies))
	for _, p := range policies {
		byName[p.Name] = p
	}
	e.policies.Store(&byName)
}

// Policy looks up a live policy by name.
func (e *Engine) Policy(name string) (Policy, bool) {
	byName := e.policies.Load()
	if byName == nil {
		return Policy{}, false
	}
	p, ok := (*byName)[name]
	return p, ok
}

// Check evaluates the request against the named policy. Unknown policies
// admit, as does a counter failure: losing rate limiting briefly is better
// than refusing every request while the counter store is down. Trusted
// addresses are exempted before any counter increment, so they never
// consume window capacity.
func (e *Engine) Check(ctx context.Context, name string, req Request) (Decision, error) {
	policy, ok := e.Policy(name)
	if !ok {
		return Decision{Allowed: true}, nil
	}

	if e.isTrusted(req.IP) {
		e.observe(name, "trusted")
		return Decision{Allowed: true, Trusted: true}, nil
	}

	count, remaining, err := e.counter.Incr(ctx, policy.Key(req), policy.Window)
	if err != nil {
		if e.logger != nil {
			e.logger.WithError(err).WithField("policy", name).Warn("throttle counter unavailable, admitting")
		}
		if e.metrics != nil {
			e.metrics.StoreErrorsTotal.WithLabelValues("throttle").Inc()
		}
		e.observe(name, "error")
		return Decision{Allowed: true}, fmt.Errorf("throttle check %s: %w", name, err)
	}

	if count > policy.Max {
		e.observe(name, "rejected")
		return Decision{
			Count:     count,
			Remaining: remaining,
			Rejection: &Rejection{
				Status:            policy.Status,
				Code:              policy.Code,
				Message:           policy.Message,
				RetryAfterSeconds: retryAfterSeconds(remaining),
			},
		}, nil
	}

	e.observe(name, "allowed")
	return Decision{Allowed: true, Count: count, Remaining: remaining}, nil
}

func (e *Engine) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, block := range e.trusted {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *Engine) observe(policy, outcome string) {
	if e.metrics != nil {
		e.metrics.ThrottleDecisionsTotal.WithLabelValues(policy, outcome).Inc()
	}
}

// retryAfterSeconds rounds the remaining window up to whole seconds, never
// below one.
func retryAfterSeconds(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
