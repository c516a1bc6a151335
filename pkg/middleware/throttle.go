package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/throttle"
)

// maxEmailPeek bounds how much of a request body the email key derivation
// will read.
const maxEmailPeek = 64 << 10

// Throttler applies rate policies to routes.
type Throttler struct {
	engine  *throttle.Engine
	delay   *throttle.ProgressiveDelay
	metrics *observability.Metrics
}

// NewThrottler wraps an engine. delay may be nil when no progressive
// slowdown is wanted.
func NewThrottler(engine *throttle.Engine, delay *throttle.ProgressiveDelay, metrics *observability.Metrics) *Throttler {
	return &Throttler{engine: engine, delay: delay, metrics: metrics}
}

// Limit enforces the named policy on the wrapped handler. Rejections carry
// a Retry-After header and the policy's JSON body. For policies keyed by
// email, the body is peeked and restored so the handler still reads it.
func (t *Throttler) Limit(policyName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := t.request(r, policyName)

			decision, _ := t.engine.Check(r.Context(), policyName, req)
			if decision.Rejection != nil {
				t.reject(w, r, policyName, req, decision.Rejection)
				return
			}

			if !decision.Trusted && t.delay != nil {
				if wait, err := t.delay.Current(r.Context(), policyName+":"+req.IP); err == nil && wait > 0 {
					if t.metrics != nil {
						t.metrics.ThrottleDelaySeconds.Observe(wait.Seconds())
					}
					if err := throttle.Sleep(r.Context(), wait); err != nil {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RecordFailure bumps the progressive-delay counter for the client, to be
// called by handlers after a failed authentication attempt.
func (t *Throttler) RecordFailure(r *http.Request, policyName string) {
	if t.delay == nil {
		return
	}
	t.delay.Hit(r.Context(), policyName+":"+ClientIP(r))
}

// ClearFailures resets the progressive-delay counter after a success.
func (t *Throttler) ClearFailures(r *http.Request, policyName string) {
	if t.delay == nil {
		return
	}
	t.delay.Clear(r.Context(), policyName+":"+ClientIP(r))
}

func (t *Throttler) request(r *http.Request, policyName string) throttle.Request {
	req := throttle.Request{IP: ClientIP(r)}
	if verified := Identity(r); verified != nil {
		req.Subject = verified.Identity.ID
	}

	policy, ok := t.engine.Policy(policyName)
	if ok && policy.KeyBy == throttle.KeyByIPEmail {
		req.Email = peekEmail(r)
	}
	return req
}

func (t *Throttler) reject(w http.ResponseWriter, r *http.Request, policyName string, req throttle.Request, rejection *throttle.Rejection) {
	policy, _ := t.engine.Policy(policyName)
	if policy.Sensitive {
		audit.FromContext(r.Context()).Emit(r.Context(), &audit.Event{
			Time:      time.Now(),
			Action:    audit.ActionThrottleExceed,
			Outcome:   audit.OutcomeFailure,
			ActorID:   req.Subject,
			IP:        req.IP,
			RequestID: RequestID(r),
			Metadata:  map[string]interface{}{"policy": policyName},
		})
	}

	// Policies assembled in code may omit the rejection shape; the shared
	// taxonomy fills it so the wire contract stays stable.
	if rejection.Status == 0 {
		rejection.Status = auth.ErrThrottleExceeded.Status
	}
	if rejection.Code == "" {
		rejection.Code = string(auth.ErrThrottleExceeded.Code)
	}
	if rejection.Message == "" {
		rejection.Message = auth.ErrThrottleExceeded.Message
	}

	w.Header().Set("Retry-After", strconv.Itoa(rejection.RetryAfterSeconds))
	WriteJSON(w, rejection.Status, rejection)
}

// peekEmail reads the email field from a JSON body and restores the body
// for the handler. Anything unparseable derives an empty email, which
// still keys by IP.
func peekEmail(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEmailPeek))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Email
}
