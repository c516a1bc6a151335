package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/contextkeys"
	"github.com/staykeeper/gatehouse/pkg/observability"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// AuditHook is the outermost middleware. It assigns the request ID,
// resolves the client IP, places the audit sink and a request-scoped
// logger in the context, and emits one request event after the response
// is written.
func AuditHook(sink audit.Sink, logger *observability.Logger, trustForwardedFor bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()
			clientIP := resolveClientIP(r, trustForwardedFor)

			ctx := withIdentitySlot(r.Context())
			ctx = context.WithValue(ctx, contextkeys.RequestIDKey, requestID)
			ctx = context.WithValue(ctx, contextkeys.ClientIPKey, clientIP)
			ctx = audit.WithSink(ctx, sink)
			ctx = observability.WithLogger(ctx, logger.WithField("request_id", requestID))
			r = r.WithContext(ctx)

			w.Header().Set("X-Request-ID", requestID)
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			outcome := audit.OutcomeSuccess
			if rw.statusCode >= 400 {
				outcome = audit.OutcomeFailure
			}
			var actorID string
			if verified := Identity(r); verified != nil {
				actorID = verified.Identity.ID
			}
			sink.Emit(ctx, &audit.Event{
				Time:       time.Now(),
				Action:     audit.ActionRequest,
				Outcome:    outcome,
				ActorID:    actorID,
				IP:         clientIP,
				RequestID:  requestID,
				TargetKind: "route",
				TargetID:   r.Method + " " + r.URL.Path,
				DurationMS: time.Since(start).Milliseconds(),
				Metadata:   map[string]interface{}{"status": rw.statusCode},
			})
		})
	}
}

// RequestID returns the request identifier assigned by the audit hook.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(contextkeys.RequestIDKey).(string)
	return id
}

// ClientIP returns the client address resolved by the audit hook, falling
// back to the transport peer.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextkeys.ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return remoteIP(r)
}

// resolveClientIP picks the client address. X-Forwarded-For is honored
// only when the deployment fronts the service with a trusted proxy;
// otherwise a client could spoof its way into a trusted network.
func resolveClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
	}
	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
