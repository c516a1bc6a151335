// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains the verified-identity slot
	// Seeded by: middleware.AuditHook, filled by middleware.Authenticator
	// Required by: permission/authority middleware, audit hook, handlers
	IdentityKey Key = "verified_identity"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.AuditHook
	// Used by: logger, audit events
	RequestIDKey Key = "request_id"

	// ClientIPKey contains the resolved client IP string
	// Set by: middleware.AuditHook
	// Used by: throttle key derivation, audit events
	ClientIPKey Key = "client_ip"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	LoggerKey Key = "logger"

	// AuditSinkKey contains audit.Sink
	// Set by: middleware.AuditHook
	AuditSinkKey Key = "audit_sink"
)
