package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/staykeeper/gatehouse/pkg/contextkeys"
	"github.com/staykeeper/gatehouse/pkg/token"
)

// Cookie names set by the login handler. The renewal cookie is
// path-restricted to the refresh endpoint so browsers never attach it to
// ordinary API calls.
const (
	AccessCookie  = "gatehouse_access"
	RenewalCookie = "gatehouse_renewal"

	// RenewalHintHeader is set on verified responses when the access
	// credential is near the end of its lifetime.
	RenewalHintHeader = "X-Renewal-Suggested"
)

// Authenticator verifies the access credential on incoming requests.
type Authenticator struct {
	tokens *token.Service
}

// NewAuthenticator wraps a token service.
func NewAuthenticator(tokens *token.Service) *Authenticator {
	return &Authenticator{tokens: tokens}
}

// Require rejects requests without a valid access credential. On success
// the verified identity lands in the request context and a renewal hint
// header is set when the credential is near expiry.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := ExtractCredential(r)
		verified, err := a.tokens.Verify(r.Context(), raw)
		if err != nil {
			WriteError(w, err)
			return
		}
		if verified.RenewalSuggested {
			w.Header().Set(RenewalHintHeader, "true")
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), verified)))
	})
}

// Optional verifies the credential when one is presented but lets
// anonymous requests through. A credential that fails verification is
// treated as absent.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if verified := a.tokens.OptionalVerify(r.Context(), ExtractCredential(r)); verified != nil {
			if verified.RenewalSuggested {
				w.Header().Set(RenewalHintHeader, "true")
			}
			r = r.WithContext(withIdentity(r.Context(), verified))
		}
		next.ServeHTTP(w, r)
	})
}

// ExtractCredential pulls the raw access credential from the
// Authorization header, falling back to the access cookie. Empty when
// neither is present.
func ExtractCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie(AccessCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// identityEntry is a mutable slot so the audit hook, which wraps the
// chain from outside, still observes the identity that inner middleware
// attached.
type identityEntry struct {
	verified *token.VerifiedIdentity
}

func withIdentitySlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.IdentityKey, &identityEntry{})
}

func withIdentity(ctx context.Context, verified *token.VerifiedIdentity) context.Context {
	if entry, ok := ctx.Value(contextkeys.IdentityKey).(*identityEntry); ok {
		entry.verified = verified
		return ctx
	}
	return context.WithValue(ctx, contextkeys.IdentityKey, &identityEntry{verified: verified})
}

// Identity returns the verified identity on the request, or nil for
// anonymous requests.
func Identity(r *http.Request) *token.VerifiedIdentity {
	if entry, ok := r.Context().Value(contextkeys.IdentityKey).(*identityEntry); ok {
		return entry.verified
	}
	return nil
}
