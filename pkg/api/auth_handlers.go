package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/middleware"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/throttle"
	"github.com/staykeeper/gatehouse/pkg/token"
)

const refreshPath = "/v1/auth/refresh"

type loginRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

type loginResponse struct {
	Access   credentialBody `json:"access"`
	Renewal  credentialBody `json:"renewal"`
	Identity identityBody   `json:"identity"`
}

type credentialBody struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type identityBody struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
}

// login authenticates an email and secret and issues a credential pair.
// All authentication failures collapse to invalid_credential so a caller
// cannot probe which emails exist.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Secret == "" {
		middleware.WriteError(w, auth.ErrInvalidCredential)
		return
	}

	identity, err := s.store.IdentityByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			observability.FromContext(r.Context()).WithError(err).Error("credential store lookup failed")
			middleware.WriteError(w, auth.ErrStoreUnavailable)
			return
		}
		s.loginFailed(w, r, req.Email, "unknown identity")
		return
	}
	if err := auth.VerifySecret(identity.SecretHash, req.Secret); err != nil {
		s.loginFailed(w, r, req.Email, "secret mismatch")
		return
	}
	if identity.Status != auth.StatusActive {
		s.emitLogin(r, identity.ID, audit.OutcomeFailure, "account disabled")
		middleware.WriteError(w, auth.ErrAccountDisabled)
		return
	}

	pair, err := s.tokens.Issue(r.Context(), identity)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("credential issuance failed")
		middleware.WriteError(w, err)
		return
	}

	s.throttler.ClearFailures(r, throttle.PolicyLogin)
	s.setAuthCookies(w, pair)
	s.emitLogin(r, identity.ID, audit.OutcomeSuccess, "")

	role, _ := s.store.Role(r.Context(), identity.RoleID)
	middleware.WriteJSON(w, http.StatusOK, s.loginBody(pair, identity, role))
}

// loginFailed responds identically for unknown identities and wrong
// secrets, records the failure for progressive delay, and audits it.
func (s *Server) loginFailed(w http.ResponseWriter, r *http.Request, email, reason string) {
	s.throttler.RecordFailure(r, throttle.PolicyLogin)
	s.emitLogin(r, "", audit.OutcomeFailure, reason)
	observability.FromContext(r.Context()).WithField("email", email).Debug("login rejected")
	middleware.WriteError(w, auth.ErrInvalidCredential)
}

func (s *Server) emitLogin(r *http.Request, actorID string, outcome audit.Outcome, reason string) {
	event := &audit.Event{
		Time:      time.Now(),
		Action:    audit.ActionLogin,
		Outcome:   outcome,
		ActorID:   actorID,
		IP:        middleware.ClientIP(r),
		RequestID: middleware.RequestID(r),
	}
	if reason != "" {
		event.Error = reason
	}
	s.sink.Emit(r.Context(), event)
}

// refresh exchanges the renewal credential for a fresh pair. The renewal
// credential arrives only via its path-restricted cookie or the request
// body, never the Authorization header.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	raw := s.renewalCredential(r)
	if raw == "" {
		middleware.WriteError(w, auth.ErrInvalidCredential)
		return
	}

	pair, err := s.tokens.Refresh(r.Context(), raw)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	s.setAccessCookie(w, pair.Access)
	body := map[string]credentialBody{
		"access": {Token: pair.Access.Raw, ExpiresAt: pair.Access.ExpiresAt},
	}
	if pair.Renewal.Raw != "" {
		s.setRenewalCookie(w, pair.Renewal)
		body["renewal"] = credentialBody{Token: pair.Renewal.Raw, ExpiresAt: pair.Renewal.ExpiresAt}
	}
	middleware.WriteJSON(w, http.StatusOK, body)
}

// logout revokes the presented access credential for its remaining
// validity and retires the renewal session. Calling it twice is harmless.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	verified := middleware.Identity(r)

	if err := s.tokens.Revoke(r.Context(), verified.CredentialID, verified.ExpiresAt); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if raw := s.renewalCredential(r); raw != "" {
		if err := s.tokens.RevokeRenewal(r.Context(), raw); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("renewal retirement failed")
		}
	}

	s.clearAuthCookies(w)
	s.sink.Emit(r.Context(), &audit.Event{
		Time:      time.Now(),
		Action:    audit.ActionLogout,
		Outcome:   audit.OutcomeSuccess,
		ActorID:   verified.Identity.ID,
		IP:        middleware.ClientIP(r),
		RequestID: middleware.RequestID(r),
	})
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// me returns the verified identity with its resolved permission set.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	verified := middleware.Identity(r)
	middleware.WriteJSON(w, http.StatusOK, identityBody{
		ID:          verified.Identity.ID,
		Email:       verified.Identity.Email,
		Role:        verified.Role.Name,
		Permissions: s.resolver.Resolve(verified.Role),
	})
}

func (s *Server) loginBody(pair *token.Pair, identity *auth.Identity, role *auth.Role) loginResponse {
	body := loginResponse{
		Access:  credentialBody{Token: pair.Access.Raw, ExpiresAt: pair.Access.ExpiresAt},
		Renewal: credentialBody{Token: pair.Renewal.Raw, ExpiresAt: pair.Renewal.ExpiresAt},
		Identity: identityBody{
			ID:    identity.ID,
			Email: identity.Email,
		},
	}
	if role != nil {
		body.Identity.Role = role.Name
		body.Identity.Permissions = s.resolver.Resolve(role)
	}
	return body
}

func (s *Server) renewalCredential(r *http.Request) string {
	if cookie, err := r.Cookie(middleware.RenewalCookie); err == nil {
		return cookie.Value
	}
	var body struct {
		Renewal string `json:"renewal"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}
	return body.Renewal
}

func (s *Server) setAuthCookies(w http.ResponseWriter, pair *token.Pair) {
	s.setAccessCookie(w, pair.Access)
	s.setRenewalCookie(w, pair.Renewal)
}

func (s *Server) setAccessCookie(w http.ResponseWriter, access token.Credential) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    access.Raw,
		Path:     "/",
		Expires:  access.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) setRenewalCookie(w http.ResponseWriter, renewal token.Credential) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.RenewalCookie,
		Value:    renewal.Raw,
		Path:     refreshPath,
		Expires:  renewal.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.RenewalCookie,
		Value:    "",
		Path:     refreshPath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
