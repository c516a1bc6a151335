package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staykeeper/gatehouse/pkg/audit"
	"github.com/staykeeper/gatehouse/pkg/auth"
	"github.com/staykeeper/gatehouse/pkg/middleware"
	"github.com/staykeeper/gatehouse/pkg/observability"
	"github.com/staykeeper/gatehouse/pkg/rbac"
	"github.com/staykeeper/gatehouse/pkg/revocation"
	"github.com/staykeeper/gatehouse/pkg/throttle"
	"github.com/staykeeper/gatehouse/pkg/token"
)

const testLoginSecret = "front-desk-secret"

func setupServerTest(t *testing.T, opts ...token.Option) *Server {
	t.Helper()

	store := auth.NewMemoryStore()
	store.PutRole(&auth.Role{ID: "role-1", Name: auth.RoleReceptionist, Active: true})

	hash, err := auth.HashSecret(testLoginSecret)
	require.NoError(t, err)
	store.PutIdentity(&auth.Identity{
		ID:         "id-1",
		Email:      "desk@example.com",
		SecretHash: hash,
		RoleID:     "role-1",
		Status:     auth.StatusActive,
	})

	tokens, err := token.NewService(store, revocation.NewMemoryStore(),
		[]byte("access-secret-for-tests-0123456789ab"),
		[]byte("renewal-secret-for-tests-0123456789a"),
		opts...)
	require.NoError(t, err)

	engine := throttle.NewEngine(throttle.NewLocalCounter(), throttle.DefaultPolicies())
	registry := prometheus.NewRegistry()

	return NewServer(
		store,
		tokens,
		rbac.NewResolver(),
		engine,
		audit.NopSink{},
		observability.NewLogger(observability.ErrorLevel, nil),
		observability.NewMetrics(registry),
		registry,
	)
}

func doLogin(t *testing.T, server *Server, email, secret string) *httptest.ResponseRecorder {
	t.Helper()

	body := `{"email":"` + email + `","secret":"` + secret + `"}`
	req := httptest.NewRequest("POST", "/v1/auth/login", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	server := setupServerTest(t)

	rec := doLogin(t, server, "desk@example.com", testLoginSecret)
	require.Equal(t, http.StatusOK, rec.Code)

	var body loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body.Access.Token)
	assert.NotEmpty(t, body.Renewal.Token)
	assert.Equal(t, "id-1", body.Identity.ID)
	assert.Equal(t, auth.RoleReceptionist, body.Identity.Role)
	assert.Contains(t, body.Identity.Permissions, "check_in")

	cookies := rec.Result().Cookies()
	var accessCookie, renewalCookie *http.Cookie
	for _, c := range cookies {
		switch c.Name {
		case middleware.AccessCookie:
			accessCookie = c
		case middleware.RenewalCookie:
			renewalCookie = c
		}
	}
	require.NotNil(t, accessCookie)
	require.NotNil(t, renewalCookie)
	assert.True(t, accessCookie.HttpOnly)
	assert.Equal(t, "/v1/auth/refresh", renewalCookie.Path, "renewal cookie is path-restricted")
}

// unreachableStore simulates a credential store outage during login.
type unreachableStore struct {
	*auth.MemoryStore
}

func (s *unreachableStore) IdentityByEmail(ctx context.Context, email string) (*auth.Identity, error) {
	return nil, errors.New("pq: connection refused")
}

func TestLogin_StoreOutageIsTemporaryFailure(t *testing.T) {
	store := auth.NewMemoryStore()
	tokens, err := token.NewService(&unreachableStore{MemoryStore: store}, revocation.NewMemoryStore(),
		[]byte("access-secret-for-tests-0123456789ab"),
		[]byte("renewal-secret-for-tests-0123456789a"))
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	server := NewServer(
		&unreachableStore{MemoryStore: store},
		tokens,
		rbac.NewResolver(),
		throttle.NewEngine(throttle.NewLocalCounter(), throttle.DefaultPolicies()),
		audit.NopSink{},
		observability.NewLogger(observability.ErrorLevel, nil),
		observability.NewMetrics(registry),
		registry,
	)

	rec := doLogin(t, server, "desk@example.com", testLoginSecret)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "store_unavailable", body.Code)
}

func TestLogin_WrongSecretAndUnknownEmailLookAlike(t *testing.T) {
	server := setupServerTest(t)

	wrongSecret := doLogin(t, server, "desk@example.com", "nope")
	unknownEmail := doLogin(t, server, "ghost@example.com", testLoginSecret)

	assert.Equal(t, http.StatusUnauthorized, wrongSecret.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	// Identical bodies: no way to probe which emails exist.
	assert.Equal(t, wrongSecret.Body.String(), unknownEmail.Body.String())
}

func TestLogin_DisabledAccount(t *testing.T) {
	server := setupServerTest(t)

	identity, err := server.store.Identity(context.Background(), "id-1")
	require.NoError(t, err)
	identity.Status = auth.StatusSuspended
	server.store.(*auth.MemoryStore).PutIdentity(identity)

	rec := doLogin(t, server, "desk@example.com", testLoginSecret)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "account_disabled", body.Code)
}

func TestLogin_MalformedBody(t *testing.T) {
	server := setupServerTest(t)

	req := httptest.NewRequest("POST", "/v1/auth/login", strings.NewReader("{"))
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_ThrottledAfterRepeatedFailures(t *testing.T) {
	server := setupServerTest(t)

	for i := 0; i < 5; i++ {
		rec := doLogin(t, server, "desk@example.com", "wrong")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := doLogin(t, server, "desk@example.com", "wrong")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRefresh_WithCookie(t *testing.T) {
	server := setupServerTest(t)

	login := doLogin(t, server, "desk@example.com", testLoginSecret)
	require.Equal(t, http.StatusOK, login.Code)

	var renewalCookie *http.Cookie
	for _, c := range login.Result().Cookies() {
		if c.Name == middleware.RenewalCookie {
			renewalCookie = c
		}
	}
	require.NotNil(t, renewalCookie)

	req := httptest.NewRequest("POST", "/v1/auth/refresh", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.AddCookie(renewalCookie)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]credentialBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.NotEmpty(t, body["access"].Token)
	_, rotated := body["renewal"]
	assert.False(t, rotated, "no rotation by default")
}

func TestRefresh_WithoutCredential(t *testing.T) {
	server := setupServerTest(t)

	req := httptest.NewRequest("POST", "/v1/auth/refresh", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesAccess(t *testing.T) {
	server := setupServerTest(t)

	login := doLogin(t, server, "desk@example.com", testLoginSecret)
	require.Equal(t, http.StatusOK, login.Code)
	var body loginResponse
	require.NoError(t, json.NewDecoder(login.Body).Decode(&body))

	logout := httptest.NewRequest("POST", "/v1/auth/logout", nil)
	logout.RemoteAddr = "203.0.113.9:4000"
	logout.Header.Set("Authorization", "Bearer "+body.Access.Token)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, logout)
	require.Equal(t, http.StatusOK, rec.Code)

	// The access credential is dead for its remaining validity.
	me := httptest.NewRequest("GET", "/v1/auth/me", nil)
	me.RemoteAddr = "203.0.113.9:4000"
	me.Header.Set("Authorization", "Bearer "+body.Access.Token)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, me)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var errBody struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errBody))
	assert.Equal(t, "revoked", errBody.Code)
}

func TestMe(t *testing.T) {
	server := setupServerTest(t)

	login := doLogin(t, server, "desk@example.com", testLoginSecret)
	var body loginResponse
	require.NoError(t, json.NewDecoder(login.Body).Decode(&body))

	req := httptest.NewRequest("GET", "/v1/auth/me", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("Authorization", "Bearer "+body.Access.Token)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var me identityBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "id-1", me.ID)
	assert.Equal(t, auth.RoleReceptionist, me.Role)
	assert.Contains(t, me.Permissions, "manage_reservations")
}

func TestHealthz(t *testing.T) {
	server := setupServerTest(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupServerTest(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtect(t *testing.T) {
	server := setupServerTest(t)
	server.Router().Handle("/v1/rates",
		server.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}), rbac.ModeAll, "manage_rates")).Methods("PUT")

	login := doLogin(t, server, "desk@example.com", testLoginSecret)
	var body loginResponse
	require.NoError(t, json.NewDecoder(login.Body).Decode(&body))

	// A receptionist cannot manage rates.
	req := httptest.NewRequest("PUT", "/v1/rates", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("Authorization", "Bearer "+body.Access.Token)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var errBody struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errBody))
	assert.Equal(t, "insufficient_permission", errBody.Code)
}

func TestExpiredCredentialCode(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	server := setupServerTest(t, token.WithClock(clock))

	login := doLogin(t, server, "desk@example.com", testLoginSecret)
	var body loginResponse
	require.NoError(t, json.NewDecoder(login.Body).Decode(&body))

	now = now.Add(16 * time.Minute)

	req := httptest.NewRequest("GET", "/v1/auth/me", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("Authorization", "Bearer "+body.Access.Token)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var errBody struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errBody))
	assert.Equal(t, "expired", errBody.Code)
}
