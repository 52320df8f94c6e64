package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aegis/pkg/auth"
	"github.com/Mindburn-Labs/aegis/pkg/capability"
	"github.com/Mindburn-Labs/aegis/pkg/events"
	"github.com/Mindburn-Labs/aegis/pkg/recovery"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type nopValidator struct{}

func (nopValidator) Uninstall(ctx context.Context, data []byte) error { return nil }
func (nopValidator) Install(ctx context.Context, data []byte) error   { return nil }

type testEnv struct {
	mux *http.ServeMux
	clk *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	reg := capability.NewRegistry()
	reg.Register("passkey", nopValidator{})
	log := events.NewLog().WithClock(func() time.Time { return clk.t })
	svc := recovery.NewService(recovery.NewMemoryLedger(168*time.Hour), reg, log, recovery.DefaultOptions(), clk)

	mux := http.NewServeMux()
	NewHandler(svc, log).Register(mux)
	return &testEnv{mux: mux, clk: clk}
}

func (e *testEnv) do(method, path string, body string, p *auth.Principal) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader("{}"))
	}
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

var (
	ownerPrincipal    = auth.Principal{ID: "alice", Account: "acct", Role: recovery.RoleOwner}
	guardianPrincipal = auth.Principal{ID: "guardian-svc", Account: "acct", Role: recovery.RoleGuardian}
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerAndGetEscape(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", `{"payload":"aGVsbG8="}`, &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var state recovery.EscapeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, recovery.StatusNotReady, state.Status)
	assert.Equal(t, "alice", state.Request.Initiator)

	rec = env.do(http.MethodGet, "/v1/escapes/passkey", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRejectsBadPayload(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", `{"payload":"not-base64!!!"}`, &ownerPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRequiresPrincipal(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestCompleteLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Too early: mapped to 409.
	rec = env.do(http.MethodPost, "/v1/escapes/passkey/complete", "", &ownerPrincipal)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.clk.Advance(168 * time.Hour)
	rec = env.do(http.MethodPost, "/v1/escapes/passkey/complete", "", &ownerPrincipal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var state recovery.EscapeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, recovery.StatusNone, state.Status)
}

func TestCompleteErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	// No request at all: 404.
	rec := env.do(http.MethodPost, "/v1/escapes/passkey/complete", "", &ownerPrincipal)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Wrong principal: 403.
	env.clk.Advance(168 * time.Hour)
	rec = env.do(http.MethodPost, "/v1/escapes/passkey/complete", "", &guardianPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Expired: 410.
	env.clk.Advance(169 * time.Hour)
	rec = env.do(http.MethodPost, "/v1/escapes/passkey/complete", "", &ownerPrincipal)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestTriggerCooldownMapsTo429(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	env.clk.Advance(time.Hour)
	rec = env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCancelTwoPhaseOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/cancel", "", &ownerPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)

	var state recovery.EscapeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Request.Active, "one approval must not clear the request")
	assert.True(t, state.Approvals.Owner)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/cancel", "", &guardianPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, recovery.StatusNone, state.Status)
}

func TestApproveCancelOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/cancel/approve", "", &guardianPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)

	var state recovery.EscapeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Request.Active)
	assert.True(t, state.Approvals.Guardian)
	assert.False(t, state.Approvals.Owner)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/cancel/approve", "", &ownerPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, recovery.StatusNone, state.Status)
}

func TestOverrideRestrictedToOwner(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &guardianPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/override", "", &guardianPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/v1/escapes/passkey/override", "", &ownerPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)

	var state recovery.EscapeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, recovery.StatusNone, state.Status)
}

func TestSecurityPeriodEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/v1/config/security-period", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SecurityPeriodResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "168h0m0s", resp.Period)

	// Guardian may not change it.
	rec = env.do(http.MethodPut, "/v1/config/security-period", `{"period":"24h"}`, &guardianPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Below floor: 400.
	rec = env.do(http.MethodPut, "/v1/config/security-period", `{"period":"10m"}`, &ownerPrincipal)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPut, "/v1/config/security-period", `{"period":"24h"}`, &ownerPrincipal)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/v1/config/security-period", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "24h0m0s", resp.Period)
}

func TestListEvents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/v1/escapes/passkey/trigger", "", &ownerPrincipal)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodGet, "/v1/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, events.KindEscapeTriggered, list[0].Kind)
	assert.Equal(t, "passkey", list[0].Validator)

	rec = env.do(http.MethodGet, "/v1/events?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
