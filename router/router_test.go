package router

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txtx/moneymq-go/channels"
	"github.com/txtx/moneymq-go/events"
	"github.com/txtx/moneymq-go/facilitator"
	"github.com/txtx/moneymq-go/ledger"
	"github.com/txtx/moneymq-go/signer"
)

func newTestRootConfig(t *testing.T, stackID string, sandbox bool) *RootConfig {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	pool := signer.NewPool(&signer.MockSigner{AddressValue: "FeePayer11111111111111111111111111111111", Network: "solana"})
	chMgr := channels.NewManager("", l, nil)
	bus := events.NewBroadcaster()

	f := facilitator.New(facilitator.Config{FacilitatorID: stackID, PaymentStackID: stackID, IsSandbox: sandbox}, pool, l, chMgr, bus, nil, nil)

	return &RootConfig{
		Facilitator:     f,
		ChannelsHandler: channels.NewHandler(chMgr, nil),
	}
}

func TestRouterMountsLiveAndSandboxIndependently(t *testing.T) {
	live := newTestRootConfig(t, "live-stack", false)
	sandbox := newTestRootConfig(t, "sandbox-stack", true)
	handler := New(live, sandbox)

	liveReq := httptest.NewRequest(http.MethodGet, "/payment/v1/supported", nil)
	liveRec := httptest.NewRecorder()
	handler.ServeHTTP(liveRec, liveReq)
	assert.Equal(t, http.StatusOK, liveRec.Code)

	sandboxReq := httptest.NewRequest(http.MethodGet, "/payment/v1/sandbox/supported", nil)
	sandboxRec := httptest.NewRecorder()
	handler.ServeHTTP(sandboxRec, sandboxReq)
	assert.Equal(t, http.StatusOK, sandboxRec.Code)
}

func TestRouterOmitsSandboxWhenNil(t *testing.T) {
	live := newTestRootConfig(t, "live-stack", false)
	handler := New(live, nil)

	req := httptest.NewRequest(http.MethodGet, "/payment/v1/sandbox/supported", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterServesAdminTransactionsAndJWKS(t *testing.T) {
	live := newTestRootConfig(t, "live-stack", false)
	handler := New(live, nil)

	req := httptest.NewRequest(http.MethodGet, "/payment/v1/admin/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	jwksReq := httptest.NewRequest(http.MethodGet, "/payment/v1/.well-known/jwks.json", nil)
	jwksRec := httptest.NewRecorder()
	handler.ServeHTTP(jwksRec, jwksReq)
	assert.Equal(t, http.StatusOK, jwksRec.Code)
}

func TestRouterAppliesCORSHeaders(t *testing.T) {
	live := newTestRootConfig(t, "live-stack", false)
	handler := New(live, nil)

	req := httptest.NewRequest(http.MethodOptions, "/payment/v1/supported", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterAttachmentsRouteDispatchesByPathValue(t *testing.T) {
	live := newTestRootConfig(t, "live-stack", false)
	handler := New(live, nil)

	req := httptest.NewRequest(http.MethodPost, "/payment/v1/channels/chan-1/attachments", strings.NewReader(`{"note":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}
