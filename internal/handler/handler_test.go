package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/efreitasn/exchangecore/internal/config"
	"github.com/efreitasn/exchangecore/internal/domain"
	"github.com/efreitasn/exchangecore/internal/engine"
	"github.com/efreitasn/exchangecore/internal/metrics"
	"github.com/efreitasn/exchangecore/internal/service"
	"github.com/efreitasn/exchangecore/internal/store"
)

const (
	curBTC int32 = 1
	curUSD int32 = 840
	spotID int32 = 10
)

// testEnv bundles the router with the exchange behind it.
type testEnv struct {
	router   http.Handler
	exchange *service.Exchange
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := metrics.New()
	x, err := service.NewExchange(service.Options{
		RiskShards:     2,
		MatchingShards: 1,
		Bucket:         engine.BucketFast,
		L2Depth:        5,
	}, store.NewMemoryStore(), m, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExchange: %v", err)
	}
	err = x.Bootstrap(context.Background(), &config.Bootstrap{
		Symbols: []config.SymbolEntry{
			{ID: spotID, Type: "exchange", Base: curBTC, Quote: curUSD, BaseScaleK: 100, QuoteScaleK: 10, TakerFee: 3, MakerFee: 1},
		},
		Accounts: []config.AccountEntry{
			{UID: 1, Balances: map[int32]int64{curBTC: 1_000}},
			{UID: 2, Balances: map[int32]int64{curUSD: 1_000_000}},
		},
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return &testEnv{router: NewRouter(x, m, zap.NewNop()), exchange: x}
}

func (env *testEnv) place(t *testing.T, id, uid int64, action domain.OrderAction, price, size int64) {
	t.Helper()
	cmd := &domain.OrderCommand{
		Command:         domain.CommandPlaceOrder,
		OrderID:         id,
		UID:             uid,
		Symbol:          spotID,
		Price:           price,
		ReserveBidPrice: price,
		Size:            size,
		Action:          action,
	}
	if err := env.exchange.Submit(context.Background(), cmd); err != nil {
		t.Fatalf("place %d: %v", id, err)
	}
	if cmd.ResultCode != domain.ResultSuccess {
		t.Fatalf("place %d: result %s", id, cmd.ResultCode)
	}
}

// doJSON sends a JSON request and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var resp errorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error != code {
		t.Fatalf("expected error %q, got %q", code, resp.Error)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp healthResponse
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %s", resp.Status)
	}
	if resp.Seq != 2 {
		t.Fatalf("expected seq 2 after bootstrap, got %d", resp.Seq)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected application/json, got %s", ct)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 1, domain.ActionAsk, 1000, 2)

	rr := env.doJSON(t, "GET", "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`exchangecore_commands_total{command="PLACE_ORDER",result="SUCCESS"} 1`,
		"exchangecore_last_sequence 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output lacks %q", want)
		}
	}
}

func TestReports_StateHash(t *testing.T) {
	env := newTestEnv(t)

	var first, second stateHashResponse
	rr := env.doJSON(t, "GET", "/reports/state-hash", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeJSON(t, rr, &first)
	if len(first.StateHash) != 16 {
		t.Fatalf("expected 16 hex digits, got %q", first.StateHash)
	}

	decodeJSON(t, env.doJSON(t, "GET", "/reports/state-hash", nil), &second)
	if first.StateHash != second.StateHash {
		t.Fatalf("queries changed the state: %s != %s", first.StateHash, second.StateHash)
	}
	if second.Seq != first.Seq+1 {
		t.Fatalf("expected seq %d, got %d", first.Seq+1, second.Seq)
	}

	env.place(t, 1, 1, domain.ActionAsk, 1000, 2)
	var third stateHashResponse
	decodeJSON(t, env.doJSON(t, "GET", "/reports/state-hash", nil), &third)
	if third.StateHash == second.StateHash {
		t.Fatal("expected the hash to change after an order rested")
	}
}

func TestReports_Balances(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 1, domain.ActionAsk, 1000, 5)
	env.place(t, 2, 2, domain.ActionBid, 1000, 3)

	rr := env.doJSON(t, "GET", "/reports/balances", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp balancesResponse
	decodeJSON(t, rr, &resp)
	if !resp.Balanced {
		t.Fatalf("expected balanced report, global %v", resp.Global)
	}
	if resp.Orders[curBTC] != 200 {
		t.Errorf("orders[BTC] = %d, want 200", resp.Orders[curBTC])
	}
	if resp.Fees[curUSD] != 12 {
		t.Errorf("fees[USD] = %d, want 12", resp.Fees[curUSD])
	}
	if resp.Adjustments[curUSD] != -1_000_000 {
		t.Errorf("adjustments[USD] = %d, want -1000000", resp.Adjustments[curUSD])
	}
}

func TestReports_User(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 7, 1, domain.ActionAsk, 1000, 4)

	rr := env.doJSON(t, "GET", "/reports/users/1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp userResponse
	decodeJSON(t, rr, &resp)
	if resp.Accounts[curBTC] != 600 {
		t.Errorf("accounts[BTC] = %d, want 600", resp.Accounts[curBTC])
	}
	if len(resp.Orders) != 1 || resp.Orders[0].OrderID != 7 || resp.Orders[0].Side != "ASK" {
		t.Fatalf("unexpected orders %+v", resp.Orders)
	}
	if resp.CommandsCounter != 1 {
		t.Errorf("commands_counter = %d, want 1", resp.CommandsCounter)
	}
	if resp.Positions == nil {
		t.Error("positions should encode as an empty list")
	}

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown user", "/reports/users/99", http.StatusNotFound, "user_not_found"},
		{"invalid uid", "/reports/users/abc", http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.doJSON(t, "GET", tt.path, nil), tt.status, tt.code)
		})
	}
}

func TestBook(t *testing.T) {
	env := newTestEnv(t)
	env.place(t, 1, 1, domain.ActionAsk, 1010, 1)
	env.place(t, 2, 1, domain.ActionAsk, 1000, 2)
	env.place(t, 3, 1, domain.ActionAsk, 1000, 1)
	env.place(t, 4, 2, domain.ActionBid, 990, 5)

	rr := env.doJSON(t, "GET", "/books/10?depth=1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp bookResponse
	decodeJSON(t, rr, &resp)
	if len(resp.Asks) != 1 || resp.Asks[0] != (bookLevelResponse{Price: 1000, Volume: 3, OrderCount: 2}) {
		t.Fatalf("unexpected asks %+v", resp.Asks)
	}
	if len(resp.Bids) != 1 || resp.Bids[0] != (bookLevelResponse{Price: 990, Volume: 5, OrderCount: 1}) {
		t.Fatalf("unexpected bids %+v", resp.Bids)
	}

	decodeJSON(t, env.doJSON(t, "GET", "/books/10", nil), &resp)
	if len(resp.Asks) != 2 {
		t.Fatalf("expected 2 ask levels with the default depth, got %d", len(resp.Asks))
	}

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown symbol", "/books/77", http.StatusNotFound, "symbol_not_found"},
		{"invalid symbol", "/books/btc", http.StatusBadRequest, "validation_error"},
		{"invalid depth", "/books/10?depth=x", http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.doJSON(t, "GET", tt.path, nil), tt.status, tt.code)
		})
	}
}

func TestSnapshots(t *testing.T) {
	env := newTestEnv(t)

	expectError(t, env.doJSON(t, "GET", "/snapshots/latest", nil), http.StatusNotFound, "snapshot_not_found")

	rr := env.doJSON(t, "POST", "/snapshots", map[string]any{"snapshot_id": 9})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created manifestResponse
	decodeJSON(t, rr, &created)
	if created.SnapshotID != 9 || created.RiskShards != 2 || created.MatchingShards != 1 {
		t.Fatalf("unexpected manifest %+v", created)
	}
	if created.InstanceID != env.exchange.InstanceID().String() {
		t.Fatalf("instance_id = %s, want %s", created.InstanceID, env.exchange.InstanceID())
	}

	var latest manifestResponse
	decodeJSON(t, env.doJSON(t, "GET", "/snapshots/latest", nil), &latest)
	if latest != created {
		t.Fatalf("latest %+v, want %+v", latest, created)
	}

	rr = env.doRaw(t, "POST", "/snapshots", "", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("empty body: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		code        string
	}{
		{"wrong content type", "text/plain", `{"snapshot_id": 1}`, "invalid_request"},
		{"unknown field", "application/json", `{"id": 1}`, "validation_error"},
		{"malformed json", "application/json", `{`, "validation_error"},
		{"negative id", "application/json", `{"snapshot_id": -1}`, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.doRaw(t, "POST", "/snapshots", tt.contentType, tt.body), http.StatusBadRequest, tt.code)
		})
	}
}
