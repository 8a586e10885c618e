package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"launchpad.org/internal/auth"
	"launchpad.org/internal/config"
	"launchpad.org/internal/events"
	"launchpad.org/internal/journal"
	"launchpad.org/internal/obs"
	"launchpad.org/internal/platform"
	"launchpad.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	now      atomic.Int64
	platform *platform.Platform

	ownerKey *ecdsa.PrivateKey
	aliceKey *ecdsa.PrivateKey
	bobKey   *ecdsa.PrivateKey
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func addrOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	obs.SetLogger(zap.NewNop())
	t.Cleanup(func() { obs.SetLogger(nil) })

	c := &apiClient{t: t, ownerKey: mustKey(t), aliceKey: mustKey(t), bobKey: mustKey(t)}
	c.now.Store(1_700_000_000)

	cfg := config.Default().Platform
	cfg.Owner = addrOf(c.ownerKey).Hex()
	cfg.Genesis = []config.Allocation{
		{Symbol: "POL", Account: addrOf(c.aliceKey).Hex(), Amount: "5000"},
		{Symbol: "ETH", Account: addrOf(c.aliceKey).Hex(), Amount: "10"},
		{Symbol: "POL", Account: addrOf(c.bobKey).Hex(), Amount: "500"},
	}
	cfg.Sales[0].RegistrationDuration = time.Hour
	cfg.Sales[0].SaleGap = 10 * time.Minute
	cfg.Sales[0].SaleDuration = time.Hour
	cfg.Sales[0].Start = c.now.Load()
	cfg.Raffles[0].TicketWindow = time.Hour
	cfg.Raffles[0].Start = c.now.Load()

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	st := stream.New(64)

	p, err := platform.New(context.Background(), cfg, platform.Options{
		Emitters:  []events.Emitter{j, st},
		OracleKey: mustKey(t),
		Now:       func() int64 { return c.now.Load() },
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("platform: %v", err)
	}
	c.platform = p

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    time.Hour,
		Owner:  p.Owner(),
	})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	api, err := New(Deps{
		Platform:   p,
		Issuer:     issuer,
		Stream:     st,
		Journal:    j,
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("api: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	c.baseURL = srv.URL
	c.client = srv.Client()
	return c
}

func (c *apiClient) advance(d time.Duration) {
	c.now.Add(int64(d / time.Second))
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, "")
}

// expect asserts the status and decodes the JSON body.
func (c *apiClient) expect(resp *http.Response, code int) map[string]any {
	c.t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != code {
		c.t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, code, resp.StatusCode, raw)
	}
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return out
}

func (c *apiClient) login(key *ecdsa.PrivateKey) string {
	c.t.Helper()
	ts := time.Now().Unix()
	sig, err := auth.SignLogin(key, ts)
	if err != nil {
		c.t.Fatalf("sign login: %v", err)
	}
	body := c.expect(c.post("/v1/auth/token", map[string]any{
		"address":   addrOf(key).Hex(),
		"issuedAt":  ts,
		"signature": hexutil.Encode(sig),
	}, ""), http.StatusOK)
	token, _ := body["token"].(string)
	if token == "" {
		c.t.Fatalf("no token in %v", body)
	}
	return token
}

func sameAddress(v any, want common.Address) bool {
	s, _ := v.(string)
	return common.IsHexAddress(s) && common.HexToAddress(s) == want
}

func tokensOf(t *testing.T, v any) string {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected amount object, got %T", v)
	}
	s, _ := m["tokens"].(string)
	return s
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	body := c.expect(c.get("/healthz", nil), http.StatusOK)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
	c.expect(c.get("/readyz", nil), http.StatusOK)

	info := c.expect(c.get("/v1/info", nil), http.StatusOK)
	if !sameAddress(info["owner"], addrOf(c.ownerKey)) {
		t.Fatalf("owner=%v", info["owner"])
	}
	insts, _ := info["instances"].([]any)
	if len(insts) != 2 {
		t.Fatalf("expected 2 instances, got %v", info["instances"])
	}

	resp := c.get("/v1/nope", nil)
	c.expect(resp, http.StatusNotFound)
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestLoginRejectsBadSignature(t *testing.T) {
	c := newTestAPI(t)
	ts := time.Now().Unix()
	sig, err := auth.SignLogin(c.bobKey, ts)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c.expect(c.post("/v1/auth/token", map[string]any{
		"address":   addrOf(c.aliceKey).Hex(),
		"issuedAt":  ts,
		"signature": hexutil.Encode(sig),
	}, ""), http.StatusUnauthorized)

	stale, _ := auth.SignLogin(c.aliceKey, ts-3600)
	c.expect(c.post("/v1/auth/token", map[string]any{
		"address":   addrOf(c.aliceKey).Hex(),
		"issuedAt":  ts - 3600,
		"signature": hexutil.Encode(stale),
	}, ""), http.StatusUnauthorized)

	c.expect(c.post("/v1/auth/token", map[string]any{"address": "alice"}, ""), http.StatusBadRequest)
}

func TestSaleFlowOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login(c.aliceKey)
	aliceAddr := addrOf(c.aliceKey).Hex()
	stakerAddr := c.platform.Staker().Address().Hex()

	c.expect(c.post("/v1/staker/stake", map[string]any{"amount": "4000"}, ""), http.StatusUnauthorized)

	c.expect(c.post("/v1/assets/POL/approve", map[string]any{"spender": stakerAddr, "amount": "4000"}, alice), http.StatusOK)
	acct := c.expect(c.post("/v1/staker/stake", map[string]any{"amount": "4000"}, alice), http.StatusOK)
	if got := tokensOf(t, acct["staked"]); got != "4000" {
		t.Fatalf("staked=%s", got)
	}

	c.expect(c.post("/v1/sales/ido/register", map[string]any{"tier": 9}, alice), http.StatusBadRequest)
	part := c.expect(c.post("/v1/sales/ido/register", map[string]any{"tier": 5}, alice), http.StatusOK)
	if part["tier"] != float64(5) || part["registered"] != true {
		t.Fatalf("participant=%v", part)
	}
	c.expect(c.post("/v1/sales/ido/register", map[string]any{"tier": 5}, alice), http.StatusConflict)

	quote := c.expect(c.get("/v1/sales/ido/quote/5", nil), http.StatusOK)
	if tokensOf(t, quote["units"]) != "4500" || tokensOf(t, quote["price"]) != "4.5" {
		t.Fatalf("quote=%v", quote)
	}

	// registration is still open
	c.expect(c.post("/v1/sales/ido/buy", map[string]any{"value": "4.5"}, alice), http.StatusConflict)

	c.advance(70 * time.Minute)
	c.expect(c.post("/v1/sales/ido/buy", map[string]any{"value": "1"}, alice), http.StatusBadRequest)
	part = c.expect(c.post("/v1/sales/ido/buy", map[string]any{"value": "4.5"}, alice), http.StatusOK)
	if part["purchased"] != true {
		t.Fatalf("participant=%v", part)
	}

	bal := c.expect(c.get("/v1/assets/TST/balances/"+aliceAddr, nil), http.StatusOK)
	if got := tokensOf(t, bal["balance"]); got != "4500" {
		t.Fatalf("TST balance=%s", got)
	}

	// the sale locked alice's stake past the sale window
	c.expect(c.post("/v1/staker/unstake", map[string]any{"amount": "1"}, alice), http.StatusConflict)

	evs := c.expect(c.get("/v1/events", url.Values{"type": {events.TypeSalePurchased}, "account": {strings.ToLower(aliceAddr)}}), http.StatusOK)
	list, _ := evs["events"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one purchase event, got %v", evs)
	}

	c.expect(c.get("/v1/sales/missing", nil), http.StatusNotFound)
	c.expect(c.get("/v1/events", url.Values{"account": {"bob"}}), http.StatusBadRequest)
}

func TestAdminRoutesRequireOwner(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login(c.aliceKey)
	owner := c.login(c.ownerKey)

	c.expect(c.post("/v1/admin/staker/halt", map[string]any{"halted": true}, alice), http.StatusForbidden)
	c.expect(c.post("/v1/admin/staker/halt", map[string]any{"halted": true}, "not-a-token"), http.StatusUnauthorized)
	body := c.expect(c.post("/v1/admin/staker/halt", map[string]any{"halted": true}, owner), http.StatusOK)
	if body["halted"] != true {
		t.Fatalf("halt body=%v", body)
	}

	stakerAddr := c.platform.Staker().Address().Hex()
	c.expect(c.post("/v1/assets/POL/approve", map[string]any{"spender": stakerAddr, "amount": "10"}, alice), http.StatusOK)
	c.expect(c.post("/v1/staker/stake", map[string]any{"amount": "10"}, alice), http.StatusConflict)

	locker := addrOf(c.bobKey).Hex()
	c.expect(c.post("/v1/admin/staker/lockers", map[string]any{"address": locker}, owner), http.StatusOK)
	if !c.platform.Staker().IsLocker(addrOf(c.bobKey)) {
		t.Fatal("locker not added")
	}
	c.expect(c.do(http.MethodDelete, "/v1/admin/staker/lockers/"+locker, nil, owner), http.StatusOK)
	if c.platform.Staker().IsLocker(addrOf(c.bobKey)) {
		t.Fatal("locker not removed")
	}

	c.expect(c.post("/v1/admin/sales/ido/initialize", map[string]any{"start": 1}, owner), http.StatusConflict)

	recovered := c.expect(c.post("/v1/admin/sales/ido/recover", map[string]any{"symbol": "TST", "to": addrOf(c.ownerKey).Hex()}, owner), http.StatusOK)
	if got := tokensOf(t, recovered["amount"]); got != "10000" {
		t.Fatalf("recovered=%s", got)
	}
}

func TestRaffleFlowOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	bob := c.login(c.bobKey)
	rf, err := c.platform.Raffle("raffle")
	if err != nil {
		t.Fatalf("raffle: %v", err)
	}

	c.expect(c.post("/v1/assets/POL/approve", map[string]any{"spender": rf.Address().Hex(), "amount": "1"}, bob), http.StatusOK)
	c.expect(c.post("/v1/raffles/raffle/tickets", map[string]any{"count": 0}, bob), http.StatusBadRequest)
	bought := c.expect(c.post("/v1/raffles/raffle/tickets", map[string]any{"count": 30}, bob), http.StatusOK)
	if bought["tickets"] != float64(30) {
		t.Fatalf("tickets=%v", bought)
	}

	c.expect(c.post("/v1/raffles/raffle/pools/1/randomness", nil, bob), http.StatusNotFound)
	req := c.expect(c.post("/v1/raffles/raffle/pools/0/randomness", nil, bob), http.StatusAccepted)
	id, _ := req["requestId"].(string)
	if id == "" {
		t.Fatalf("no request id in %v", req)
	}
	c.expect(c.post("/v1/raffles/raffle/pools/0/randomness", nil, bob), http.StatusConflict)

	pending := c.expect(c.get("/v1/oracle/requests/"+id, nil), http.StatusOK)
	if pending["fulfilled"] != false {
		t.Fatalf("request=%v", pending)
	}
	if n := c.platform.Oracle().FulfillPending(context.Background()); n != 1 {
		t.Fatalf("fulfilled %d requests", n)
	}
	done := c.expect(c.get("/v1/oracle/requests/"+id, nil), http.StatusOK)
	if done["fulfilled"] != true || done["proof"] == nil {
		t.Fatalf("request=%v", done)
	}

	pool := c.expect(c.get("/v1/raffles/raffle/pools/0", nil), http.StatusOK)
	if pool["status"] != "resolved" || !sameAddress(pool["winner"], addrOf(c.bobKey)) {
		t.Fatalf("pool=%v", pool)
	}

	alice := c.login(c.aliceKey)
	c.expect(c.post("/v1/raffles/raffle/pools/0/claim", nil, alice), http.StatusForbidden)
	claimed := c.expect(c.post("/v1/raffles/raffle/pools/0/claim", nil, bob), http.StatusOK)
	if got := tokensOf(t, claimed["units"]); got != "30" {
		t.Fatalf("claimed=%s", got)
	}
	c.expect(c.post("/v1/raffles/raffle/pools/0/claim", nil, bob), http.StatusConflict)
	c.expect(c.get("/v1/raffles/raffle/pools/99", nil), http.StatusNotFound)
	c.expect(c.get("/v1/oracle/requests/0x1234", nil), http.StatusBadRequest)
}

func TestEventStream(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login(c.aliceKey)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events/stream?type="+events.TypeStaked, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, ": stream started") {
		t.Fatalf("unexpected preamble %q: %v", first, err)
	}

	stakerAddr := c.platform.Staker().Address().Hex()
	c.expect(c.post("/v1/assets/POL/approve", map[string]any{"spender": stakerAddr, "amount": "5"}, alice), http.StatusOK)
	c.expect(c.post("/v1/staker/stake", map[string]any{"amount": "5"}, alice), http.StatusOK)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event: ")); got != events.TypeStaked {
				t.Fatalf("unexpected event %q", got)
			}
			return
		}
	}
}
