package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/blockscope/explorer/internal/app"
	"github.com/blockscope/explorer/internal/app/domain/token"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/internal/app/storage/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	application := app.New(app.Stores{}, app.Options{}, nil)
	srv := httptest.NewServer(NewHandler(application, Options{}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, payload any) (int, map[string]json.RawMessage) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, envelope
}

func field(t *testing.T, envelope map[string]json.RawMessage, key string, dst any) {
	t.Helper()
	raw, ok := envelope[key]
	if !ok {
		t.Fatalf("response missing %q: %v", key, envelope)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %q: %v", key, err)
	}
}

type userResp struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

type walletResp struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Address string `json:"address"`
}

func registerUser(t *testing.T, srv *httptest.Server, username, email string) (userResp, walletResp) {
	t.Helper()
	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/users/register", map[string]string{
		"username": username,
		"email":    email,
		"password": "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("register: status %d (%v)", status, envelope)
	}
	var u userResp
	field(t, envelope, "user", &u)

	status, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/users/"+u.ID+"/wallets", nil)
	if status != http.StatusOK {
		t.Fatalf("list wallets: status %d", status)
	}
	var wallets []walletResp
	field(t, envelope, "wallets", &wallets)
	if len(wallets) != 1 {
		t.Fatalf("expected one default wallet, got %d", len(wallets))
	}
	return u, wallets[0]
}

func createToken(t *testing.T, srv *httptest.Server, symbol, price string) {
	t.Helper()
	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/tokens", map[string]any{
		"symbol":    symbol,
		"name":      symbol + " token",
		"price_usd": json.Number(price),
	})
	if status != http.StatusCreated {
		t.Fatalf("create token: status %d (%v)", status, envelope)
	}
}

func deposit(t *testing.T, srv *httptest.Server, walletID, token, amount string) {
	t.Helper()
	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/wallets/"+walletID+"/deposit", map[string]any{
		"token":  token,
		"amount": json.Number(amount),
	})
	if status != http.StatusOK {
		t.Fatalf("deposit: status %d (%v)", status, envelope)
	}
}

func TestTransferEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	_, aliceWallet := registerUser(t, srv, "alice", "alice@example.com")
	_, bobWallet := registerUser(t, srv, "bob", "bob@example.com")
	createToken(t, srv, "GLD", "2")
	deposit(t, srv, aliceWallet.ID, "GLD", "100")

	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/transactions/transfer", map[string]any{
		"from_wallet_id": aliceWallet.ID,
		"to_address":     bobWallet.Address,
		"token":          "GLD",
		"amount":         json.Number("40"),
	})
	if status != http.StatusCreated {
		t.Fatalf("transfer: status %d (%v)", status, envelope)
	}
	var tx struct {
		Hash   string `json:"hash"`
		Method string `json:"method"`
		Fee    string `json:"fee"`
	}
	field(t, envelope, "transaction", &tx)
	if tx.Method != "transfer" || tx.Fee != "0.04" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	// Insufficient balance surfaces as 400 with a message envelope.
	status, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/transactions/transfer", map[string]any{
		"from_wallet_id": aliceWallet.ID,
		"to_address":     bobWallet.Address,
		"token":          "GLD",
		"amount":         json.Number("1000"),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("oversized transfer: status %d (%v)", status, envelope)
	}
	if _, ok := envelope["message"]; !ok {
		t.Fatalf("error response missing message: %v", envelope)
	}

	// The audit row is visible by hash.
	status, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/transactions/"+tx.Hash, nil)
	if status != http.StatusOK {
		t.Fatalf("get transaction: status %d (%v)", status, envelope)
	}
}

func TestConversionEndpoints(t *testing.T) {
	srv := newTestServer(t)

	_, wallet := registerUser(t, srv, "alice", "alice@example.com")
	createToken(t, srv, "GLD", "2")
	createToken(t, srv, "SLV", "0.5")
	deposit(t, srv, wallet.ID, "GLD", "10")

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/conversion/rate?from=GLD&to=SLV&amount=10", nil)
	if status != http.StatusOK {
		t.Fatalf("rate: status %d (%v)", status, envelope)
	}
	var quote struct {
		FinalOutput string `json:"final_output"`
	}
	field(t, envelope, "quote", &quote)
	if quote.FinalOutput != "39.88" {
		t.Fatalf("final output = %s, want 39.88", quote.FinalOutput)
	}

	status, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/conversion", map[string]any{
		"wallet_id": wallet.ID,
		"from":      "GLD",
		"to":        "SLV",
		"amount":    json.Number("10"),
	})
	if status != http.StatusCreated {
		t.Fatalf("convert: status %d (%v)", status, envelope)
	}

	status, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/wallets/"+wallet.ID+"/holdings", nil)
	if status != http.StatusOK {
		t.Fatalf("holdings: status %d", status)
	}
	var holdings []struct {
		Amount string `json:"amount"`
	}
	field(t, envelope, "holdings", &holdings)
	if len(holdings) != 1 {
		t.Fatalf("source holding should be gone after a full conversion, got %d holdings", len(holdings))
	}
}

func TestP2PEscrowEndpoints(t *testing.T) {
	srv := newTestServer(t)

	seller, sellerWallet := registerUser(t, srv, "seller", "seller@example.com")
	buyer, _ := registerUser(t, srv, "buyer", "buyer@example.com")
	createToken(t, srv, "GLD", "2")
	deposit(t, srv, sellerWallet.ID, "GLD", "10")

	status, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/p2p/orders", map[string]any{
		"user_id": seller.ID,
		"side":    "sell",
		"token":   "GLD",
		"amount":  json.Number("10"),
		"price":   json.Number("2"),
	})
	if status != http.StatusCreated {
		t.Fatalf("create order: status %d (%v)", status, envelope)
	}
	var order struct {
		ID    string `json:"id"`
		Total string `json:"total"`
	}
	field(t, envelope, "order", &order)
	if order.Total != "20" {
		t.Fatalf("total = %s, want 20", order.Total)
	}

	status, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/p2p/orders/"+order.ID+"/accept", map[string]string{"user_id": buyer.ID})
	if status != http.StatusCreated {
		t.Fatalf("accept: status %d (%v)", status, envelope)
	}
	var tx struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	field(t, envelope, "p2p_transaction", &tx)
	if tx.Status != "pending" {
		t.Fatalf("status = %s, want pending", tx.Status)
	}

	// Only the seller acknowledges payment.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/p2p/transactions/"+tx.ID+"/paid", map[string]string{"user_id": buyer.ID})
	if status != http.StatusForbidden {
		t.Fatalf("buyer paid claim: status %d, want 403", status)
	}

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/p2p/transactions/"+tx.ID+"/paid", map[string]string{"user_id": seller.ID})
	if status != http.StatusOK {
		t.Fatalf("mark paid: status %d", status)
	}
	// Either party may complete; the buyer does here.
	status, envelope = doJSON(t, http.MethodPost, srv.URL+"/api/p2p/transactions/"+tx.ID+"/complete", map[string]string{"user_id": buyer.ID})
	if status != http.StatusOK {
		t.Fatalf("complete: status %d (%v)", status, envelope)
	}
	field(t, envelope, "p2p_transaction", &tx)
	if tx.Status != "completed" {
		t.Fatalf("status = %s, want completed", tx.Status)
	}

	// Settlement appears in the ledger as a p2p row.
	status, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/transactions?method=p2p", nil)
	if status != http.StatusOK {
		t.Fatalf("list transactions: status %d", status)
	}
	var txs []struct {
		Reference string `json:"reference"`
	}
	field(t, envelope, "transactions", &txs)
	if len(txs) != 1 || txs[0].Reference != tx.ID {
		t.Fatalf("expected one settlement row referencing %s, got %+v", tx.ID, txs)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	srv := newTestServer(t)

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/wallets/missing", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (%v)", status, envelope)
	}
}

type brokenTokenStore struct {
	storage.TokenStore
}

func (brokenTokenStore) GetTokenBySymbol(ctx context.Context, symbol string) (token.Token, error) {
	return token.Token{}, errors.New("connection reset by peer")
}

// Errors outside the sentinel vocabulary are server faults, not client ones.
func TestUnexpectedStoreErrorMapsTo500(t *testing.T) {
	application := app.New(app.Stores{Tokens: brokenTokenStore{memory.New()}}, app.Options{}, nil)
	srv := httptest.NewServer(NewHandler(application, Options{}))
	t.Cleanup(srv.Close)

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/tokens/GLD", nil)
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (%v)", status, envelope)
	}

	// Validation failures stay client faults.
	status, _ = doJSON(t, http.MethodPost, srv.URL+"/api/tokens", map[string]any{
		"symbol": "", "name": "", "price_usd": json.Number("1"),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestAuditRecordsWrites(t *testing.T) {
	srv := newTestServer(t)

	registerUser(t, srv, "alice", "alice@example.com")

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/admin/audit", nil)
	if status != http.StatusOK {
		t.Fatalf("audit: status %d", status)
	}
	var entries []struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
	}
	field(t, envelope, "entries", &entries)
	if len(entries) == 0 {
		t.Fatal("expected audit entries after a write request")
	}
	found := false
	for _, e := range entries {
		if e.Method == http.MethodPost && e.Path == "/api/users/register" && e.Status == http.StatusCreated {
			found = true
		}
	}
	if !found {
		t.Fatalf("register call not audited: %+v", entries)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t)

	createToken(t, srv, "GLD", "2")

	status, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/search?q=GLD", nil)
	if status != http.StatusOK {
		t.Fatalf("search: status %d", status)
	}
	var results []struct {
		Type string `json:"type"`
	}
	field(t, envelope, "results", &results)
	if len(results) != 1 || results[0].Type != "token" {
		t.Fatalf("got %+v, want one token result", results)
	}

	if status, _ := doJSON(t, http.MethodGet, srv.URL+"/api/search?q=unknown", nil); status != http.StatusOK {
		t.Fatalf("empty search should still be 200, got %d", status)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/tokens", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
