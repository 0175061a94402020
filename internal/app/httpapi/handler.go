// Package httpapi exposes the explorer REST API.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	app "github.com/blockscope/explorer/internal/app"
	"github.com/blockscope/explorer/internal/app/domain/ledger"
	"github.com/blockscope/explorer/internal/app/domain/p2p"
	"github.com/blockscope/explorer/internal/app/metrics"
	conversionsvc "github.com/blockscope/explorer/internal/app/services/conversion"
	searchsvc "github.com/blockscope/explorer/internal/app/services/search"
	usersvc "github.com/blockscope/explorer/internal/app/services/users"
	walletsvc "github.com/blockscope/explorer/internal/app/services/wallets"
	"github.com/blockscope/explorer/internal/app/storage"
	"github.com/blockscope/explorer/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// Options configures the handler's ambient pieces.
type Options struct {
	// AuditDB, when set, persists audit entries to the audit_log table in
	// addition to the in-memory ring.
	AuditDB   *sql.DB
	AuditSize int
	Logger    *logger.Logger
}

// NewHandler returns the router exposing the REST API, /healthz and /metrics.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app:   application,
		audit: newAuditLog(opts.AuditSize, newPostgresAuditSink(opts.AuditDB)),
		log:   log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/users/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/users/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/users/verify", h.verifyEmail).Methods(http.MethodPost)
	api.HandleFunc("/users/verify/request", h.requestVerification).Methods(http.MethodPost)
	api.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/wallets", h.listUserWallets).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/notifications", h.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/p2p/transactions", h.listP2PTransactions).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)

	api.HandleFunc("/wallets", h.createWallet).Methods(http.MethodPost)
	api.HandleFunc("/wallets/address/{address}", h.getWalletByAddress).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{id}", h.getWallet).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{id}/holdings", h.listHoldings).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{id}/deposit", h.deposit).Methods(http.MethodPost)

	api.HandleFunc("/transactions/transfer", h.transfer).Methods(http.MethodPost)
	api.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{hash}", h.getTransaction).Methods(http.MethodGet)

	api.HandleFunc("/conversion/rate", h.conversionRate).Methods(http.MethodGet)
	api.HandleFunc("/conversion", h.convert).Methods(http.MethodPost)

	api.HandleFunc("/tokens", h.createToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens", h.listTokens).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{symbol}", h.getToken).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{id}/price", h.setTokenPrice).Methods(http.MethodPut)

	api.HandleFunc("/blocks", h.produceBlock).Methods(http.MethodPost)
	api.HandleFunc("/blocks", h.listBlocks).Methods(http.MethodGet)
	api.HandleFunc("/blocks/latest", h.latestBlock).Methods(http.MethodGet)
	api.HandleFunc("/blocks/{ref}", h.getBlock).Methods(http.MethodGet)
	api.HandleFunc("/validators", h.registerValidator).Methods(http.MethodPost)
	api.HandleFunc("/validators", h.listValidators).Methods(http.MethodGet)
	api.HandleFunc("/validators/{id}/status", h.setValidatorStatus).Methods(http.MethodPut)

	api.HandleFunc("/p2p/orders", h.createOrder).Methods(http.MethodPost)
	api.HandleFunc("/p2p/orders", h.listOrders).Methods(http.MethodGet)
	api.HandleFunc("/p2p/orders/{id}", h.getOrder).Methods(http.MethodGet)
	api.HandleFunc("/p2p/orders/{id}/accept", h.acceptOrder).Methods(http.MethodPost)
	api.HandleFunc("/p2p/orders/{id}/cancel", h.cancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/p2p/transactions/{id}", h.getP2PTransaction).Methods(http.MethodGet)
	api.HandleFunc("/p2p/transactions/{id}/paid", h.markPaid).Methods(http.MethodPost)
	api.HandleFunc("/p2p/transactions/{id}/complete", h.completeEscrow).Methods(http.MethodPost)
	api.HandleFunc("/p2p/transactions/{id}/cancel", h.cancelEscrow).Methods(http.MethodPost)
	api.HandleFunc("/p2p/transactions/{id}/dispute", h.disputeEscrow).Methods(http.MethodPost)

	api.HandleFunc("/market/overview", h.marketOverview).Methods(http.MethodGet)
	api.HandleFunc("/search", h.search).Methods(http.MethodGet)
	api.HandleFunc("/admin/audit", h.listAudit).Methods(http.MethodGet)

	return h.auditMiddleware(r)
}

// auditMiddleware records every mutating request in the audit ring.
func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- users ------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.Register(r.Context(), payload.Username, payload.Email, payload.Password)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "User registered successfully", "user", u)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Login successful", "user", u)
}

func (h *handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.VerifyEmail(r.Context(), payload.Email, payload.Code)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Email verified successfully", "user", u)
}

func (h *handler) requestVerification(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Users.RequestVerification(r.Context(), payload.Email); err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Verification code sent", "", nil)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.app.Users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Users retrieved successfully", "users", users)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "User retrieved successfully", "user", u)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.app.Users.Notifications(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Notifications retrieved successfully", "notifications", notes)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Users.MarkNotificationRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Notification marked as read", "", nil)
}

// --- wallets ----------------------------------------------------------------

func (h *handler) createWallet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
		Label  string `json:"label"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wal, err := h.app.Wallets.Create(r.Context(), payload.UserID, payload.Label)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Wallet created successfully", "wallet", wal)
}

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := h.app.Wallets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Wallet retrieved successfully", "wallet", wal)
}

func (h *handler) getWalletByAddress(w http.ResponseWriter, r *http.Request) {
	wal, err := h.app.Wallets.GetByAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Wallet retrieved successfully", "wallet", wal)
}

func (h *handler) listUserWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.app.Wallets.ListByUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Wallets retrieved successfully", "wallets", wallets)
}

func (h *handler) listHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.app.Wallets.Holdings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Holdings retrieved successfully", "holdings", holdings)
}

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string          `json:"token"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	holding, err := h.app.Wallets.Deposit(r.Context(), mux.Vars(r)["id"], payload.Token, payload.Amount)
	metrics.RecordLedgerOperation("deposit", err)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Deposit credited successfully", "holding", holding)
}

// --- transactions -----------------------------------------------------------

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FromWalletID string          `json:"from_wallet_id"`
		ToAddress    string          `json:"to_address"`
		Token        string          `json:"token"`
		Amount       decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := h.app.Wallets.Transfer(r.Context(), walletsvc.TransferInput{
		FromWalletID: payload.FromWalletID,
		ToAddress:    payload.ToAddress,
		TokenSymbol:  payload.Token,
		Amount:       payload.Amount,
	})
	metrics.RecordLedgerOperation("transfer", err)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.RecordInsufficientBalance()
		}
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Transfer completed successfully", "transaction", record)
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	txs, err := h.app.Wallets.Transactions(r.Context(), ledger.Filter{
		WalletID: q.Get("wallet_id"),
		TokenID:  q.Get("token_id"),
		Method:   q.Get("method"),
		Status:   q.Get("status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Transactions retrieved successfully", "transactions", txs)
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	record, err := h.app.Wallets.TransactionByHash(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Transaction retrieved successfully", "transaction", record)
}

// --- conversion -------------------------------------------------------------

func (h *handler) conversionRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount"))
		return
	}
	quote, err := h.app.Conversion.Rate(r.Context(), q.Get("from"), q.Get("to"), amount)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Conversion rate calculated", "quote", quote)
}

func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		WalletID string          `json:"wallet_id"`
		From     string          `json:"from"`
		To       string          `json:"to"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Conversion.Convert(r.Context(), payload.WalletID, payload.From, payload.To, payload.Amount)
	metrics.RecordLedgerOperation("conversion", err)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.RecordInsufficientBalance()
		}
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Conversion completed successfully", "conversion", result)
}

// --- tokens -----------------------------------------------------------------

func (h *handler) createToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Symbol   string          `json:"symbol"`
		Name     string          `json:"name"`
		PriceUSD decimal.Decimal `json:"price_usd"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := h.app.Tokens.Create(r.Context(), payload.Symbol, payload.Name, payload.PriceUSD)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Token created successfully", "token", tok)
}

func (h *handler) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.app.Tokens.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Tokens retrieved successfully", "tokens", tokens)
}

func (h *handler) getToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.app.Tokens.GetBySymbol(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Token retrieved successfully", "token", tok)
}

func (h *handler) setTokenPrice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PriceUSD decimal.Decimal `json:"price_usd"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := h.app.Tokens.SetPrice(r.Context(), mux.Vars(r)["id"], payload.PriceUSD)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Token price updated", "token", tok)
}

// --- blocks and validators --------------------------------------------------

func (h *handler) produceBlock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProposerID string `json:"proposer_id"`
		TxCount    int    `json:"tx_count"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.app.Blocks.Produce(r.Context(), payload.ProposerID, payload.TxCount)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Block produced successfully", "block", b)
}

func (h *handler) listBlocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	blocks, err := h.app.Blocks.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Blocks retrieved successfully", "blocks", blocks)
}

func (h *handler) latestBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Blocks.Latest(r.Context())
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Block retrieved successfully", "block", b)
}

// getBlock accepts either a height or a 0x hash.
func (h *handler) getBlock(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	if height, err := strconv.ParseInt(ref, 10, 64); err == nil {
		b, err := h.app.Blocks.GetByHeight(r.Context(), height)
		if err != nil {
			writeError(w, h.serviceStatus(err), err)
			return
		}
		respond(w, http.StatusOK, "Block retrieved successfully", "block", b)
		return
	}
	b, err := h.app.Blocks.GetByHash(r.Context(), ref)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Block retrieved successfully", "block", b)
}

func (h *handler) registerValidator(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.app.Blocks.RegisterValidator(r.Context(), payload.Name, payload.Address)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Validator registered successfully", "validator", v)
}

func (h *handler) listValidators(w http.ResponseWriter, r *http.Request) {
	validators, err := h.app.Blocks.ListValidators(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Validators retrieved successfully", "validators", validators)
}

func (h *handler) setValidatorStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.app.Blocks.SetValidatorStatus(r.Context(), mux.Vars(r)["id"], payload.Status)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Validator status updated", "validator", v)
}

// --- p2p --------------------------------------------------------------------

func (h *handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string          `json:"user_id"`
		Side   string          `json:"side"`
		Token  string          `json:"token"`
		Amount decimal.Decimal `json:"amount"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.app.P2P.CreateOrder(r.Context(), payload.UserID, payload.Side, payload.Token, payload.Amount, payload.Price)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Order created successfully", "order", o)
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.app.P2P.ListOrders(r.Context(), p2p.OrderFilter{
		Status:  q.Get("status"),
		Side:    q.Get("side"),
		TokenID: q.Get("token_id"),
		UserID:  q.Get("user_id"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Orders retrieved successfully", "orders", orders)
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.app.P2P.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Order retrieved successfully", "order", o)
}

// actorPayload identifies who performs a p2p action. The API carries the
// actor in the body; there is no authentication layer.
type actorPayload struct {
	UserID string `json:"user_id"`
}

func (h *handler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	var payload actorPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.P2P.Accept(r.Context(), mux.Vars(r)["id"], payload.UserID)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusCreated, "Order accepted successfully", "p2p_transaction", tx)
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var payload actorPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.app.P2P.CancelOrder(r.Context(), mux.Vars(r)["id"], payload.UserID)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Order cancelled successfully", "order", o)
}

func (h *handler) getP2PTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.app.P2P.GetTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Transaction retrieved successfully", "p2p_transaction", tx)
}

func (h *handler) listP2PTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.app.P2P.ListTransactionsByUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Transactions retrieved successfully", "p2p_transactions", txs)
}

func (h *handler) markPaid(w http.ResponseWriter, r *http.Request) {
	var payload actorPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.P2P.MarkPaid(r.Context(), mux.Vars(r)["id"], payload.UserID)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Transaction marked as paid", "p2p_transaction", tx)
}

func (h *handler) completeEscrow(w http.ResponseWriter, r *http.Request) {
	var payload actorPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.P2P.Complete(r.Context(), mux.Vars(r)["id"], payload.UserID)
	metrics.RecordLedgerOperation("p2p_settlement", err)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.RecordInsufficientBalance()
		}
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Escrow completed successfully", "p2p_transaction", tx)
}

func (h *handler) cancelEscrow(w http.ResponseWriter, r *http.Request) {
	var payload actorPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.P2P.Cancel(r.Context(), mux.Vars(r)["id"], payload.UserID)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Transaction cancelled successfully", "p2p_transaction", tx)
}

func (h *handler) disputeEscrow(w http.ResponseWriter, r *http.Request) {
	var payload actorPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.P2P.Dispute(r.Context(), mux.Vars(r)["id"], payload.UserID)
	if err != nil {
		writeError(w, h.serviceStatus(err), err)
		return
	}
	respond(w, http.StatusOK, "Transaction disputed", "p2p_transaction", tx)
}

// --- market, search, admin --------------------------------------------------

func (h *handler) marketOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Market.Overview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	respond(w, http.StatusOK, "Market overview retrieved successfully", "market", stats)
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Search.Query(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if results == nil {
		results = []searchsvc.Result{}
	}
	respond(w, http.StatusOK, "Search completed", "results", results)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	respond(w, http.StatusOK, "Audit entries retrieved successfully", "entries", h.audit.listLimit(limit))
}

// --- helpers ----------------------------------------------------------------

// serviceStatus maps service errors to HTTP status codes. Errors outside the
// sentinel vocabulary are treated as server faults.
func (h *handler) serviceStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, p2p.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, usersvc.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrInvalidArgument),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, p2p.ErrInvalidTransition),
		errors.Is(err, conversionsvc.ErrUnpriced),
		errors.Is(err, usersvc.ErrCodeExpired):
		return http.StatusBadRequest
	default:
		h.log.WithError(err).Error("unexpected service error")
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func respond(w http.ResponseWriter, status int, message, key string, data interface{}) {
	envelope := map[string]interface{}{"message": message}
	if key != "" {
		envelope[key] = data
	}
	writeJSON(w, status, envelope)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}
