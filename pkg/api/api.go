package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/lumen/pkg/journal"
	"example.com/lumen/pkg/tokens"
	"example.com/lumen/pkg/wallet"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// CallerHeader carries the holder a request acts as. The harness in
	// front of the API is trusted to have authenticated it.
	CallerHeader    = "X-Caller"
	APIKeyHeader    = "X-API-KEY"
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes      = 1 << 20
	defaultEventLimit = 50
)

var errMissingCaller = errors.New("missing caller")

// History is the read side of the event journal.
type History interface {
	EventsFor(holder tokens.Holder, limit int) ([]journal.Entry, error)
}

// Options configures an API.
type Options struct {
	APIKey        string
	RatePerSecond float64
	Burst         int
	Logger        *zap.Logger
	History       History
}

// API exposes a ledger over HTTP.
type API struct {
	Ledger      *tokens.Ledger
	History     History
	RateLimiter *rate.Limiter

	apiKey string
	logger *zap.Logger
}

// NewAPI initializes a new API instance
func NewAPI(ledger *tokens.Ledger, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(opts.RatePerSecond)
	if opts.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &API{
		Ledger:      ledger,
		History:     opts.History,
		RateLimiter: rate.NewLimiter(limit, burst),
		apiKey:      opts.APIKey,
		logger:      logger,
	}
}

// Response structure for API responses
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Amount is a base-unit value together with its display form.
type Amount struct {
	Value     string `json:"value"`
	Formatted string `json:"formatted"`
}

// EventView is the JSON form of a journal entry.
type EventView struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Amount   Amount    `json:"amount"`
	Recorded time.Time `json:"recorded"`
}

func (api *API) amount(v *uint256.Int) Amount {
	return Amount{Value: v.Dec(), Formatted: api.Ledger.Format(v)}
}

// Helper function to write JSON responses
func (api *API) writeJSONResponse(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := APIResponse{
		Status:  http.StatusText(status),
		Message: message,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.logger.Warn("failed to write response", zap.Error(err))
	}
}

// writeLedgerError maps ledger errors onto HTTP statuses.
func (api *API) writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tokens.ErrInvalidRecipient),
		errors.Is(err, tokens.ErrInsufficientBalance),
		errors.Is(err, tokens.ErrInsufficientAllowance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, tokens.ErrArithmeticOverflow):
		status = http.StatusConflict
	}
	api.writeJSONResponse(w, status, err.Error(), nil)
}

// --- Middleware Features ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logger middleware logs each request with a request ID
func (api *API) Logger(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)

		api.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Auth middleware checks for a valid API key in headers. An API without a
// configured key accepts every request.
func (api *API) Auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.apiKey != "" && r.Header.Get(APIKeyHeader) != api.apiKey {
			api.writeJSONResponse(w, http.StatusUnauthorized, "Unauthorized: Missing or invalid API key", nil)
			return
		}
		next(w, r)
	}
}

// CORS middleware handles cross-origin resource sharing
func (api *API) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+APIKeyHeader+", "+CallerHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// RateLimit middleware limits the rate of requests
func (api *API) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !api.RateLimiter.Allow() {
			api.writeJSONResponse(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next(w, r)
	}
}

func (api *API) chain(h http.HandlerFunc) http.HandlerFunc {
	return api.Logger(api.CORS(api.Auth(api.RateLimit(h))))
}

// Register mounts every endpoint on mux.
func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/token", api.chain(api.method(http.MethodGet, api.GetToken)))
	mux.HandleFunc("/balance", api.chain(api.method(http.MethodGet, api.GetBalance)))
	mux.HandleFunc("/allowance", api.chain(api.method(http.MethodGet, api.GetAllowance)))
	mux.HandleFunc("/events", api.chain(api.method(http.MethodGet, api.GetEvents)))
	mux.HandleFunc("/transfer", api.chain(api.method(http.MethodPost, api.Transfer)))
	mux.HandleFunc("/approve", api.chain(api.method(http.MethodPost, api.Approve)))
	mux.HandleFunc("/transfer-from", api.chain(api.method(http.MethodPost, api.TransferFrom)))
	mux.HandleFunc("/increase-approval", api.chain(api.method(http.MethodPost, api.IncreaseApproval)))
	mux.HandleFunc("/decrease-approval", api.chain(api.method(http.MethodPost, api.DecreaseApproval)))
}

// Handler returns a mux serving the API.
func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	api.Register(mux)
	return mux
}

func (api *API) method(want string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != want {
			api.writeJSONResponse(w, http.StatusMethodNotAllowed, "Invalid request method", nil)
			return
		}
		next(w, r)
	}
}

// --- Request parsing ---

func callerOf(r *http.Request) (tokens.Holder, error) {
	raw := r.Header.Get(CallerHeader)
	if strings.TrimSpace(raw) == "" {
		return tokens.Holder{}, errMissingCaller
	}
	return wallet.ParseHolder(raw)
}

func queryHolder(r *http.Request, name string) (tokens.Holder, error) {
	raw := r.URL.Query().Get(name)
	if strings.TrimSpace(raw) == "" {
		return tokens.Holder{}, fmt.Errorf("missing %s", name)
	}
	return wallet.ParseHolder(raw)
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %v", field, err)
	}
	return v, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid input data: %v", err)
	}
	return nil
}

// --- API Handlers ---

// GetToken returns the token metadata and total supply.
func (api *API) GetToken(w http.ResponseWriter, r *http.Request) {
	meta := api.Ledger.Metadata()
	api.writeJSONResponse(w, http.StatusOK, "Success", map[string]interface{}{
		"name":        meta.Name,
		"symbol":      meta.Symbol,
		"decimals":    meta.Decimals,
		"totalSupply": api.amount(api.Ledger.TotalSupply()),
	})
}

// GetBalance retrieves the balance of a holder address
func (api *API) GetBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := queryHolder(r, "address")
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	api.writeJSONResponse(w, http.StatusOK, "Success", map[string]interface{}{
		"address": holder.Hex(),
		"balance": api.amount(api.Ledger.BalanceOf(holder)),
	})
}

// GetAllowance retrieves what spender may still move out of owner's balance.
func (api *API) GetAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := queryHolder(r, "owner")
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	spender, err := queryHolder(r, "spender")
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	api.writeJSONResponse(w, http.StatusOK, "Success", map[string]interface{}{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": api.amount(api.Ledger.Allowance(owner, spender)),
	})
}

// GetEvents returns the journal history of a holder, newest first.
func (api *API) GetEvents(w http.ResponseWriter, r *http.Request) {
	if api.History == nil {
		api.writeJSONResponse(w, http.StatusNotFound, "Event journal disabled", nil)
		return
	}
	holder, err := queryHolder(r, "address")
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			api.writeJSONResponse(w, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
	}

	entries, err := api.History.EventsFor(holder, limit)
	if err != nil {
		api.logger.Error("journal read failed", zap.Error(err))
		api.writeJSONResponse(w, http.StatusInternalServerError, "Failed to read events", nil)
		return
	}

	views := make([]EventView, 0, len(entries))
	for _, e := range entries {
		views = append(views, EventView{
			Seq:      e.Seq,
			Kind:     string(e.Kind),
			From:     e.From.Hex(),
			To:       e.To.Hex(),
			Amount:   api.amount(e.Amount),
			Recorded: e.Recorded,
		})
	}
	api.writeJSONResponse(w, http.StatusOK, "Success", views)
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// Transfer moves tokens from the caller to another holder.
func (api *API) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	to, err := wallet.ParseHolder(req.To)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := api.Ledger.Transfer(caller, to, amount); err != nil {
		api.writeLedgerError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusOK, "Transfer completed", map[string]interface{}{
		"from":    caller.Hex(),
		"to":      to.Hex(),
		"amount":  api.amount(amount),
		"balance": api.amount(api.Ledger.BalanceOf(caller)),
	})
}

type transferFromRequest struct {
	Owner  string `json:"owner"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// TransferFrom moves tokens out of owner's balance using the caller's allowance.
func (api *API) TransferFrom(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req transferFromRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	owner, err := wallet.ParseHolder(req.Owner)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	to, err := wallet.ParseHolder(req.To)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := api.Ledger.TransferFrom(caller, owner, to, amount); err != nil {
		api.writeLedgerError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusOK, "Transfer completed", map[string]interface{}{
		"spender":   caller.Hex(),
		"owner":     owner.Hex(),
		"to":        to.Hex(),
		"amount":    api.amount(amount),
		"allowance": api.amount(api.Ledger.Allowance(owner, caller)),
	})
}

type approvalRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount,omitempty"`
	Delta   string `json:"delta,omitempty"`
}

type approvalFunc func(caller, spender tokens.Holder, v *uint256.Int) error

// approval handles the three allowance-changing endpoints; field names
// the request member carrying the value.
func (api *API) approval(w http.ResponseWriter, r *http.Request, field string, apply approvalFunc) {
	caller, err := callerOf(r)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req approvalRequest
	if err := decodeBody(w, r, &req); err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	spender, err := wallet.ParseHolder(req.Spender)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	raw := req.Amount
	if field == "delta" {
		raw = req.Delta
	}
	v, err := parseAmount(field, raw)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := apply(caller, spender, v); err != nil {
		api.writeLedgerError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusOK, "Allowance updated", map[string]interface{}{
		"owner":     caller.Hex(),
		"spender":   spender.Hex(),
		"allowance": api.amount(api.Ledger.Allowance(caller, spender)),
	})
}

// Approve sets the caller's allowance for a spender.
func (api *API) Approve(w http.ResponseWriter, r *http.Request) {
	api.approval(w, r, "amount", api.Ledger.Approve)
}

// IncreaseApproval raises the caller's allowance for a spender.
func (api *API) IncreaseApproval(w http.ResponseWriter, r *http.Request) {
	api.approval(w, r, "delta", api.Ledger.IncreaseApproval)
}

// DecreaseApproval lowers the caller's allowance for a spender, never below zero.
func (api *API) DecreaseApproval(w http.ResponseWriter, r *http.Request) {
	api.approval(w, r, "delta", api.Ledger.DecreaseApproval)
}
