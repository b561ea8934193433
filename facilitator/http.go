package facilitator

import (
	"encoding/json"
	"net/http"
	"strconv"

	x402 "github.com/txtx/moneymq-go"
)

// Handler serves the facilitator HTTP surface over a Facilitator.
type Handler struct {
	f *Facilitator
}

// NewHandler builds a facilitator Handler.
func NewHandler(f *Facilitator) *Handler {
	return &Handler{f: f}
}

// ServeSupported handles GET /supported.
func (h *Handler) ServeSupported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.f.Supported(r.Context()))
}

// ServeVerify handles POST /verify.
func (h *Handler) ServeVerify(w http.ResponseWriter, r *http.Request) {
	var req x402.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, x402.CodeClientProtocol, "invalid json body")
		return
	}

	resp, err := h.f.Verify(r.Context(), req)
	if err != nil {
		writePaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeSettle handles POST /settle.
func (h *Handler) ServeSettle(w http.ResponseWriter, r *http.Request) {
	var req x402.SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, x402.CodeClientProtocol, "invalid json body")
		return
	}

	resp, err := h.f.Settle(r.Context(), req)
	if err != nil {
		writePaymentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// transactionListResponse is the GET /admin/transactions body.
type transactionListResponse struct {
	Transactions []transactionSummary `json:"transactions"`
	HasMore      bool                 `json:"hasMore"`
}

type transactionSummary struct {
	ID          int64   `json:"id"`
	CreatedAt   int64   `json:"createdAt"`
	UpdatedAt   int64   `json:"updatedAt"`
	Product     *string `json:"product,omitempty"`
	Amount      string  `json:"amount"`
	Currency    *string `json:"currency,omitempty"`
	Status      *string `json:"status,omitempty"`
	Signature   *string `json:"signature,omitempty"`
	PaymentHash *string `json:"paymentHash,omitempty"`
}

// ServeAdminTransactions handles GET /admin/transactions.
func (h *Handler) ServeAdminTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	var startingAfter int64
	if v, err := strconv.ParseInt(q.Get("starting_after"), 10, 64); err == nil {
		startingAfter = v
	}

	page, err := h.f.ListTransactions(r.Context(), limit, startingAfter)
	if err != nil {
		writePaymentError(w, err)
		return
	}

	out := transactionListResponse{HasMore: page.HasMore}
	for _, tx := range page.Transactions {
		out.Transactions = append(out.Transactions, transactionSummary{
			ID: tx.ID, CreatedAt: tx.CreatedAt, UpdatedAt: tx.UpdatedAt,
			Product: tx.Product, Amount: tx.Amount, Currency: tx.Currency,
			Status: tx.Status, Signature: tx.Signature, PaymentHash: tx.PaymentHash,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ServeJWKS handles GET /.well-known/jwks.json.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.f.JWKS())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func writePaymentError(w http.ResponseWriter, err error) {
	if pe, ok := err.(*x402.PaymentError); ok {
		writeError(w, pe.HTTPStatus(), pe.Code, pe.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, x402.CodeInternal, err.Error())
}
