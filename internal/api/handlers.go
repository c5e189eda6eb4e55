/**
 * @description
 * This file contains the HTTP handlers for the admin-service's API endpoints.
 * Handlers parse incoming requests, call the application service, and translate
 * the service's error taxonomy into HTTP responses. They are the bridge between
 * the web layer and the withdrawal state machine.
 *
 * The partial-failure translation matters most: when a payout went out but a
 * ledger write failed, the 500 body carries the payout identifiers and the
 * failed step so the operator can reconcile instead of blindly retrying.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain, internal/store: Service logic, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/staynest/admin-service/internal/app"
	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
	"github.com/staynest/admin-service/pkg/paypalclient"
)

// AdminHandlers holds the application service that handlers will use.
type AdminHandlers struct {
	service *app.Service
}

// NewAdminHandlers creates a new instance of AdminHandlers.
func NewAdminHandlers(service *app.Service) *AdminHandlers {
	return &AdminHandlers{service: service}
}

type approveWithdrawalBody struct {
	Simulate *bool `json:"simulate,omitempty"`
}

type rejectWithdrawalBody struct {
	Reason string `json:"reason"`
}

type walletWithdrawBody struct {
	Amount   int64 `json:"amount"`
	Simulate *bool `json:"simulate,omitempty"`
}

type partialFailureResponse struct {
	Error         string `json:"error"`
	Step          string `json:"step"`
	RequestID     string `json:"request_id,omitempty"`
	PayoutBatchID string `json:"payout_batch_id,omitempty"`
	PayoutItemID  string `json:"payout_item_id,omitempty"`
}

// GetWalletHandler returns the admin wallet's derived summary, recomputed on
// read so operators always see current figures.
func (h *AdminHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RefreshWalletSummary(r.Context())
	if err != nil {
		h.writeServiceError(w, "get_wallet", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// WalletWithdrawHandler handles the admin's own withdrawal-to-self flow.
func (h *AdminHandlers) WalletWithdrawHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetOperatorID(r.Context())
	if !ok {
		http.Error(w, "Could not get operator ID from context", http.StatusInternalServerError)
		return
	}

	var body walletWithdrawBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	simulate := h.service.SimulateDefault()
	if body.Simulate != nil {
		simulate = *body.Simulate
	}

	rec, err := h.service.WithdrawFromWallet(r.Context(), domain.WalletWithdrawal{
		Amount:      body.Amount,
		Simulate:    simulate,
		RequestedBy: operatorID,
	})
	if err != nil {
		h.writeServiceError(w, "wallet_withdraw", err)
		return
	}

	log.Printf("level=info component=api endpoint=wallet_withdraw outcome=ok operator=%s amount=%d simulated=%v", operatorID, body.Amount, simulate)
	h.writeJSON(w, http.StatusOK, rec)
}

// ListWithdrawalsHandler returns withdrawal requests, filterable by status and
// host.
func (h *AdminHandlers) ListWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.WithdrawalListOptions{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if raw := r.URL.Query().Get("host_id"); raw != "" {
		hostID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid host_id")
			return
		}
		opts.HostID = &hostID
	}

	requests, err := h.service.ListWithdrawals(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_withdrawals", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": requests})
}

// GetWithdrawalHandler returns a single withdrawal request.
func (h *AdminHandlers) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetWithdrawal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ApproveWithdrawalHandler drives a pending request through the approval flow.
func (h *AdminHandlers) ApproveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetOperatorID(r.Context())
	if !ok {
		http.Error(w, "Could not get operator ID from context", http.StatusInternalServerError)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid withdrawal id")
		return
	}

	// Body is optional; an empty body means the configured simulate default.
	var body approveWithdrawalBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	updated, err := h.service.ApproveWithdrawal(r.Context(), id, app.ApproveOptions{
		ApprovedBy: operatorID,
		Simulate:   body.Simulate,
	})
	if err != nil {
		h.writeServiceError(w, "approve_withdrawal", err)
		return
	}

	log.Printf("level=info component=api endpoint=approve_withdrawal outcome=ok request_id=%s operator=%s", updated.ID, operatorID)
	h.writeJSON(w, http.StatusOK, updated)
}

// RejectWithdrawalHandler drives a pending request to rejected.
func (h *AdminHandlers) RejectWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := GetOperatorID(r.Context())
	if !ok {
		http.Error(w, "Could not get operator ID from context", http.StatusInternalServerError)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid withdrawal id")
		return
	}

	var body rejectWithdrawalBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	updated, err := h.service.RejectWithdrawal(r.Context(), id, app.RejectOptions{
		RejectedBy: operatorID,
		Reason:     body.Reason,
	})
	if err != nil {
		h.writeServiceError(w, "reject_withdrawal", err)
		return
	}

	log.Printf("level=info component=api endpoint=reject_withdrawal outcome=ok request_id=%s operator=%s", updated.ID, operatorID)
	h.writeJSON(w, http.StatusOK, updated)
}

// ListTransactionsHandler returns ledger records, filterable by ledger, host
// and type.
func (h *AdminHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.RecordListOptions{
		Ledger: r.URL.Query().Get("ledger"),
		Type:   r.URL.Query().Get("type"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if opts.Ledger == "" {
		opts.Ledger = domain.LedgerAdmin
	}
	if raw := r.URL.Query().Get("host_id"); raw != "" {
		hostID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid host_id")
			return
		}
		opts.HostID = &hostID
	}

	records, err := h.service.ListTransactionRecords(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}

// CreateWithdrawalHandler is the internal intake endpoint used by the
// host-facing service to lodge new requests.
func (h *AdminHandlers) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var input domain.CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.service.CreateWithdrawal(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, "create_withdrawal", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

// ListUnsettledHandler returns approved requests with incomplete ledgers.
func (h *AdminHandlers) ListUnsettledHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListUnsettledWithdrawals(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.writeServiceError(w, "list_unsettled", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": requests})
}

// SettleLedgerHandler resumes an interrupted ledger saga.
func (h *AdminHandlers) SettleLedgerHandler(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.SettleWithdrawalLedger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "settle_ledger", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (h *AdminHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var partial *app.PartialLedgerFailure
	if errors.As(err, &partial) {
		resp := partialFailureResponse{
			Error:         "Payout succeeded but the ledger update failed. Do not retry; reconcile instead.",
			Step:          partial.Step,
			PayoutBatchID: partial.BatchID,
			PayoutItemID:  partial.ItemID,
		}
		if partial.RequestID != uuid.Nil {
			resp.RequestID = partial.RequestID.String()
		}
		log.Printf("level=error component=api endpoint=%s outcome=partial_failure step=%s err=%v", endpoint, partial.Step, err)
		h.writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	var apiErr *paypalclient.APIError
	if errors.As(err, &apiErr) {
		log.Printf("level=warn component=api endpoint=%s outcome=gateway_error kind=%v status=%d err=%v", endpoint, apiErr.Kind, apiErr.StatusCode, err)
		h.writeError(w, http.StatusBadGateway, "Payout gateway rejected the request: "+apiErr.Message)
		return
	}

	switch {
	case errors.Is(err, app.ErrAlreadyResolved):
		h.writeError(w, http.StatusConflict, "Withdrawal request is already resolved")
	case errors.Is(err, app.ErrApprovalInProgress):
		h.writeError(w, http.StatusLocked, "Another approval for this host is in progress")
	case errors.Is(err, app.ErrInvalidRequest):
		h.writeError(w, http.StatusUnprocessableEntity, "Request is malformed or not actionable")
	case errors.Is(err, app.ErrMissingDestination):
		h.writeError(w, http.StatusUnprocessableEntity, "No payout destination could be resolved")
	case errors.Is(err, app.ErrInsufficientHostBalance):
		h.writeError(w, http.StatusPaymentRequired, "Host balance is insufficient for this withdrawal")
	case errors.Is(err, app.ErrInsufficientWalletBalance):
		h.writeError(w, http.StatusPaymentRequired, "Admin wallet balance is insufficient")
	case errors.Is(err, store.ErrWithdrawalNotFound),
		errors.Is(err, store.ErrHostNotFound),
		errors.Is(err, store.ErrWalletNotFound):
		h.writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=error err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// writeJSON is a helper for writing JSON responses.
func (h *AdminHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *AdminHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
