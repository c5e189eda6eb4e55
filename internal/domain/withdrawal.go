/**
 * @description
 * This file defines the withdrawal request aggregate and its lifecycle
 * vocabulary. A request is created in state `pending` by the host-facing flow
 * and transitions exactly once to `approved` or `rejected`; terminal states
 * are never revisited. `Status` is the sole state variable; the timestamp,
 * actor and payout-identifier fields are audit commentary.
 *
 * @notes
 * - `LedgerState` tracks how far the post-payout ledger writes progressed. The
 *   external payout cannot be rolled back, so when a later write fails the
 *   marker lets reconciliation tooling find the request and resume exactly
 *   where the flow stopped.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Withdrawal request lifecycle states.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

// Ledger saga progress markers, ordered. A request whose state is anything
// other than LedgerStateSettled after approval has a partially-applied ledger.
const (
	LedgerStateNone           = ""                // no payout sent yet
	LedgerStatePayoutRecorded = "payout_recorded" // approved + payout ids persisted
	LedgerStateHostDebited    = "host_debited"
	LedgerStatePayPalCredited = "paypal_credited"
	LedgerStateRecordsCleared = "records_cleared"
	LedgerStateSettled        = "settled"
)

// WithdrawalRequest is a host's request to move earnings out to their payout
// account.
type WithdrawalRequest struct {
	ID          uuid.UUID `json:"id"`
	HostID      uuid.UUID `json:"host_id"`
	Amount      int64     `json:"amount"` // in centavos
	PayPalEmail string    `json:"paypal_email"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`

	// Approval audit fields.
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	ApprovedBy    *string    `json:"approved_by,omitempty"`
	PayoutBatchID *string    `json:"payout_batch_id,omitempty"`
	PayoutItemID  *string    `json:"payout_item_id,omitempty"`
	PayoutStatus  *string    `json:"payout_status,omitempty"` // gateway enum, stored verbatim
	Simulated     bool       `json:"simulated"`
	LedgerState   string     `json:"ledger_state,omitempty"`

	// Rejection audit fields.
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
}

// Resolved reports whether the request has reached a terminal state.
func (w *WithdrawalRequest) Resolved() bool {
	return w.Status != WithdrawalPending
}

// CreateWithdrawalRequest is the intake DTO from the host-facing flow.
type CreateWithdrawalRequest struct {
	HostID      uuid.UUID `json:"host_id"`
	Amount      int64     `json:"amount"` // in centavos
	PayPalEmail string    `json:"paypal_email"`
}

// WithdrawalListOptions controls filtering and pagination for request listings.
type WithdrawalListOptions struct {
	Status string
	HostID *uuid.UUID
	Limit  int
	Offset int
}
