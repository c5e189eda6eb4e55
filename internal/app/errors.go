/**
 * @description
 * This file defines the error taxonomy of the withdrawal state machine. Every
 * failure an operator can hit maps to exactly one of these values (or to a
 * gateway *APIError passed through from pkg/paypalclient), so the API layer
 * can translate them into distinct, actionable responses.
 *
 * PartialLedgerFailure is the severe class: the external payout already went
 * out but a subsequent local write failed, leaving the ledger inconsistent.
 * It always carries the furthest step reached and the payout identifiers so
 * the operator can reconcile manually; nothing attempts to roll back a
 * payout that has left the building.
 */

package app

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest: malformed input; nothing was written.
	ErrInvalidRequest = errors.New("withdrawal request is malformed")

	// ErrMissingDestination: no payout identity on the request or the host profile.
	ErrMissingDestination = errors.New("no payout destination could be resolved")

	// ErrInsufficientHostBalance: amount exceeds the host's spendable earnings.
	ErrInsufficientHostBalance = errors.New("host balance is insufficient for this withdrawal")

	// ErrInsufficientWalletBalance: amount exceeds the admin wallet balance.
	ErrInsufficientWalletBalance = errors.New("admin wallet balance is insufficient")

	// ErrAlreadyResolved: the request already reached a terminal state.
	ErrAlreadyResolved = errors.New("withdrawal request is already resolved")

	// ErrApprovalInProgress: another approval holds this host's serialization lock.
	ErrApprovalInProgress = errors.New("another approval for this host is in progress")
)

// Saga step names reported inside PartialLedgerFailure.
const (
	StepMarkApproved      = "mark_request_approved"
	StepDebitHost         = "debit_host_earnings"
	StepCreditPayPal      = "credit_paypal_mirror"
	StepClearRecords      = "clear_prior_withdrawal_records"
	StepAppendRecords     = "append_withdrawal_records"
	StepRecordProgress    = "record_saga_progress"
	StepCreditAdminPayPal = "credit_admin_paypal_mirror"
	StepAppendAdminRecord = "append_admin_withdrawal_record"
)

// PartialLedgerFailure reports a ledger write that failed after the external
// payout succeeded. RequestID is uuid.Nil for the admin self-withdrawal flow.
type PartialLedgerFailure struct {
	RequestID uuid.UUID
	Step      string
	BatchID   string
	ItemID    string
	Err       error
}

func (e *PartialLedgerFailure) Error() string {
	return fmt.Sprintf("payout succeeded (batch=%s item=%s) but ledger update failed at step %s: %v",
		e.BatchID, e.ItemID, e.Step, e.Err)
}

func (e *PartialLedgerFailure) Unwrap() error {
	return e.Err
}
