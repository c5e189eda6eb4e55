/**
 * @description
 * This file defines the core domain models for the admin-service: the platform
 * wallet, per-host earnings metrics, and the two append-only transaction
 * ledgers (admin-side and host-side).
 *
 * @notes
 * - Amounts are stored as `int64` centavos (PHP minor units), which avoids
 *   floating-point inaccuracies with financial data and makes the 0.01-peso
 *   sufficiency boundary exact.
 * - Transaction records carry denormalized names/emails copied at write time.
 *   That is an intentional audit-snapshot design: records stay readable for
 *   reporting even after the underlying profile changes, and they are never
 *   edited after the fact.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction record type tags. The column is free-form; these are the tags
// this service writes or filters on.
const (
	RecordTypeCommission      = "commission"
	RecordTypeCancellationFee = "cancellation-fee"
	RecordTypeWithdrawal      = "withdrawal"
	RecordTypeRefund          = "refund"
)

// Ledger names used to distinguish the two independent record collections.
const (
	LedgerAdmin = "admin"
	LedgerHost  = "host"
)

// AdminWallet is the singleton platform wallet. `Balance` is the spendable
// float, `TotalEarnings` is lifetime revenue, and `PayPalBalance` mirrors the
// external payout account.
type AdminWallet struct {
	Balance       int64     `json:"balance"`        // in centavos
	TotalEarnings int64     `json:"total_earnings"` // in centavos
	PayPalBalance int64     `json:"paypal_balance"` // in centavos
	PayPalEmail   string    `json:"paypal_email"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletSummary is the derived display aggregate maintained by the balance
// reducer. NetCommission is the sum of positive-amount admin records excluding
// withdrawals and refunds.
type WalletSummary struct {
	Balance       int64     `json:"balance"`
	TotalEarnings int64     `json:"total_earnings"`
	PayPalBalance int64     `json:"paypal_balance"`
	NetCommission int64     `json:"net_commission"`
	RefreshedAt   time.Time `json:"refreshed_at"`
}

// HostMetrics holds a host's spendable earnings balance plus the denormalized
// profile fields this service snapshots into transaction records.
type HostMetrics struct {
	HostID        uuid.UUID `json:"host_id"`
	DisplayName   string    `json:"display_name"`
	Email         string    `json:"email"`
	PayPalEmail   string    `json:"paypal_email"`
	TotalEarnings int64     `json:"total_earnings"` // in centavos, never negative
	PayPalBalance int64     `json:"paypal_balance"` // mirror of the host's payout account
	UpdatedAt     time.Time `json:"updated_at"`
}

// TransactionRecord is one immutable entry in either the admin or host ledger.
// A negative amount denotes money leaving the subject's ledger.
type TransactionRecord struct {
	ID        uuid.UUID  `json:"id"`
	Ledger    string     `json:"ledger"` // "admin" or "host"
	Type      string     `json:"type"`
	Amount    int64      `json:"amount"` // signed, in centavos
	Status    string     `json:"status"`
	Date      time.Time  `json:"date"`
	Simulated bool       `json:"simulated"`

	// Audit snapshot, copied at write time so reports need no joins.
	SubjectID    *uuid.UUID `json:"subject_id,omitempty"` // host/guest id on host-side records
	SubjectName  string     `json:"subject_name,omitempty"`
	SubjectEmail string     `json:"subject_email,omitempty"`

	// Reference back to the withdrawal request (withdrawal-type records only).
	WithdrawalRequestID *uuid.UUID `json:"withdrawal_request_id,omitempty"`
	PayoutBatchID       *string    `json:"payout_batch_id,omitempty"`
	PayoutItemID        *string    `json:"payout_item_id,omitempty"`
}

// RecordListOptions controls filtering and pagination for ledger listings.
type RecordListOptions struct {
	Ledger string
	HostID *uuid.UUID
	Type   string
	Limit  int
	Offset int
}

// WalletWithdrawal is the DTO for the admin's own withdrawal-to-self flow.
type WalletWithdrawal struct {
	Amount      int64  `json:"amount"` // in centavos
	Simulate    bool   `json:"simulate"`
	RequestedBy string `json:"requested_by"`
}
