/**
 * @description
 * This file defines the `Repository` interface, the contract for all ledger
 * store access the admin-service needs. The interface keeps the withdrawal
 * state machine and the wallet reducer decoupled from the PostgreSQL
 * implementation and lets tests substitute lightweight stubs.
 *
 * The contract is deliberately narrow: per-aggregate reads and writes, one
 * single-row transactional read-modify-write (the admin wallet debit), and
 * equality/range filtering. Nothing here assumes a transaction spanning more
 * than one aggregate; the withdrawal flow's cross-aggregate consistency is
 * handled by the saga marker on the request, not by the store.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For aggregate keys.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/staynest/admin-service/internal/domain"
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Admin wallet (singleton). DebitAdminWallet is the one operation that
	// must be a single-document atomic read-modify-write: it re-reads the
	// balance under a row lock and fails with ErrInsufficientFunds instead of
	// letting the balance go negative.
	GetAdminWallet(ctx context.Context) (*domain.AdminWallet, error)
	DebitAdminWallet(ctx context.Context, amount int64) error
	CreditAdminWallet(ctx context.Context, amount int64) error
	ApplyAdminEarning(ctx context.Context, amount int64) error
	CreditAdminPayPalBalance(ctx context.Context, amount int64) error

	// Host metrics. DecrementHostEarnings is intentionally an unconditional
	// update: the sufficiency check happens earlier in the approval flow, on
	// the other side of the external payout call (see internal/app).
	GetHostMetrics(ctx context.Context, hostID uuid.UUID) (*domain.HostMetrics, error)
	DecrementHostEarnings(ctx context.Context, hostID uuid.UUID, amount int64) error
	CreditHostPayPalBalance(ctx context.Context, hostID uuid.UUID, amount int64) error

	// Withdrawal requests. The terminal transitions are conditional updates
	// guarded on status='pending'; acting on an already-resolved request
	// returns ErrWithdrawalResolved without writing anything.
	CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error)
	ListWithdrawalRequests(ctx context.Context, opts domain.WithdrawalListOptions) ([]domain.WithdrawalRequest, error)
	MarkWithdrawalApproved(ctx context.Context, requestID uuid.UUID, params ApproveWithdrawalParams) (*domain.WithdrawalRequest, error)
	MarkWithdrawalRejected(ctx context.Context, requestID uuid.UUID, params RejectWithdrawalParams) (*domain.WithdrawalRequest, error)
	SetWithdrawalLedgerState(ctx context.Context, requestID uuid.UUID, state string) error
	ListUnsettledWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error)

	// Transaction records (append-only, two independent ledgers). An insert
	// with an id that is already present reports ErrRecordExists without
	// writing anything. The only delete is the defensive cleanup of withdrawal
	// records tied to a request id before re-appending them.
	CreateTransactionRecord(ctx context.Context, rec *domain.TransactionRecord) error
	DeleteWithdrawalRecords(ctx context.Context, requestID uuid.UUID) error
	ListTransactionRecords(ctx context.Context, opts domain.RecordListOptions) ([]domain.TransactionRecord, error)
	CountWithdrawalRecords(ctx context.Context, requestID uuid.UUID) (int, error)
	SumNetCommission(ctx context.Context) (int64, error)
}

// ApproveWithdrawalParams carries the audit and payout-identifier fields
// persisted together with the pending→approved transition.
type ApproveWithdrawalParams struct {
	ApprovedBy    string
	ApprovedAt    time.Time
	PayoutBatchID string
	PayoutItemID  string
	PayoutStatus  string
	Simulated     bool
}

// RejectWithdrawalParams carries the audit fields persisted together with the
// pending→rejected transition.
type RejectWithdrawalParams struct {
	RejectedBy string
	RejectedAt time.Time
	Reason     string
}
