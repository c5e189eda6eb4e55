/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL needed for the admin wallet, host metrics,
 * withdrawal requests, and the two transaction-record ledgers.
 *
 * The admin-side and host-side records live in separate tables
 * (`admin_transactions`, `host_transactions`) on purpose: they are two
 * independent append-only collections, not one ledger with a discriminator.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staynest/admin-service/internal/domain"
)

var (
	ErrWalletNotFound     = errors.New("admin wallet not found")
	ErrHostNotFound       = errors.New("host not found")
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	ErrWithdrawalResolved = errors.New("withdrawal request already resolved")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrRecordExists       = errors.New("transaction record already exists")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetAdminWallet reads the singleton platform wallet row.
func (r *PostgresRepository) GetAdminWallet(ctx context.Context) (*domain.AdminWallet, error) {
	var w domain.AdminWallet
	query := `SELECT balance, total_earnings, paypal_balance, paypal_email, updated_at FROM admin_wallet WHERE id = 1`
	err := r.db.QueryRow(ctx, query).Scan(&w.Balance, &w.TotalEarnings, &w.PayPalBalance, &w.PayPalEmail, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

// DebitAdminWallet performs the atomic debit on the admin wallet. The balance
// is re-read under a row lock inside the same transaction so the sufficiency
// check and the decrement cannot be split by a concurrent writer.
func (r *PostgresRepository) DebitAdminWallet(ctx context.Context, amount int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM admin_wallet WHERE id = 1 FOR UPDATE").Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWalletNotFound
		}
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, "UPDATE admin_wallet SET balance = balance - $1, updated_at = now() WHERE id = 1", amount)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreditAdminWallet restores balance only. Used as the compensation path when
// a payout fails after the debit already landed.
func (r *PostgresRepository) CreditAdminWallet(ctx context.Context, amount int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE admin_wallet SET balance = balance + $1, updated_at = now() WHERE id = 1", amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// ApplyAdminEarning credits both the spendable balance and lifetime earnings.
// This is the routine posting path driven by the wallet balance reducer.
func (r *PostgresRepository) ApplyAdminEarning(ctx context.Context, amount int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE admin_wallet SET balance = balance + $1, total_earnings = total_earnings + $1, updated_at = now() WHERE id = 1", amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// CreditAdminPayPalBalance bumps the mirror of the external payout account.
func (r *PostgresRepository) CreditAdminPayPalBalance(ctx context.Context, amount int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE admin_wallet SET paypal_balance = paypal_balance + $1, updated_at = now() WHERE id = 1", amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// GetHostMetrics retrieves a host's earnings metrics and profile snapshot fields.
func (r *PostgresRepository) GetHostMetrics(ctx context.Context, hostID uuid.UUID) (*domain.HostMetrics, error) {
	var m domain.HostMetrics
	query := `
		SELECT host_id, display_name, email, paypal_email, total_earnings, paypal_balance, updated_at
		FROM host_metrics WHERE host_id = $1`
	err := r.db.QueryRow(ctx, query, hostID).Scan(
		&m.HostID, &m.DisplayName, &m.Email, &m.PayPalEmail, &m.TotalEarnings, &m.PayPalBalance, &m.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrHostNotFound
		}
		return nil, err
	}
	return &m, nil
}

// DecrementHostEarnings subtracts an approved withdrawal amount from the
// host's spendable earnings. Deliberately unconditional: the sufficiency check
// happens before the external payout call, and by the time this runs the
// payout has already been sent, so refusing the write would only add a second
// inconsistency on top of the first.
func (r *PostgresRepository) DecrementHostEarnings(ctx context.Context, hostID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE host_metrics SET total_earnings = total_earnings - $1, updated_at = now() WHERE host_id = $2", amount, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHostNotFound
	}
	return nil
}

// CreditHostPayPalBalance bumps the host's payout-account mirror.
func (r *PostgresRepository) CreditHostPayPalBalance(ctx context.Context, hostID uuid.UUID, amount int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE host_metrics SET paypal_balance = paypal_balance + $1, updated_at = now() WHERE host_id = $2", amount, hostID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrHostNotFound
	}
	return nil
}

const withdrawalColumns = `
	id, host_id, amount, paypal_email, status, requested_at,
	approved_at, approved_by, payout_batch_id, payout_item_id, payout_status, simulated, ledger_state,
	rejected_at, rejected_by, rejection_reason`

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	err := row.Scan(
		&req.ID, &req.HostID, &req.Amount, &req.PayPalEmail, &req.Status, &req.RequestedAt,
		&req.ApprovedAt, &req.ApprovedBy, &req.PayoutBatchID, &req.PayoutItemID, &req.PayoutStatus, &req.Simulated, &req.LedgerState,
		&req.RejectedAt, &req.RejectedBy, &req.RejectionReason,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateWithdrawalRequest inserts a new pending request from the host-facing intake.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (id, host_id, amount, paypal_email, status, requested_at, ledger_state)
		VALUES ($1, $2, $3, $4, $5, $6, '')`
	_, err := r.db.Exec(ctx, query, req.ID, req.HostID, req.Amount, req.PayPalEmail, req.Status, req.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal request: %w", err)
	}
	return nil
}

// GetWithdrawalRequest retrieves one request by id.
func (r *PostgresRepository) GetWithdrawalRequest(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	req, err := scanWithdrawal(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return req, nil
}

// ListWithdrawalRequests returns requests, newest first, with optional status
// and host filters.
func (r *PostgresRepository) ListWithdrawalRequests(ctx context.Context, opts domain.WithdrawalListOptions) ([]domain.WithdrawalRequest, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE 1=1`
	args := []interface{}{}
	argPos := 1
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, opts.Status)
		argPos++
	}
	if opts.HostID != nil {
		query += fmt.Sprintf(" AND host_id = $%d", argPos)
		args = append(args, *opts.HostID)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// MarkWithdrawalApproved performs the pending→approved transition together
// with the payout identifiers and the first saga marker. The update is
// conditional on status='pending'; a request that already reached a terminal
// state is reported as ErrWithdrawalResolved with zero writes.
func (r *PostgresRepository) MarkWithdrawalApproved(ctx context.Context, requestID uuid.UUID, params ApproveWithdrawalParams) (*domain.WithdrawalRequest, error) {
	query := `
		UPDATE withdrawal_requests
		SET status = 'approved', approved_at = $2, approved_by = $3,
		    payout_batch_id = $4, payout_item_id = $5, payout_status = $6,
		    simulated = $7, ledger_state = $8
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + withdrawalColumns
	req, err := scanWithdrawal(r.db.QueryRow(ctx, query,
		requestID, params.ApprovedAt, params.ApprovedBy,
		params.PayoutBatchID, params.PayoutItemID, params.PayoutStatus,
		params.Simulated, domain.LedgerStatePayoutRecorded,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyMissedTransition(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// MarkWithdrawalRejected performs the pending→rejected transition. Same
// conditional-update guard as approval.
func (r *PostgresRepository) MarkWithdrawalRejected(ctx context.Context, requestID uuid.UUID, params RejectWithdrawalParams) (*domain.WithdrawalRequest, error) {
	query := `
		UPDATE withdrawal_requests
		SET status = 'rejected', rejected_at = $2, rejected_by = $3, rejection_reason = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + withdrawalColumns
	req, err := scanWithdrawal(r.db.QueryRow(ctx, query, requestID, params.RejectedAt, params.RejectedBy, params.Reason))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyMissedTransition(ctx, requestID)
		}
		return nil, err
	}
	return req, nil
}

// classifyMissedTransition distinguishes a missing request from one that lost
// the race to a concurrent resolution.
func (r *PostgresRepository) classifyMissedTransition(ctx context.Context, requestID uuid.UUID) error {
	var status string
	err := r.db.QueryRow(ctx, "SELECT status FROM withdrawal_requests WHERE id = $1", requestID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWithdrawalNotFound
		}
		return err
	}
	if status != domain.WithdrawalPending {
		return ErrWithdrawalResolved
	}
	return ErrWithdrawalNotFound
}

// SetWithdrawalLedgerState advances the saga progress marker on an approved request.
func (r *PostgresRepository) SetWithdrawalLedgerState(ctx context.Context, requestID uuid.UUID, state string) error {
	tag, err := r.db.Exec(ctx, "UPDATE withdrawal_requests SET ledger_state = $1 WHERE id = $2", state, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// ListUnsettledWithdrawals finds approved requests whose ledger writes did not
// complete: the payout went out but some local write failed afterwards.
func (r *PostgresRepository) ListUnsettledWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE status = 'approved' AND ledger_state <> $1
		ORDER BY approved_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, domain.LedgerStateSettled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

func recordTable(ledger string) (string, error) {
	switch ledger {
	case domain.LedgerAdmin:
		return "admin_transactions", nil
	case domain.LedgerHost:
		return "host_transactions", nil
	default:
		return "", fmt.Errorf("unknown ledger %q", ledger)
	}
}

// CreateTransactionRecord appends one immutable record to the ledger named by
// rec.Ledger. A primary-key conflict is reported as ErrRecordExists so callers
// replaying a delivery can tell "already written" apart from a real failure.
func (r *PostgresRepository) CreateTransactionRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	table, err := recordTable(rec.Ledger)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, type, amount, status, date, simulated, subject_id, subject_name, subject_email, withdrawal_request_id, payout_batch_id, payout_item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, table)
	_, err = r.db.Exec(ctx, query,
		rec.ID, rec.Type, rec.Amount, rec.Status, rec.Date, rec.Simulated,
		rec.SubjectID, rec.SubjectName, rec.SubjectEmail,
		rec.WithdrawalRequestID, rec.PayoutBatchID, rec.PayoutItemID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRecordExists
		}
		return fmt.Errorf("failed to insert %s record: %w", rec.Ledger, err)
	}
	return nil
}

// DeleteWithdrawalRecords removes any withdrawal-type records tied to a
// request id from both ledgers. Defensive cleanup against duplicate approval
// runs; this is the sole path that deletes from the otherwise append-only
// collections.
func (r *PostgresRepository) DeleteWithdrawalRecords(ctx context.Context, requestID uuid.UUID) error {
	for _, table := range []string{"admin_transactions", "host_transactions"} {
		query := fmt.Sprintf("DELETE FROM %s WHERE withdrawal_request_id = $1 AND type = $2", table)
		if _, err := r.db.Exec(ctx, query, requestID, domain.RecordTypeWithdrawal); err != nil {
			return fmt.Errorf("failed to clear %s withdrawal records: %w", table, err)
		}
	}
	return nil
}

// ListTransactionRecords returns ledger records, newest first.
func (r *PostgresRepository) ListTransactionRecords(ctx context.Context, opts domain.RecordListOptions) ([]domain.TransactionRecord, error) {
	table, err := recordTable(opts.Ledger)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT id, type, amount, status, date, simulated, subject_id, subject_name, subject_email, withdrawal_request_id, payout_batch_id, payout_item_id
		FROM %s WHERE 1=1`, table)
	args := []interface{}{}
	argPos := 1
	if opts.HostID != nil {
		query += fmt.Sprintf(" AND subject_id = $%d", argPos)
		args = append(args, *opts.HostID)
		argPos++
	}
	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, opts.Type)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY date DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		rec := domain.TransactionRecord{Ledger: opts.Ledger}
		err := rows.Scan(
			&rec.ID, &rec.Type, &rec.Amount, &rec.Status, &rec.Date, &rec.Simulated,
			&rec.SubjectID, &rec.SubjectName, &rec.SubjectEmail,
			&rec.WithdrawalRequestID, &rec.PayoutBatchID, &rec.PayoutItemID,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountWithdrawalRecords reports how many withdrawal records exist for a
// request across both ledgers. Used by reconciliation to verify saga completion.
func (r *PostgresRepository) CountWithdrawalRecords(ctx context.Context, requestID uuid.UUID) (int, error) {
	var total int
	query := `
		SELECT (SELECT count(*) FROM admin_transactions WHERE withdrawal_request_id = $1 AND type = $2)
		     + (SELECT count(*) FROM host_transactions  WHERE withdrawal_request_id = $1 AND type = $2)`
	if err := r.db.QueryRow(ctx, query, requestID, domain.RecordTypeWithdrawal).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// SumNetCommission computes the derived display aggregate: positive admin
// records excluding withdrawals and refunds.
func (r *PostgresRepository) SumNetCommission(ctx context.Context) (int64, error) {
	var sum int64
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM admin_transactions
		WHERE amount > 0 AND type NOT IN ($1, $2)`
	if err := r.db.QueryRow(ctx, query, domain.RecordTypeWithdrawal, domain.RecordTypeRefund).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}
