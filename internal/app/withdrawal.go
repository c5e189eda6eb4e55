/**
 * @description
 * This file implements the withdrawal state machine: the pending→approved and
 * pending→rejected transitions for host payout requests. Approval is the hard
 * path: it coordinates a balance check, an external payout call, and a
 * sequence of independent ledger writes, none of which share a transaction.
 *
 * Consistency contract:
 * - Before the gateway call, every failure leaves the request pending with
 *   zero writes.
 * - After the gateway call succeeds the operation is committed: each ledger
 *   write advances a persisted saga marker, and any failure is reported as a
 *   PartialLedgerFailure carrying the payout identifiers. Nothing is rolled
 *   back and nothing retries automatically; reconciliation (reconcile.go)
 *   resumes interrupted sagas on operator demand.
 * - The sufficiency check (step 3) and the host debit (step 5b) sit on
 *   opposite sides of the network call, so two concurrent approvals for the
 *   same host can overdraw that host. The optional per-host approval lock
 *   narrows this window; it does not close it on lock-less deployments.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
	"github.com/staynest/admin-service/pkg/paypalclient"
)

// ApproveOptions carries the operator inputs for an approval. Simulate is an
// explicit per-call value; nil falls back to the configured default, so tests
// and operators can pin it without shared mutable state.
type ApproveOptions struct {
	ApprovedBy string
	Simulate   *bool
}

// RejectOptions carries the operator inputs for a rejection.
type RejectOptions struct {
	RejectedBy string
	Reason     string
}

// ApproveWithdrawal drives a pending request through the approval flow.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID uuid.UUID, opts ApproveOptions) (*domain.WithdrawalRequest, error) {
	req, err := s.repo.GetWithdrawalRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	// Step 1: lifecycle and shape validation. No writes on any failure here.
	if req.Resolved() {
		log.Printf("level=info component=service flow=withdrawal_approve msg=\"request already resolved\" request_id=%s status=%s", req.ID, req.Status)
		return nil, ErrAlreadyResolved
	}
	if req.HostID == uuid.Nil || req.Amount <= 0 {
		return nil, ErrInvalidRequest
	}

	// Per-host serialization, when configured. Acquired before the balance
	// read so serialized approvals observe each other's debits. A lock
	// acquisition error degrades to proceeding unserialized; the lock is
	// mitigation, not a correctness dependency.
	if s.lock != nil {
		release, ok, lockErr := s.lock.Acquire(ctx, req.HostID.String())
		if lockErr != nil {
			log.Printf("level=warn component=service flow=withdrawal_approve msg=\"approval lock unavailable; proceeding unserialized\" host_id=%s err=%v", req.HostID, lockErr)
		} else if !ok {
			return nil, ErrApprovalInProgress
		} else {
			defer release()
		}
	}

	host, err := s.repo.GetHostMetrics(ctx, req.HostID)
	if err != nil {
		return nil, fmt.Errorf("failed to load host metrics: %w", err)
	}

	// Step 2: resolve the payout destination: the request's own address, or
	// the host profile's when the request carries none (or a malformed one).
	destination := strings.TrimSpace(req.PayPalEmail)
	if !strings.Contains(destination, "@") {
		destination = strings.TrimSpace(host.PayPalEmail)
	}
	if !strings.Contains(destination, "@") {
		return nil, ErrMissingDestination
	}

	// Step 3: sufficiency check against the balance read in this operation.
	// amount == balance must pass; one centavo over must not.
	if req.Amount > host.TotalEarnings {
		log.Printf("level=info component=service flow=withdrawal_approve msg=\"insufficient host balance\" request_id=%s host_id=%s amount=%d balance=%d", req.ID, req.HostID, req.Amount, host.TotalEarnings)
		return nil, ErrInsufficientHostBalance
	}

	// Step 4: the external payout, or a locally synthesized result in
	// simulate mode. A fresh idempotency token is generated for this attempt;
	// a later operator retry is a new attempt with a new token.
	simulate := s.cfg.SimulateDefault
	if opts.Simulate != nil {
		simulate = *opts.Simulate
	}

	var payout *paypalclient.PayoutResult
	if simulate {
		payout = &paypalclient.PayoutResult{
			BatchID: "sim-" + uuid.NewString(),
			ItemID:  "sim-item-" + uuid.NewString(),
			Status:  "PENDING",
		}
		log.Printf("level=info component=service flow=withdrawal_approve msg=\"simulate mode; payout synthesized\" request_id=%s batch=%s", req.ID, payout.BatchID)
	} else {
		attemptToken := uuid.NewString()
		payout, err = s.gateway.SubmitPayout(ctx, destination, req.Amount, s.cfg.Currency, attemptToken)
		if err != nil {
			log.Printf("level=error component=service flow=withdrawal_approve msg=\"gateway payout failed; request remains pending\" request_id=%s attempt_token=%s err=%v", req.ID, attemptToken, err)
			return nil, fmt.Errorf("payout submission failed: %w", err)
		}
		log.Printf("level=info component=service flow=withdrawal_approve msg=\"payout submitted\" request_id=%s batch=%s item=%s status=%s", req.ID, payout.BatchID, payout.ItemID, payout.Status)
	}

	// Step 5: the ledger saga. From here on the payout is already external;
	// every failure is partial and must surface the payout identifiers.
	updated, err := s.repo.MarkWithdrawalApproved(ctx, req.ID, store.ApproveWithdrawalParams{
		ApprovedBy:    opts.ApprovedBy,
		ApprovedAt:    time.Now().UTC(),
		PayoutBatchID: payout.BatchID,
		PayoutItemID:  payout.ItemID,
		PayoutStatus:  payout.Status,
		Simulated:     simulate,
	})
	if err != nil {
		// Includes losing the terminal-transition race to another operator:
		// the payout above was still sent, so this is partial, not benign.
		return nil, s.partialFailure(req.ID, StepMarkApproved, payout, err)
	}

	if err := s.settleApprovedWithdrawal(ctx, updated, host); err != nil {
		return nil, err
	}
	updated.LedgerState = domain.LedgerStateSettled

	s.publishWithdrawalEvents(ctx, updated, host)
	if _, refreshErr := s.RefreshWalletSummary(ctx); refreshErr != nil {
		log.Printf("level=warn component=service flow=withdrawal_approve msg=\"summary refresh failed\" err=%v", refreshErr)
	}

	return updated, nil
}

// settleApprovedWithdrawal runs (or resumes) the post-payout ledger writes for
// an approved request, advancing the persisted saga marker after each step.
// `host` may be nil; it is loaded on demand for the record snapshot.
func (s *Service) settleApprovedWithdrawal(ctx context.Context, req *domain.WithdrawalRequest, host *domain.HostMetrics) error {
	payout := payoutFromRequest(req)

	// 5b. Debit the host's spendable earnings.
	if req.LedgerState == domain.LedgerStatePayoutRecorded {
		if err := s.repo.DecrementHostEarnings(ctx, req.HostID, req.Amount); err != nil {
			return s.partialFailure(req.ID, StepDebitHost, payout, err)
		}
		if err := s.advanceLedgerState(ctx, req, domain.LedgerStateHostDebited, payout); err != nil {
			return err
		}
	}

	// 5c. Credit the host's payout-account mirror.
	if req.LedgerState == domain.LedgerStateHostDebited {
		if err := s.repo.CreditHostPayPalBalance(ctx, req.HostID, req.Amount); err != nil {
			return s.partialFailure(req.ID, StepCreditPayPal, payout, err)
		}
		if err := s.advanceLedgerState(ctx, req, domain.LedgerStatePayPalCredited, payout); err != nil {
			return err
		}
	}

	// 5d. Defensive cleanup of any withdrawal records a previous run left behind.
	if req.LedgerState == domain.LedgerStatePayPalCredited {
		if err := s.repo.DeleteWithdrawalRecords(ctx, req.ID); err != nil {
			return s.partialFailure(req.ID, StepClearRecords, payout, err)
		}
		if err := s.advanceLedgerState(ctx, req, domain.LedgerStateRecordsCleared, payout); err != nil {
			return err
		}
	}

	// 5e. Append the host-side and admin-side withdrawal records.
	if req.LedgerState == domain.LedgerStateRecordsCleared {
		if host == nil {
			loaded, err := s.repo.GetHostMetrics(ctx, req.HostID)
			if err != nil {
				return s.partialFailure(req.ID, StepAppendRecords, payout, fmt.Errorf("failed to load host snapshot: %w", err))
			}
			host = loaded
		}
		for _, rec := range buildWithdrawalRecords(req, host) {
			if err := s.repo.CreateTransactionRecord(ctx, rec); err != nil {
				return s.partialFailure(req.ID, StepAppendRecords, payout, err)
			}
		}
		if err := s.advanceLedgerState(ctx, req, domain.LedgerStateSettled, payout); err != nil {
			return err
		}
	}

	return nil
}

// advanceLedgerState persists the saga marker. The marker is what reconcile
// trusts, so a failed marker write is itself a partial failure; resuming
// without it could double-apply the preceding step.
func (s *Service) advanceLedgerState(ctx context.Context, req *domain.WithdrawalRequest, state string, payout *paypalclient.PayoutResult) error {
	if err := s.repo.SetWithdrawalLedgerState(ctx, req.ID, state); err != nil {
		return s.partialFailure(req.ID, StepRecordProgress+":"+state, payout, err)
	}
	req.LedgerState = state
	return nil
}

func (s *Service) partialFailure(requestID uuid.UUID, step string, payout *paypalclient.PayoutResult, err error) error {
	failure := &PartialLedgerFailure{
		RequestID: requestID,
		Step:      step,
		Err:       err,
	}
	if payout != nil {
		failure.BatchID = payout.BatchID
		failure.ItemID = payout.ItemID
	}
	log.Printf("level=error component=service flow=withdrawal_approve msg=\"partial ledger failure; manual reconciliation required\" request_id=%s step=%s payout_batch=%s payout_item=%s err=%v",
		requestID, step, failure.BatchID, failure.ItemID, err)
	return failure
}

// RejectWithdrawal drives a pending request to rejected. Single conditional
// write, no external call, no balance mutation.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID uuid.UUID, opts RejectOptions) (*domain.WithdrawalRequest, error) {
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		reason = s.cfg.DefaultRejectionReason
	}

	updated, err := s.repo.MarkWithdrawalRejected(ctx, requestID, store.RejectWithdrawalParams{
		RejectedBy: opts.RejectedBy,
		RejectedAt: time.Now().UTC(),
		Reason:     reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrWithdrawalResolved) {
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}

	log.Printf("level=info component=service flow=withdrawal_reject msg=\"request rejected\" request_id=%s rejected_by=%s", updated.ID, opts.RejectedBy)
	return updated, nil
}

// CreateWithdrawal is the intake path used by the host-facing flow. Requests
// always start pending; resolution happens only through approve/reject.
func (s *Service) CreateWithdrawal(ctx context.Context, input domain.CreateWithdrawalRequest) (*domain.WithdrawalRequest, error) {
	if input.HostID == uuid.Nil || input.Amount <= 0 {
		return nil, ErrInvalidRequest
	}
	if s.cfg.MinWithdrawalAmount > 0 && input.Amount < s.cfg.MinWithdrawalAmount {
		return nil, ErrInvalidRequest
	}

	req := &domain.WithdrawalRequest{
		ID:          uuid.New(),
		HostID:      input.HostID,
		Amount:      input.Amount,
		PayPalEmail: strings.TrimSpace(input.PayPalEmail),
		Status:      domain.WithdrawalPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateWithdrawalRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// buildWithdrawalRecords produces the host-side and admin-side withdrawal
// records for an approved request. Amounts are negative on both ledgers;
// money leaves the host's earnings, and the audit copy on the admin ledger
// mirrors the sign. Names and emails are snapshotted here, at write time.
func buildWithdrawalRecords(req *domain.WithdrawalRequest, host *domain.HostMetrics) []*domain.TransactionRecord {
	status := "completed"
	if req.PayoutStatus != nil && *req.PayoutStatus != "" {
		status = *req.PayoutStatus
	}
	now := time.Now().UTC()
	hostID := req.HostID

	base := domain.TransactionRecord{
		Type:                domain.RecordTypeWithdrawal,
		Amount:              -req.Amount,
		Status:              status,
		Date:                now,
		Simulated:           req.Simulated,
		SubjectID:           &hostID,
		SubjectName:         host.DisplayName,
		SubjectEmail:        host.Email,
		WithdrawalRequestID: &req.ID,
		PayoutBatchID:       req.PayoutBatchID,
		PayoutItemID:        req.PayoutItemID,
	}

	hostRec := base
	hostRec.ID = uuid.New()
	hostRec.Ledger = domain.LedgerHost

	adminRec := base
	adminRec.ID = uuid.New()
	adminRec.Ledger = domain.LedgerAdmin

	return []*domain.TransactionRecord{&hostRec, &adminRec}
}

// publishWithdrawalEvents emits applied ledger events for both records so the
// reducer and any reporting consumers observe the mutation.
func (s *Service) publishWithdrawalEvents(ctx context.Context, req *domain.WithdrawalRequest, host *domain.HostMetrics) {
	hostID := req.HostID
	now := time.Now().UTC()
	for _, ledger := range []string{domain.LedgerHost, domain.LedgerAdmin} {
		event := domain.LedgerEvent{
			EventID:             uuid.NewString(),
			Ledger:              ledger,
			Type:                domain.RecordTypeWithdrawal,
			Amount:              -req.Amount,
			Status:              domain.WithdrawalApproved,
			Applied:             true,
			Simulated:           req.Simulated,
			SubjectID:           &hostID,
			WithdrawalRequestID: &req.ID,
			OccurredAt:          now,
		}
		if host != nil {
			event.SubjectName = host.DisplayName
			event.SubjectEmail = host.Email
		}
		s.publishLedgerEvent(ctx, event)
	}
}

func payoutFromRequest(req *domain.WithdrawalRequest) *paypalclient.PayoutResult {
	payout := &paypalclient.PayoutResult{}
	if req.PayoutBatchID != nil {
		payout.BatchID = *req.PayoutBatchID
	}
	if req.PayoutItemID != nil {
		payout.ItemID = *req.PayoutItemID
	}
	if req.PayoutStatus != nil {
		payout.Status = *req.PayoutStatus
	}
	return payout
}

func parseID(raw string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(raw))
}
