/**
 * @description
 * This file implements the reconciliation surface for interrupted withdrawal
 * sagas. A request whose ledger_state stalled short of "settled" after
 * approval has a partially-applied ledger: the payout went out, but one or
 * more local writes never landed. Reconciliation lists those requests and
 * resumes the remaining writes from the persisted marker.
 *
 * Resuming never re-calls the payout gateway. The payout identifiers were
 * persisted in the same write as the approval, so the remaining work is purely
 * local.
 */

package app

import (
	"context"
	"log"

	"github.com/staynest/admin-service/internal/domain"
)

// ListUnsettledWithdrawals returns approved requests whose ledger writes did
// not complete.
func (s *Service) ListUnsettledWithdrawals(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListUnsettledWithdrawals(ctx, limit)
}

// SettleWithdrawalLedger resumes the ledger saga for one approved request.
// Steps already recorded as done are skipped; each remaining step advances the
// marker exactly as the original approval would have. Idempotent for settled
// requests.
func (s *Service) SettleWithdrawalLedger(ctx context.Context, requestID string) (*domain.WithdrawalRequest, error) {
	id, err := parseID(requestID)
	if err != nil {
		return nil, ErrInvalidRequest
	}

	req, err := s.repo.GetWithdrawalRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	// Only approved requests have a ledger to settle. Pending requests have
	// seen no payout; rejected ones never will.
	if req.Status != domain.WithdrawalApproved {
		return nil, ErrInvalidRequest
	}
	if req.LedgerState == domain.LedgerStateSettled {
		log.Printf("level=info component=service flow=withdrawal_reconcile msg=\"ledger already settled\" request_id=%s", req.ID)
		return req, nil
	}

	log.Printf("level=info component=service flow=withdrawal_reconcile msg=\"resuming ledger settlement\" request_id=%s from_state=%s", req.ID, req.LedgerState)

	if err := s.settleApprovedWithdrawal(ctx, req, nil); err != nil {
		return nil, err
	}
	req.LedgerState = domain.LedgerStateSettled

	// Post-settlement check: a settled request must carry exactly one record
	// per ledger. Anything else means an earlier run half-applied records.
	if count, countErr := s.repo.CountWithdrawalRecords(ctx, req.ID); countErr != nil {
		log.Printf("level=warn component=service flow=withdrawal_reconcile msg=\"record count check failed\" request_id=%s err=%v", req.ID, countErr)
	} else if count != 2 {
		log.Printf("level=warn component=service flow=withdrawal_reconcile msg=\"unexpected withdrawal record count after settlement\" request_id=%s count=%d", req.ID, count)
	}

	log.Printf("level=info component=service flow=withdrawal_reconcile msg=\"ledger settlement complete\" request_id=%s", req.ID)

	if _, refreshErr := s.RefreshWalletSummary(ctx); refreshErr != nil {
		log.Printf("level=warn component=service flow=withdrawal_reconcile msg=\"summary refresh failed\" err=%v", refreshErr)
	}
	return req, nil
}
