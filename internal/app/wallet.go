/**
 * @description
 * This file implements the admin wallet's own withdrawal-to-self flow. Unlike
 * host withdrawals there is no request aggregate and no approval step; the
 * operator moves funds from the platform wallet to the admin's payout account
 * in one call.
 *
 * Ordering differs from the host flow on purpose: the wallet is debited
 * BEFORE the payout is sent, using the store's atomic balance-guarded debit,
 * and the debit is compensated with a credit if the payout then fails. The
 * debit-first shape means a gateway failure can never leave money paid out
 * against an unreserved balance; the residual risk is a failed compensation,
 * which is logged at critical severity for manual repair.
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

// WithdrawFromWallet executes the admin self-withdrawal and returns the
// appended admin-ledger record.
func (s *Service) WithdrawFromWallet(ctx context.Context, input domain.WalletWithdrawal) (*domain.TransactionRecord, error) {
	if input.Amount <= 0 {
		return nil, ErrInvalidRequest
	}

	wallet, err := s.repo.GetAdminWallet(ctx)
	if err != nil {
		return nil, err
	}

	destination := strings.TrimSpace(wallet.PayPalEmail)
	if !strings.Contains(destination, "@") {
		return nil, ErrMissingDestination
	}

	// Reserve the funds first. The store re-checks the balance under a row
	// lock, so concurrent self-withdrawals cannot jointly overdraw.
	if err := s.repo.DebitAdminWallet(ctx, input.Amount); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, ErrInsufficientWalletBalance
		}
		return nil, err
	}

	var payout *paypalclient.PayoutResult
	if input.Simulate {
		payout = &paypalclient.PayoutResult{
			BatchID: "sim-" + uuid.NewString(),
			ItemID:  "sim-item-" + uuid.NewString(),
			Status:  "PENDING",
		}
		log.Printf("level=info component=service flow=wallet_withdraw msg=\"simulate mode; payout synthesized\" amount=%d batch=%s", input.Amount, payout.BatchID)
	} else {
		attemptToken := uuid.NewString()
		payout, err = s.gateway.SubmitPayout(ctx, destination, input.Amount, s.cfg.Currency, attemptToken)
		if err != nil {
			// Undo the reservation. If even the compensation fails the wallet
			// balance is short with no payout to show for it.
			if creditErr := s.repo.CreditAdminWallet(ctx, input.Amount); creditErr != nil {
				log.Printf("level=critical component=service flow=wallet_withdraw msg=\"payout failed AND compensating credit failed; wallet balance short\" amount=%d payout_err=%v credit_err=%v", input.Amount, err, creditErr)
			} else {
				log.Printf("level=error component=service flow=wallet_withdraw msg=\"payout failed; debit compensated\" amount=%d err=%v", input.Amount, err)
			}
			return nil, fmt.Errorf("payout submission failed: %w", err)
		}
		log.Printf("level=info component=service flow=wallet_withdraw msg=\"payout submitted\" amount=%d batch=%s item=%s", input.Amount, payout.BatchID, payout.ItemID)
	}

	// Post-payout writes. Failures past this point are partial: the payout is
	// external and the debit stands, so surface the payout ids for repair.
	if err := s.repo.CreditAdminPayPalBalance(ctx, input.Amount); err != nil {
		return nil, s.partialFailure(uuid.Nil, StepCreditAdminPayPal, payout, err)
	}

	status := "completed"
	if payout.Status != "" {
		status = payout.Status
	}
	rec := &domain.TransactionRecord{
		ID:            uuid.New(),
		Ledger:        domain.LedgerAdmin,
		Type:          domain.RecordTypeWithdrawal,
		Amount:        -input.Amount,
		Status:        status,
		Date:          time.Now().UTC(),
		Simulated:     input.Simulate,
		SubjectName:   input.RequestedBy,
		PayoutBatchID: &payout.BatchID,
		PayoutItemID:  &payout.ItemID,
	}
	if err := s.repo.CreateTransactionRecord(ctx, rec); err != nil {
		return nil, s.partialFailure(uuid.Nil, StepAppendAdminRecord, payout, err)
	}

	s.publishLedgerEvent(ctx, domain.LedgerEvent{
		EventID:    uuid.NewString(),
		Ledger:     domain.LedgerAdmin,
		Type:       domain.RecordTypeWithdrawal,
		Amount:     -input.Amount,
		Status:     status,
		Applied:    true,
		Simulated:  input.Simulate,
		OccurredAt: rec.Date,
	})
	if _, refreshErr := s.RefreshWalletSummary(ctx); refreshErr != nil {
		log.Printf("level=warn component=service flow=wallet_withdraw msg=\"summary refresh failed\" err=%v", refreshErr)
	}

	return rec, nil
}
