package app

import (
	"context"
	"errors"
	"testing"

	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
	"github.com/staynest/admin-service/pkg/paypalclient"
)

type walletRepoStub struct {
	*ledgerRepoStub

	debitErr       error
	creditErr      error
	adminPayPalErr error

	debited     int64
	credited    int64
	adminPayPal int64
}

func (s *walletRepoStub) DebitAdminWallet(ctx context.Context, amount int64) error {
	if s.debitErr != nil {
		return s.debitErr
	}
	s.debited += amount
	return nil
}

func (s *walletRepoStub) CreditAdminWallet(ctx context.Context, amount int64) error {
	if s.creditErr != nil {
		return s.creditErr
	}
	s.credited += amount
	return nil
}

func (s *walletRepoStub) CreditAdminPayPalBalance(ctx context.Context, amount int64) error {
	if s.adminPayPalErr != nil {
		return s.adminPayPalErr
	}
	s.adminPayPal += amount
	return nil
}

func walletFixture(balance int64) *walletRepoStub {
	return &walletRepoStub{
		ledgerRepoStub: &ledgerRepoStub{
			wallet: &domain.AdminWallet{
				Balance:     balance,
				PayPalEmail: "admin@staynest.ph",
			},
		},
	}
}

func TestWithdrawFromWallet_HappyPath(t *testing.T) {
	repo := walletFixture(200000)
	gateway := &payoutGatewayStub{result: &paypalclient.PayoutResult{BatchID: "batch-9", ItemID: "item-9", Status: "SUCCESS"}}
	svc := NewService(repo, gateway, nil, nil, Config{})

	rec, err := svc.WithdrawFromWallet(context.Background(), domain.WalletWithdrawal{Amount: 75000, RequestedBy: "ops@staynest.ph"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if repo.debited != 75000 {
		t.Fatalf("expected wallet debited by 75000, got %d", repo.debited)
	}
	if repo.adminPayPal != 75000 {
		t.Fatalf("expected paypal mirror credited by 75000, got %d", repo.adminPayPal)
	}
	if gateway.receivers[0] != "admin@staynest.ph" {
		t.Fatalf("expected payout to the wallet's own address, got %q", gateway.receivers[0])
	}
	if rec.Ledger != domain.LedgerAdmin || rec.Type != domain.RecordTypeWithdrawal {
		t.Fatalf("expected admin withdrawal record, got ledger=%s type=%s", rec.Ledger, rec.Type)
	}
	if rec.Amount != -75000 {
		t.Fatalf("expected record amount -75000, got %d", rec.Amount)
	}
	if rec.PayoutBatchID == nil || *rec.PayoutBatchID != "batch-9" {
		t.Fatal("expected payout batch id on the record")
	}
	if rec.Status != "SUCCESS" {
		t.Fatalf("expected gateway status on the record, got %q", rec.Status)
	}
}

func TestWithdrawFromWallet_InsufficientBalance(t *testing.T) {
	repo := walletFixture(50000)
	repo.debitErr = store.ErrInsufficientFunds
	gateway := &payoutGatewayStub{}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.WithdrawFromWallet(context.Background(), domain.WalletWithdrawal{Amount: 60000, RequestedBy: "ops"})
	if !errors.Is(err, ErrInsufficientWalletBalance) {
		t.Fatalf("expected ErrInsufficientWalletBalance, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("gateway must not be called when the debit is refused")
	}
	if len(repo.createdRecords) != 0 {
		t.Fatal("expected no record appended")
	}
}

func TestWithdrawFromWallet_GatewayFailureCompensatesDebit(t *testing.T) {
	repo := walletFixture(200000)
	gateway := &payoutGatewayStub{err: &paypalclient.APIError{Kind: paypalclient.KindTransient, StatusCode: 502, Message: "bad gateway"}}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.WithdrawFromWallet(context.Background(), domain.WalletWithdrawal{Amount: 75000, RequestedBy: "ops"})
	if err == nil {
		t.Fatal("expected error from gateway failure")
	}
	if repo.debited != 75000 || repo.credited != 75000 {
		t.Fatalf("expected debit then compensating credit, got debited=%d credited=%d", repo.debited, repo.credited)
	}
	if repo.adminPayPal != 0 || len(repo.createdRecords) != 0 {
		t.Fatal("expected no post-payout writes after gateway failure")
	}
}

func TestWithdrawFromWallet_SimulateSkipsGateway(t *testing.T) {
	repo := walletFixture(200000)
	gateway := &payoutGatewayStub{}
	svc := NewService(repo, gateway, nil, nil, Config{})

	rec, err := svc.WithdrawFromWallet(context.Background(), domain.WalletWithdrawal{Amount: 10000, Simulate: true, RequestedBy: "ops"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("simulate mode must not call the gateway")
	}
	if !rec.Simulated {
		t.Fatal("expected record flagged simulated")
	}
}

func TestWithdrawFromWallet_PartialFailureAfterPayout(t *testing.T) {
	repo := walletFixture(200000)
	repo.adminPayPalErr = errors.New("db unavailable")
	gateway := &payoutGatewayStub{result: &paypalclient.PayoutResult{BatchID: "batch-3", ItemID: "item-3", Status: "PENDING"}}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.WithdrawFromWallet(context.Background(), domain.WalletWithdrawal{Amount: 75000, RequestedBy: "ops"})
	var partial *PartialLedgerFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialLedgerFailure, got %v", err)
	}
	if partial.Step != StepCreditAdminPayPal {
		t.Fatalf("expected step %q, got %q", StepCreditAdminPayPal, partial.Step)
	}
	if partial.BatchID != "batch-3" {
		t.Fatalf("expected payout batch on the failure, got %q", partial.BatchID)
	}
	if repo.credited != 0 {
		t.Fatal("a post-payout failure must not be compensated; the payout already went out")
	}
}

func TestWithdrawFromWallet_RejectsNonPositiveAmount(t *testing.T) {
	repo := walletFixture(200000)
	svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{})

	for _, amount := range []int64{0, -500} {
		if _, err := svc.WithdrawFromWallet(context.Background(), domain.WalletWithdrawal{Amount: amount, RequestedBy: "ops"}); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for amount %d, got %v", amount, err)
		}
	}
}
