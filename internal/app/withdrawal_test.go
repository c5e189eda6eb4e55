package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
	"github.com/staynest/admin-service/pkg/paypalclient"
)

// ledgerRepoStub satisfies the slice of store.Repository the approval and
// wallet flows touch. Unimplemented methods panic via the embedded interface.
type ledgerRepoStub struct {
	store.Repository

	request *domain.WithdrawalRequest
	host    *domain.HostMetrics
	wallet  *domain.AdminWallet

	markApprovedErr   error
	markRejectedErr   error
	decrementErr      error
	creditPayPalErr   error
	deleteRecordsErr  error
	createRecordErr   error
	setLedgerStateErr map[string]error
	netCommission     int64

	markApprovedCalled bool
	approvedParams     store.ApproveWithdrawalParams
	rejectedParams     store.RejectWithdrawalParams
	decrementedAmount  int64
	creditedPayPal     int64
	deleteCalled       bool
	createdRecords     []*domain.TransactionRecord
	ledgerStates       []string
}

func (s *ledgerRepoStub) GetWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	if s.request == nil {
		return nil, store.ErrWithdrawalNotFound
	}
	cp := *s.request
	return &cp, nil
}

func (s *ledgerRepoStub) GetHostMetrics(ctx context.Context, hostID uuid.UUID) (*domain.HostMetrics, error) {
	if s.host == nil {
		return nil, store.ErrHostNotFound
	}
	cp := *s.host
	return &cp, nil
}

func (s *ledgerRepoStub) MarkWithdrawalApproved(ctx context.Context, id uuid.UUID, params store.ApproveWithdrawalParams) (*domain.WithdrawalRequest, error) {
	s.markApprovedCalled = true
	s.approvedParams = params
	if s.markApprovedErr != nil {
		return nil, s.markApprovedErr
	}
	cp := *s.request
	cp.Status = domain.WithdrawalApproved
	cp.ApprovedBy = &params.ApprovedBy
	cp.ApprovedAt = &params.ApprovedAt
	cp.PayoutBatchID = &params.PayoutBatchID
	cp.PayoutItemID = &params.PayoutItemID
	cp.PayoutStatus = &params.PayoutStatus
	cp.Simulated = params.Simulated
	cp.LedgerState = domain.LedgerStatePayoutRecorded
	return &cp, nil
}

func (s *ledgerRepoStub) MarkWithdrawalRejected(ctx context.Context, id uuid.UUID, params store.RejectWithdrawalParams) (*domain.WithdrawalRequest, error) {
	s.rejectedParams = params
	if s.markRejectedErr != nil {
		return nil, s.markRejectedErr
	}
	cp := *s.request
	cp.Status = domain.WithdrawalRejected
	cp.RejectedBy = &params.RejectedBy
	cp.RejectedAt = &params.RejectedAt
	cp.RejectionReason = &params.Reason
	return &cp, nil
}

func (s *ledgerRepoStub) DecrementHostEarnings(ctx context.Context, hostID uuid.UUID, amount int64) error {
	if s.decrementErr != nil {
		return s.decrementErr
	}
	s.decrementedAmount += amount
	return nil
}

func (s *ledgerRepoStub) CreditHostPayPalBalance(ctx context.Context, hostID uuid.UUID, amount int64) error {
	if s.creditPayPalErr != nil {
		return s.creditPayPalErr
	}
	s.creditedPayPal += amount
	return nil
}

func (s *ledgerRepoStub) DeleteWithdrawalRecords(ctx context.Context, requestID uuid.UUID) error {
	s.deleteCalled = true
	return s.deleteRecordsErr
}

func (s *ledgerRepoStub) CreateTransactionRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	if s.createRecordErr != nil {
		return s.createRecordErr
	}
	s.createdRecords = append(s.createdRecords, rec)
	return nil
}

func (s *ledgerRepoStub) SetWithdrawalLedgerState(ctx context.Context, requestID uuid.UUID, state string) error {
	if s.setLedgerStateErr != nil {
		if err, ok := s.setLedgerStateErr[state]; ok {
			return err
		}
	}
	s.ledgerStates = append(s.ledgerStates, state)
	return nil
}

func (s *ledgerRepoStub) CountWithdrawalRecords(ctx context.Context, requestID uuid.UUID) (int, error) {
	return len(s.createdRecords), nil
}

func (s *ledgerRepoStub) GetAdminWallet(ctx context.Context) (*domain.AdminWallet, error) {
	if s.wallet == nil {
		return nil, store.ErrWalletNotFound
	}
	cp := *s.wallet
	return &cp, nil
}

func (s *ledgerRepoStub) SumNetCommission(ctx context.Context) (int64, error) {
	return s.netCommission, nil
}

// payoutGatewayStub records every submission for token/receiver assertions.
type payoutGatewayStub struct {
	result *paypalclient.PayoutResult
	err    error

	calls     int
	receivers []string
	tokens    []string
}

func (g *payoutGatewayStub) SubmitPayout(ctx context.Context, receiver string, amountMinor int64, currency, senderBatchID string) (*paypalclient.PayoutResult, error) {
	g.calls++
	g.receivers = append(g.receivers, receiver)
	g.tokens = append(g.tokens, senderBatchID)
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &paypalclient.PayoutResult{BatchID: "batch-1", ItemID: "item-1", Status: "PENDING"}, nil
}

func pendingRequestFixture(hostBalance int64, amount int64) (*ledgerRepoStub, *domain.WithdrawalRequest) {
	hostID := uuid.New()
	req := &domain.WithdrawalRequest{
		ID:          uuid.New(),
		HostID:      hostID,
		Amount:      amount,
		PayPalEmail: "host@example.com",
		Status:      domain.WithdrawalPending,
		RequestedAt: time.Now().UTC(),
	}
	repo := &ledgerRepoStub{
		request: req,
		host: &domain.HostMetrics{
			HostID:        hostID,
			DisplayName:   "Maria Santos",
			Email:         "maria@example.com",
			PayPalEmail:   "maria-paypal@example.com",
			TotalEarnings: hostBalance,
		},
		wallet: &domain.AdminWallet{Balance: 500000, PayPalEmail: "admin@example.com"},
	}
	return repo, req
}

func simTrue() *bool {
	v := true
	return &v
}

func TestApproveWithdrawal_SimulatedHappyPath(t *testing.T) {
	repo, req := pendingRequestFixture(100000, 50000)
	gateway := &payoutGatewayStub{}
	svc := NewService(repo, gateway, nil, nil, Config{})

	updated, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops@staynest.ph", Simulate: simTrue()})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatalf("simulate mode must not call the gateway, got %d calls", gateway.calls)
	}
	if updated.Status != domain.WithdrawalApproved {
		t.Fatalf("expected status approved, got %s", updated.Status)
	}
	if updated.LedgerState != domain.LedgerStateSettled {
		t.Fatalf("expected settled ledger state, got %q", updated.LedgerState)
	}
	if !repo.approvedParams.Simulated {
		t.Fatal("expected simulated flag persisted on the request")
	}
	if !strings.HasPrefix(repo.approvedParams.PayoutBatchID, "sim-") {
		t.Fatalf("expected synthesized batch id, got %q", repo.approvedParams.PayoutBatchID)
	}
	if repo.decrementedAmount != 50000 {
		t.Fatalf("expected host earnings debited by 50000, got %d", repo.decrementedAmount)
	}
	if repo.creditedPayPal != 50000 {
		t.Fatalf("expected host paypal mirror credited by 50000, got %d", repo.creditedPayPal)
	}
	if !repo.deleteCalled {
		t.Fatal("expected defensive cleanup of prior withdrawal records")
	}
	if len(repo.createdRecords) != 2 {
		t.Fatalf("expected one host-side and one admin-side record, got %d", len(repo.createdRecords))
	}
	ledgers := map[string]bool{}
	for _, rec := range repo.createdRecords {
		ledgers[rec.Ledger] = true
		if rec.Amount != -50000 {
			t.Fatalf("expected record amount -50000, got %d", rec.Amount)
		}
		if rec.Type != domain.RecordTypeWithdrawal {
			t.Fatalf("expected withdrawal record type, got %s", rec.Type)
		}
		if !rec.Simulated {
			t.Fatal("expected record flagged simulated")
		}
		if rec.SubjectName != "Maria Santos" || rec.SubjectEmail != "maria@example.com" {
			t.Fatalf("expected host snapshot on record, got name=%q email=%q", rec.SubjectName, rec.SubjectEmail)
		}
		if rec.WithdrawalRequestID == nil || *rec.WithdrawalRequestID != req.ID {
			t.Fatal("expected record to reference the withdrawal request")
		}
	}
	if !ledgers[domain.LedgerHost] || !ledgers[domain.LedgerAdmin] {
		t.Fatalf("expected records on both ledgers, got %v", ledgers)
	}
	wantStates := []string{
		domain.LedgerStateHostDebited,
		domain.LedgerStatePayPalCredited,
		domain.LedgerStateRecordsCleared,
		domain.LedgerStateSettled,
	}
	if len(repo.ledgerStates) != len(wantStates) {
		t.Fatalf("expected states %v, got %v", wantStates, repo.ledgerStates)
	}
	for i, state := range wantStates {
		if repo.ledgerStates[i] != state {
			t.Fatalf("expected state %q at position %d, got %q", state, i, repo.ledgerStates[i])
		}
	}
}

func TestApproveWithdrawal_InsufficientBalanceLeavesRequestPending(t *testing.T) {
	repo, req := pendingRequestFixture(20000, 30000)
	gateway := &payoutGatewayStub{}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops@staynest.ph"})
	if !errors.Is(err, ErrInsufficientHostBalance) {
		t.Fatalf("expected ErrInsufficientHostBalance, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("gateway must not be called when the balance check fails")
	}
	if repo.markApprovedCalled || repo.decrementedAmount != 0 || len(repo.createdRecords) != 0 {
		t.Fatal("expected zero writes on insufficiency")
	}
}

func TestApproveWithdrawal_BalanceBoundary(t *testing.T) {
	t.Run("amount equal to balance succeeds", func(t *testing.T) {
		repo, req := pendingRequestFixture(50000, 50000)
		svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{SimulateDefault: true})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); err != nil {
			t.Fatalf("expected success at the exact boundary, got %v", err)
		}
		if repo.decrementedAmount != 50000 {
			t.Fatalf("expected full debit at boundary, got %d", repo.decrementedAmount)
		}
	})

	t.Run("one centavo over fails", func(t *testing.T) {
		repo, req := pendingRequestFixture(50000, 50001)
		svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{SimulateDefault: true})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); !errors.Is(err, ErrInsufficientHostBalance) {
			t.Fatalf("expected ErrInsufficientHostBalance one centavo over, got %v", err)
		}
		if repo.markApprovedCalled {
			t.Fatal("expected no writes one centavo over")
		}
	})
}

func TestApproveWithdrawal_GatewayFailureLeavesRequestPending(t *testing.T) {
	repo, req := pendingRequestFixture(100000, 50000)
	gateway := &payoutGatewayStub{err: &paypalclient.APIError{Kind: paypalclient.KindTransient, StatusCode: 503, Message: "service unavailable"}}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"})
	if err == nil {
		t.Fatal("expected error from gateway failure")
	}
	var apiErr *paypalclient.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected wrapped gateway APIError, got %v", err)
	}
	var partial *PartialLedgerFailure
	if errors.As(err, &partial) {
		t.Fatal("a pre-commit gateway failure is not a partial ledger failure")
	}
	if repo.markApprovedCalled || repo.decrementedAmount != 0 || len(repo.createdRecords) != 0 {
		t.Fatal("expected zero writes after gateway failure")
	}
}

func TestApproveWithdrawal_AlreadyResolved(t *testing.T) {
	repo, req := pendingRequestFixture(100000, 50000)
	repo.request.Status = domain.WithdrawalApproved
	gateway := &payoutGatewayStub{}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatal("gateway must not be called for a resolved request")
	}
	if repo.markApprovedCalled || len(repo.createdRecords) != 0 {
		t.Fatal("expected zero writes for a resolved request")
	}
}

func TestApproveWithdrawal_LostTransitionRaceIsPartialFailure(t *testing.T) {
	repo, req := pendingRequestFixture(100000, 50000)
	repo.markApprovedErr = store.ErrWithdrawalResolved
	gateway := &payoutGatewayStub{result: &paypalclient.PayoutResult{BatchID: "batch-77", ItemID: "item-77", Status: "PENDING"}}
	svc := NewService(repo, gateway, nil, nil, Config{})

	_, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"})
	var partial *PartialLedgerFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialLedgerFailure after losing the transition race post-payout, got %v", err)
	}
	if partial.Step != StepMarkApproved {
		t.Fatalf("expected step %q, got %q", StepMarkApproved, partial.Step)
	}
	if partial.BatchID != "batch-77" || partial.ItemID != "item-77" {
		t.Fatalf("expected payout ids on the failure, got batch=%q item=%q", partial.BatchID, partial.ItemID)
	}
	if partial.RequestID != req.ID {
		t.Fatal("expected request id on the failure")
	}
}

func TestApproveWithdrawal_DebitFailureCarriesStepAndPayoutIDs(t *testing.T) {
	repo, req := pendingRequestFixture(100000, 50000)
	repo.decrementErr = errors.New("db unavailable")
	svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{SimulateDefault: true})

	_, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"})
	var partial *PartialLedgerFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialLedgerFailure, got %v", err)
	}
	if partial.Step != StepDebitHost {
		t.Fatalf("expected step %q, got %q", StepDebitHost, partial.Step)
	}
	if partial.BatchID == "" || partial.ItemID == "" {
		t.Fatal("expected payout ids carried on the failure")
	}
	if len(repo.createdRecords) != 0 {
		t.Fatal("expected no records appended after the debit failed")
	}
}

func TestApproveWithdrawal_FreshIdempotencyTokenPerAttempt(t *testing.T) {
	gateway := &payoutGatewayStub{err: errors.New("timeout")}

	repo, req := pendingRequestFixture(100000, 50000)
	svc := NewService(repo, gateway, nil, nil, Config{})
	_, _ = svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"})

	// The request stayed pending, so the operator retries.
	_, _ = svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"})

	if gateway.calls != 2 {
		t.Fatalf("expected two gateway attempts, got %d", gateway.calls)
	}
	if gateway.tokens[0] == gateway.tokens[1] {
		t.Fatalf("expected a fresh idempotency token per attempt, got %q twice", gateway.tokens[0])
	}
}

func TestApproveWithdrawal_DestinationResolution(t *testing.T) {
	t.Run("falls back to host profile when request email is malformed", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		repo.request.PayPalEmail = "not-an-email"
		gateway := &payoutGatewayStub{}
		svc := NewService(repo, gateway, nil, nil, Config{})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if gateway.receivers[0] != "maria-paypal@example.com" {
			t.Fatalf("expected host profile destination, got %q", gateway.receivers[0])
		}
	})

	t.Run("fails when neither request nor profile has a destination", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		repo.request.PayPalEmail = ""
		repo.host.PayPalEmail = ""
		gateway := &payoutGatewayStub{}
		svc := NewService(repo, gateway, nil, nil, Config{})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); !errors.Is(err, ErrMissingDestination) {
			t.Fatalf("expected ErrMissingDestination, got %v", err)
		}
		if gateway.calls != 0 || repo.markApprovedCalled {
			t.Fatal("expected zero calls and zero writes without a destination")
		}
	})
}

type approvalLockStub struct {
	held     bool
	err      error
	acquired int
	released int
}

func (l *approvalLockStub) Acquire(ctx context.Context, hostID string) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.acquired++
	return func() { l.released++ }, true, nil
}

func TestApproveWithdrawal_SerializationLock(t *testing.T) {
	t.Run("held lock rejects the approval", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		lock := &approvalLockStub{held: true}
		svc := NewService(repo, &payoutGatewayStub{}, nil, lock, Config{SimulateDefault: true})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); !errors.Is(err, ErrApprovalInProgress) {
			t.Fatalf("expected ErrApprovalInProgress, got %v", err)
		}
		if repo.markApprovedCalled {
			t.Fatal("expected no writes while the lock is held")
		}
	})

	t.Run("lock infrastructure failure degrades to proceeding", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		lock := &approvalLockStub{err: errors.New("redis down")}
		svc := NewService(repo, &payoutGatewayStub{}, nil, lock, Config{SimulateDefault: true})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); err != nil {
			t.Fatalf("expected approval to proceed despite lock failure, got %v", err)
		}
	})

	t.Run("lock is released after a successful approval", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		lock := &approvalLockStub{}
		svc := NewService(repo, &payoutGatewayStub{}, nil, lock, Config{SimulateDefault: true})

		if _, err := svc.ApproveWithdrawal(context.Background(), req.ID, ApproveOptions{ApprovedBy: "ops"}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if lock.acquired != 1 || lock.released != 1 {
			t.Fatalf("expected one acquire and one release, got %d/%d", lock.acquired, lock.released)
		}
	})
}

func TestRejectWithdrawal(t *testing.T) {
	t.Run("persists the given reason", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{})

		updated, err := svc.RejectWithdrawal(context.Background(), req.ID, RejectOptions{RejectedBy: "ops", Reason: "duplicate request"})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if updated.Status != domain.WithdrawalRejected {
			t.Fatalf("expected rejected status, got %s", updated.Status)
		}
		if repo.rejectedParams.Reason != "duplicate request" {
			t.Fatalf("expected reason persisted, got %q", repo.rejectedParams.Reason)
		}
	})

	t.Run("empty reason falls back to the configured default", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{})

		if _, err := svc.RejectWithdrawal(context.Background(), req.ID, RejectOptions{RejectedBy: "ops"}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if repo.rejectedParams.Reason != "Rejected by admin" {
			t.Fatalf("expected default reason, got %q", repo.rejectedParams.Reason)
		}
	})

	t.Run("resolved request maps to ErrAlreadyResolved", func(t *testing.T) {
		repo, req := pendingRequestFixture(100000, 50000)
		repo.markRejectedErr = store.ErrWithdrawalResolved
		svc := NewService(repo, &payoutGatewayStub{}, nil, nil, Config{})

		if _, err := svc.RejectWithdrawal(context.Background(), req.ID, RejectOptions{RejectedBy: "ops"}); !errors.Is(err, ErrAlreadyResolved) {
			t.Fatalf("expected ErrAlreadyResolved, got %v", err)
		}
	})
}
