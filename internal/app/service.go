/**
 * @description
 * This file contains the core application service of the admin-service. The
 * `Service` struct orchestrates the withdrawal state machine, the admin
 * wallet's own withdrawal flow, and the derived wallet summary, coordinating
 * between the ledger store repository, the PayPal payout gateway, and the
 * event stream.
 *
 * @dependencies
 * - context, sync, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/paypalclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
	"github.com/staynest/admin-service/pkg/paypalclient"
	"github.com/staynest/admin-service/pkg/rabbitmq"
)

// PayoutGateway is the slice of the payout API the state machine depends on.
// *paypalclient.Client satisfies it; tests substitute stubs.
type PayoutGateway interface {
	SubmitPayout(ctx context.Context, receiver string, amountMinor int64, currency, senderBatchID string) (*paypalclient.PayoutResult, error)
}

// ApprovalLock serializes approvals per host. Acquire returns ok=false when
// another approval currently holds the host's lock; release is always safe to
// call. A nil ApprovalLock on the Service disables serialization entirely.
type ApprovalLock interface {
	Acquire(ctx context.Context, hostID string) (release func(), ok bool, err error)
}

// Config carries the operator-controlled settings the service consumes.
type Config struct {
	Currency               string // ISO code for every payout (the platform is single-currency)
	SimulateDefault        bool   // default for the per-call simulate flag
	DefaultRejectionReason string
	EventExchange          string // topic exchange for ledger mutation events
	MinWithdrawalAmount    int64  // intake floor in centavos; zero disables the check
}

// Service provides the core business logic for the admin back-office.
type Service struct {
	repo     store.Repository
	gateway  PayoutGateway
	producer rabbitmq.Publisher
	lock     ApprovalLock
	cfg      Config

	summaryMu sync.RWMutex
	summary   domain.WalletSummary
}

// NewService creates a new admin service instance. producer and lock may be
// nil; the service then skips event publishing / per-host serialization.
func NewService(repo store.Repository, gateway PayoutGateway, producer rabbitmq.Publisher, lock ApprovalLock, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "PHP"
	}
	if cfg.DefaultRejectionReason == "" {
		cfg.DefaultRejectionReason = "Rejected by admin"
	}
	if cfg.EventExchange == "" {
		cfg.EventExchange = "staynest.events"
	}
	return &Service{
		repo:     repo,
		gateway:  gateway,
		producer: producer,
		lock:     lock,
		cfg:      cfg,
	}
}

// SimulateDefault exposes the configured default for the per-call simulate flag.
func (s *Service) SimulateDefault() bool {
	return s.cfg.SimulateDefault
}

// GetWithdrawal returns one withdrawal request.
func (s *Service) GetWithdrawal(ctx context.Context, requestID string) (*domain.WithdrawalRequest, error) {
	id, err := parseID(requestID)
	if err != nil {
		return nil, ErrInvalidRequest
	}
	return s.repo.GetWithdrawalRequest(ctx, id)
}

// ListWithdrawals returns withdrawal requests matching the options.
func (s *Service) ListWithdrawals(ctx context.Context, opts domain.WithdrawalListOptions) ([]domain.WithdrawalRequest, error) {
	return s.repo.ListWithdrawalRequests(ctx, opts)
}

// ListTransactionRecords returns ledger records matching the options.
func (s *Service) ListTransactionRecords(ctx context.Context, opts domain.RecordListOptions) ([]domain.TransactionRecord, error) {
	return s.repo.ListTransactionRecords(ctx, opts)
}

// RefreshWalletSummary recomputes the derived display aggregates from the
// store and caches them. Called by the balance reducer on every ledger event
// and by the wallet endpoint.
func (s *Service) RefreshWalletSummary(ctx context.Context) (*domain.WalletSummary, error) {
	wallet, err := s.repo.GetAdminWallet(ctx)
	if err != nil {
		return nil, err
	}
	netCommission, err := s.repo.SumNetCommission(ctx)
	if err != nil {
		return nil, err
	}

	summary := domain.WalletSummary{
		Balance:       wallet.Balance,
		TotalEarnings: wallet.TotalEarnings,
		PayPalBalance: wallet.PayPalBalance,
		NetCommission: netCommission,
		RefreshedAt:   time.Now().UTC(),
	}

	s.summaryMu.Lock()
	s.summary = summary
	s.summaryMu.Unlock()

	return &summary, nil
}

// CachedWalletSummary returns the last summary computed by the reducer without
// touching the store. The zero value means no refresh has happened yet.
func (s *Service) CachedWalletSummary() domain.WalletSummary {
	s.summaryMu.RLock()
	defer s.summaryMu.RUnlock()
	return s.summary
}

// publishLedgerEvent emits a ledger mutation event. Publishing is best-effort:
// the authoritative write already happened, so a broker failure is logged and
// swallowed rather than failing the operation.
func (s *Service) publishLedgerEvent(ctx context.Context, event domain.LedgerEvent) {
	if s.producer == nil {
		return
	}
	routingKey := "ledger." + event.Ledger + "." + event.Type
	if err := s.producer.Publish(ctx, s.cfg.EventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"ledger event publish failed\" routing_key=%s event_id=%s err=%v", routingKey, event.EventID, err)
	}
}
