/**
 * @description
 * This file implements the wallet balance reducer: the consumer-side component
 * that keeps the admin wallet's derived display aggregates current as ledger
 * events arrive on the message bus.
 *
 * Two classes of event flow through here:
 * - applied=true events were published by this service after it already
 *   persisted the mutation. The reducer only recomputes the summary.
 * - applied=false events come from other services (booking settlement posts
 *   commissions and cancellation fees this way). The reducer materializes the
 *   transaction record and, for qualifying admin earnings, applies the amount
 *   to the wallet balance and lifetime earnings before recomputing.
 *
 * Handler returns feed the broker ack protocol: true acks, false nacks with
 * requeue. Malformed payloads are acked; redelivery cannot fix a bad message.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/staynest/admin-service/internal/domain"
	"github.com/staynest/admin-service/internal/store"
)

// LedgerConsumer processes ledger events from the event stream.
type LedgerConsumer struct {
	repo    store.Repository
	service *Service
}

// NewLedgerConsumer creates a consumer bound to the shared repository and
// service (for summary refresh).
func NewLedgerConsumer(repo store.Repository, service *Service) *LedgerConsumer {
	return &LedgerConsumer{repo: repo, service: service}
}

// LedgerConsumer returns a consumer wired to this service's dependencies.
func (s *Service) LedgerConsumer() *LedgerConsumer {
	return NewLedgerConsumer(s.repo, s)
}

// HandleMessage is the broker-facing entry point.
func (c *LedgerConsumer) HandleMessage(body []byte) bool {
	var event domain.LedgerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=ledger_consumer msg=\"failed to unmarshal ledger event; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=ledger_consumer msg=\"failed to process ledger event\" event_id=%s ledger=%s type=%s err=%v", event.EventID, event.Ledger, event.Type, err)
		return false
	}
	return true
}

func (c *LedgerConsumer) processEvent(ctx context.Context, event domain.LedgerEvent) error {
	if !event.Applied {
		if err := c.materialize(ctx, event); err != nil {
			return err
		}
	}

	if _, err := c.service.RefreshWalletSummary(ctx); err != nil {
		// The write (if any) landed; a stale summary self-heals on the next
		// event or wallet read.
		log.Printf("level=warn component=ledger_consumer msg=\"summary refresh failed\" event_id=%s err=%v", event.EventID, err)
	}
	return nil
}

// materialize persists an external posting as a transaction record and updates
// the affected balance.
func (c *LedgerConsumer) materialize(ctx context.Context, event domain.LedgerEvent) error {
	rec := &domain.TransactionRecord{
		ID:                  recordID(event.EventID),
		Ledger:              event.Ledger,
		Type:                event.Type,
		Amount:              event.Amount,
		Status:              event.Status,
		Date:                eventDate(event),
		Simulated:           event.Simulated,
		SubjectID:           event.SubjectID,
		SubjectName:         event.SubjectName,
		SubjectEmail:        event.SubjectEmail,
		WithdrawalRequestID: event.WithdrawalRequestID,
	}
	// A duplicate id means a prior delivery already inserted this record and
	// then failed later (typically on the earning write). Fall through to the
	// earning step; stopping here would nack every redelivery forever.
	if err := c.repo.CreateTransactionRecord(ctx, rec); err != nil {
		if !errors.Is(err, store.ErrRecordExists) {
			return err
		}
		log.Printf("level=info component=ledger_consumer msg=\"record already materialized; resuming\" event_id=%s", event.EventID)
	}

	// Positive admin-ledger earnings (commissions, cancellation fees) grow the
	// wallet. Withdrawals and refunds never arrive unapplied from outside, but
	// the guard keeps a misrouted event from inflating the balance.
	if event.Ledger == domain.LedgerAdmin && event.Amount > 0 &&
		event.Type != domain.RecordTypeWithdrawal && event.Type != domain.RecordTypeRefund {
		if err := c.repo.ApplyAdminEarning(ctx, event.Amount); err != nil {
			return err
		}
		log.Printf("level=info component=ledger_consumer msg=\"admin earning applied\" event_id=%s type=%s amount=%d", event.EventID, event.Type, event.Amount)
	}
	return nil
}

// recordID reuses the producer's event id as the record id when it parses,
// making external-posting materialization idempotent under redelivery.
func recordID(eventID string) uuid.UUID {
	if id, err := uuid.Parse(eventID); err == nil {
		return id
	}
	return uuid.New()
}

func eventDate(event domain.LedgerEvent) time.Time {
	if !event.OccurredAt.IsZero() {
		return event.OccurredAt
	}
	return time.Now().UTC()
}
