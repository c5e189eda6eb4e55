package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEvent is the message published on the ledger event stream whenever a
// transaction record is written anywhere on the platform. The wallet balance
// reducer subscribes to these to keep the admin wallet's derived aggregates
// current.
//
// Applied=true means the publisher already persisted the record and updated
// the authoritative balances (this service's own withdrawal flows); the
// reducer then only refreshes derived aggregates. Applied=false means the
// posting originates outside this service (booking commissions, cancellation
// fees) and the reducer is responsible for materializing it.
type LedgerEvent struct {
	EventID             string     `json:"event_id"`
	Ledger              string     `json:"ledger"` // "admin" or "host"
	Type                string     `json:"type"`   // commission, cancellation-fee, withdrawal, ...
	Amount              int64      `json:"amount"` // signed, in centavos
	Status              string     `json:"status"`
	Applied             bool       `json:"applied"`
	Simulated           bool       `json:"simulated"`
	SubjectID           *uuid.UUID `json:"subject_id,omitempty"`
	SubjectName         string     `json:"subject_name,omitempty"`
	SubjectEmail        string     `json:"subject_email,omitempty"`
	WithdrawalRequestID *uuid.UUID `json:"withdrawal_request_id,omitempty"`
	OccurredAt          time.Time  `json:"occurred_at"`
}
