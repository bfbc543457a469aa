package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"azukari/internal/core"

	"github.com/google/uuid"
)

// EventKind names what happened to the ledger.
type EventKind string

const (
	EventTransactionCreated   EventKind = "transaction.created"
	EventTransactionCorrected EventKind = "transaction.corrected"
)

// LedgerEvent announces a ledger mutation. It carries identifiers only;
// consumers reload whatever they need from storage.
type LedgerEvent struct {
	ID              string               `json:"id"`
	Kind            EventKind            `json:"kind"`
	ResidentID      int64                `json:"resident_id"`
	TransactionID   int64                `json:"transaction_id"`
	TransactionType core.TransactionType `json:"transaction_type"`
	TransactionDate time.Time            `json:"transaction_date"`
	Timestamp       time.Time            `json:"timestamp"`
}

func NewLedgerEvent(kind EventKind, tx core.Transaction) *LedgerEvent {
	return &LedgerEvent{
		ID:              uuid.NewString(),
		Kind:            kind,
		ResidentID:      tx.ResidentID,
		TransactionID:   tx.ID,
		TransactionType: tx.Type,
		TransactionDate: tx.Date,
		Timestamp:       time.Now(),
	}
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and sanity-checks an event body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(msg.ID); err != nil {
		return nil, fmt.Errorf("event id: %w", err)
	}
	switch msg.Kind {
	case EventTransactionCreated, EventTransactionCorrected:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if msg.ResidentID <= 0 {
		return nil, fmt.Errorf("event %s has no resident", msg.ID)
	}
	return &msg, nil
}
