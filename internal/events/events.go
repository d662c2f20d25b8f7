// Package events provides the in-process event bus used to broadcast
// engine activity (flushes, harvests, rebalances) to subscribers such as
// the websocket stream.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType identifies the kind of engine event
type EventType string

const (
	DepositQueued       EventType = "deposit_queued"
	WithdrawQueued      EventType = "withdraw_queued"
	BatchFlushed        EventType = "batch_flushed"
	HarvestCompleted    EventType = "harvest_completed"
	Rebalanced          EventType = "rebalanced"
	EmergencyWithdrawal EventType = "emergency_withdrawal"
)

// Event is a single engine event with typed payload data
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Bucket    string      `json:"bucket"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// that cannot keep up has events dropped rather than stalling the engine.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
	log  zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(eventType EventType, bucket string, data interface{}) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Bucket:    bucket,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.log.Warn().
				Str("type", string(eventType)).
				Msg("Subscriber channel full, dropping event")
		}
	}
}

// BatchFlushedData is the payload for BatchFlushed events
type BatchFlushedData struct {
	FlushID      string `json:"flush_id"`
	Kind         string `json:"kind"` // deposit or withdraw
	Participants int    `json:"participants"`
	TotalAmount  int64  `json:"total_amount"`
	TotalShares  int64  `json:"total_shares"`
	Dust         int64  `json:"dust"`
}

// HarvestCompletedData is the payload for HarvestCompleted events
type HarvestCompletedData struct {
	TotalEarned int64 `json:"total_earned"`
	Fee         int64 `json:"fee"`
	Reinvested  int64 `json:"reinvested"`
}

// RebalancedData is the payload for Rebalanced events
type RebalancedData struct {
	Moved int64 `json:"moved"`
}
