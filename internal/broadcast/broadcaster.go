// ABOUTME: In-memory fan-out of the conversation event stream to all viewers
// ABOUTME: Serializes each event once and delivers it to every live subscriber

package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glasshouse-dev/glasshouse/internal/session"
)

// subscriberBufferSize is the channel buffer for each subscriber. A
// subscriber that falls this far behind is considered unwritable and is
// dropped from the registry.
const subscriberBufferSize = 64

// Broadcaster fans the single conversation-wide event stream out to N
// independent subscribers. Every subscriber receives every event published
// after it subscribes, in publish order. There is no replay: a late
// subscriber misses earlier events by design.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan []byte
	logger      *slog.Logger
	closed      bool
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan []byte),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a new subscriber and returns its channel of serialized
// event frames plus a subscription id. The first frame delivered is the
// synthetic connected event carrying the server timestamp. The subscription
// is cleaned up automatically when ctx is cancelled (the transport-level
// disconnect signal).
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan []byte, string) {
	subID := uuid.New().String()
	ch := make(chan []byte, subscriberBufferSize)

	if data, err := json.Marshal(session.NewConnectedEvent(time.Now())); err == nil {
		ch <- data
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish serializes the event and attempts delivery to every registered
// subscriber. Delivery is best-effort per subscriber and never blocks the
// publisher: a subscriber whose channel cannot accept the frame is removed
// from the registry as a side effect of the failed attempt.
func (b *Broadcaster) Publish(event *session.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to serialize event", "type", string(event.Type), "error", err)
		return
	}

	b.mu.RLock()
	type target struct {
		id string
		ch chan []byte
	}
	targets := make([]target, 0, len(b.subscribers))
	for id, ch := range b.subscribers {
		targets = append(targets, target{id, ch})
	}
	b.mu.RUnlock()

	var stale []string
	for _, t := range targets {
		select {
		case t.ch <- data:
		default:
			stale = append(stale, t.id)
		}
	}

	for _, id := range stale {
		b.logger.Debug("removing unwritable subscriber", "sub_id", id, "event_type", string(event.Type))
		b.Unsubscribe(id)
	}
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once for the same id.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// SubscriberCount reports the number of live subscribers. Diagnostics only —
// no control decision depends on it.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true
	b.logger.Debug("broadcaster closed")
}
