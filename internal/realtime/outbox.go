// ABOUTME: Per-connection outbound queues with non-blocking fan-out
// ABOUTME: A slow connection drops events instead of stalling the room

package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// outboxSize is the buffer of each connection's queue.
const outboxSize = 64

// Outboxes holds one buffered channel per connection. Sends never block:
// an event for a connection whose buffer is full is dropped.
type Outboxes struct {
	mu     sync.RWMutex
	boxes  map[string]chan Event
	logger *slog.Logger
}

// NewOutboxes creates an empty set. Pass nil logger for default.
func NewOutboxes(logger *slog.Logger) *Outboxes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outboxes{
		boxes:  make(map[string]chan Event),
		logger: logger.With("component", "outboxes"),
	}
}

// Open creates the queue for connID. It is closed by Close, CloseAll, or
// when ctx is cancelled. Opening an id that is already open returns the
// existing queue.
func (o *Outboxes) Open(ctx context.Context, connID string) <-chan Event {
	o.mu.Lock()
	ch, ok := o.boxes[connID]
	if !ok {
		ch = make(chan Event, outboxSize)
		o.boxes[connID] = ch
	}
	o.mu.Unlock()

	if !ok {
		go func() {
			<-ctx.Done()
			o.Close(connID)
		}()
	}
	return ch
}

// Send queues ev for one connection. It reports false if the connection is
// unknown or its buffer is full.
func (o *Outboxes) Send(connID string, ev Event) bool {
	// The read lock is held across the send so Close cannot close the
	// channel underneath it.
	o.mu.RLock()
	defer o.mu.RUnlock()

	ch, ok := o.boxes[connID]
	if !ok {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		o.logger.Debug("dropped event for slow connection", "conn_id", connID, "event", ev.Name)
		return false
	}
}

// Publish queues ev for each connection and returns how many accepted it.
func (o *Outboxes) Publish(connIDs []string, ev Event) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	sent := 0
	for _, id := range connIDs {
		ch, ok := o.boxes[id]
		if !ok {
			continue
		}
		select {
		case ch <- ev:
			sent++
		default:
			o.logger.Debug("dropped event for slow connection", "conn_id", id, "event", ev.Name)
		}
	}
	return sent
}

// Close removes a connection's queue and closes its channel.
func (o *Outboxes) Close(connID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch, ok := o.boxes[connID]
	if !ok {
		return
	}
	delete(o.boxes, connID)
	close(ch)
	o.logger.Debug("outbox closed", "conn_id", connID)
}

// CloseAll closes every queue.
func (o *Outboxes) CloseAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for id, ch := range o.boxes {
		close(ch)
		delete(o.boxes, id)
	}
}

// Len returns the number of open queues.
func (o *Outboxes) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.boxes)
}
