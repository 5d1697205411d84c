package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/messages"
	"github.com/verdant-game/verdant/pkg/queue"
)

const (
	// OutboxCapacity bounds the pending messages per connection.
	OutboxCapacity = 256
)

// Sink is the write side of one connection.
type Sink interface {
	WriteMessage(ctx context.Context, msg *messages.Message) error
}

type outboxItem struct {
	msg       *messages.Message
	droppable bool
}

type subscriber struct {
	id     uuid.UUID
	sink   Sink
	outbox *queue.Queue
}

// Broadcaster fans events out to registered connections. Delivery is
// best-effort and never blocks the publisher: each connection has a
// bounded outbox drained by its own writer goroutine, and on overflow
// the oldest unreliable message is evicted. Messages published from a
// single goroutine reach every recipient in publish order.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uuid.UUID]*subscriber),
	}
}

// Register adds a connection and starts its writer goroutine. The writer
// stops when the connection is unregistered.
func (b *Broadcaster) Register(ctx context.Context, connectionID uuid.UUID, sink Sink) {
	sub := &subscriber{
		id:   connectionID,
		sink: sink,
		outbox: queue.NewQueue(OutboxCapacity, func(item interface{}) bool {
			return item.(outboxItem).droppable
		}),
	}

	b.mu.Lock()
	b.subs[connectionID] = sub
	b.mu.Unlock()

	go sub.writeLoop(ctx)
}

// Unregister removes a connection and stops its writer. Pending messages
// are discarded. Unregistering twice is a no-op.
func (b *Broadcaster) Unregister(connectionID uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[connectionID]
	if ok {
		delete(b.subs, connectionID)
	}
	b.mu.Unlock()

	if ok {
		sub.outbox.Close()
	}
}

// Count returns the number of registered connections.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// BroadcastAll delivers a message to every registered connection.
func (b *Broadcaster) BroadcastAll(msg *messages.Message) {
	b.publish(msg, false, nil)
}

// BroadcastAllUnreliable delivers to every connection but allows the
// message to be evicted from a full outbox.
func (b *Broadcaster) BroadcastAllUnreliable(msg *messages.Message) {
	b.publish(msg, true, nil)
}

// BroadcastExcept delivers to every connection except the sender.
func (b *Broadcaster) BroadcastExcept(sender uuid.UUID, msg *messages.Message) {
	b.publish(msg, false, &sender)
}

// BroadcastExceptUnreliable delivers to every connection except the
// sender, allowing eviction from a full outbox.
func (b *Broadcaster) BroadcastExceptUnreliable(sender uuid.UUID, msg *messages.Message) {
	b.publish(msg, true, &sender)
}

// Unicast delivers a message to a single connection. Messages to a
// connection that is no longer registered are silently dropped.
func (b *Broadcaster) Unicast(connectionID uuid.UUID, msg *messages.Message) {
	b.mu.RLock()
	sub, ok := b.subs[connectionID]
	b.mu.RUnlock()

	if !ok {
		log.Trace("Dropping %s unicast to unregistered connection %s", msg.Type, connectionID)
		return
	}
	sub.enqueue(msg, false)
}

// publish snapshots the recipient set under the read lock and enqueues
// outside it, so a slow connection never stalls the others.
func (b *Broadcaster) publish(msg *messages.Message, droppable bool, except *uuid.UUID) {
	b.mu.RLock()
	recipients := make([]*subscriber, 0, len(b.subs))
	for id, sub := range b.subs {
		if except != nil && id == *except {
			continue
		}
		recipients = append(recipients, sub)
	}
	b.mu.RUnlock()

	for _, sub := range recipients {
		sub.enqueue(msg, droppable)
	}
}

func (s *subscriber) enqueue(msg *messages.Message, droppable bool) {
	if dropped := s.outbox.Push(outboxItem{msg: msg, droppable: droppable}); dropped {
		log.Trace("Outbox for connection %s overflowed, evicted oldest unreliable message", s.id)
	}
}

func (s *subscriber) writeLoop(ctx context.Context) {
	for {
		item, ok := s.outbox.Pop()
		if !ok {
			return
		}
		if err := s.sink.WriteMessage(ctx, item.(outboxItem).msg); err != nil {
			// The read side observes the same failure and tears the
			// session down; nothing to do here but note it.
			log.Debug("Failed to write message to connection %s: %v", s.id, err)
		}
	}
}
