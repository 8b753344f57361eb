package stream

import (
	"context"
	"sync"
	"time"

	"crewdesk.org/internal/tracker"
)

// MessageEvent describes a chat message change pushed to thread subscribers.
type MessageEvent struct {
	Type      string          `json:"type"` // "posted", "edited", "deleted"
	ThreadKey string          `json:"thread_key"`
	Message   tracker.Message `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

type subscriber struct {
	threadKey string
	ch        chan MessageEvent
}

// Stream fan-outs message events to all active thread subscribers
// (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one thread and returns a channel which
// will receive events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, threadKey string) <-chan MessageEvent {
	ch := make(chan MessageEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{threadKey: threadKey, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to the thread's subscribers. Deleted messages
// are redacted before delivery.
func (s *Stream) Publish(evt MessageEvent) {
	evt.Message = evt.Message.Redacted()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.threadKey != evt.ThreadKey {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
