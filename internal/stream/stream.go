package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"launchpad.org/internal/events"
)

const defaultBuffer = 64

// Stream fan-outs event records to all active subscribers (SSE clients). It
// implements events.Emitter.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	buffer  int
	now     func() time.Time
	dropped atomic.Uint64
}

type subscriber struct {
	ch     chan events.Record
	filter func(events.Record) bool
}

// New initialises an empty stream. buffer sets the per-subscriber queue length.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream{
		subs:   make(map[int]subscriber),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// records accepted by filter (all records when filter is nil). The channel is
// closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, filter func(events.Record) bool) <-chan events.Record {
	ch := make(chan events.Record, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: filter}
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

// Emit converts e into a record and publishes it.
func (s *Stream) Emit(e events.Event) {
	s.Publish(events.NewRecord(e, s.now()))
}

// Publish fan-outs the record to all subscribers.
func (s *Stream) Publish(rec events.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.filter != nil && !sub.filter(rec) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			// Drop when subscriber is slow to avoid blocking the engines.
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// queue was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
