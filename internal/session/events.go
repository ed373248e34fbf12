package session

import (
	"sync"

	"chatd/pkg/types"
)

const defaultBacklog = 256

// Queue fans UIEvents out to display subscribers. Publish never blocks: when
// a subscriber's buffer is full its oldest pending event is discarded to make
// room, and events published while nobody is listening are kept in a bounded
// backlog handed to the next subscriber. The inference task only ever talks
// to displays through here.
type Queue struct {
	mu      sync.Mutex
	backlog []types.UIEvent
	max     int
	subs    map[uint64]chan types.UIEvent
	nextID  uint64
	closed  bool
}

// NewQueue builds a queue keeping at most max backlog events (<=0 selects the
// default of 256).
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = defaultBacklog
	}
	return &Queue{max: max, subs: make(map[uint64]chan types.UIEvent)}
}

// Publish delivers ev to every subscriber, or stashes it in the backlog when
// there are none.
func (q *Queue) Publish(ev types.UIEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if len(q.subs) == 0 {
		q.backlog = append(q.backlog, ev)
		if len(q.backlog) > q.max {
			q.backlog = q.backlog[1:]
			eventsDroppedTotal.Inc()
		}
		return
	}
	for _, ch := range q.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full subscriber: drop its oldest pending event and retry once.
		select {
		case <-ch:
			eventsDroppedTotal.Inc()
		default:
		}
		select {
		case ch <- ev:
		default:
			eventsDroppedTotal.Inc()
		}
	}
}

// Subscribe registers a new display consumer. The first subscriber after a
// quiet period receives the buffered backlog before live events. The returned
// cancel func must be called when the consumer goes away; the channel is
// closed either by cancel or by Close.
func (q *Queue) Subscribe() (<-chan types.UIEvent, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf := q.max
	if n := len(q.backlog); n > buf {
		buf = n
	}
	ch := make(chan types.UIEvent, buf)
	for _, ev := range q.backlog {
		ch <- ev
	}
	q.backlog = nil

	if q.closed {
		close(ch)
		return ch, func() {}
	}

	id := q.nextID
	q.nextID++
	q.subs[id] = ch

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if c, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close shuts the queue down and closes all subscriber channels.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
}
