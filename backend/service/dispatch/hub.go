package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

const subscriberQueueSize = 100

// Subscriber is one connected overlay stream. Queue is read by the
// handler goroutine and written by Broadcast; it is closed only by
// Unsubscribe.
type Subscriber struct {
	ID    int64
	Queue chan []byte
}

// Hub fans broadcast payloads out to every subscriber. A slow consumer
// loses its own oldest queued payloads; it never slows anyone else down.
type Hub struct {
	mu      sync.Mutex
	nextID  int64
	subs    map[int64]*Subscriber
	sent    atomic.Int64
	lastMsg atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]*Subscriber)}
}

func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscriber{
		ID:    h.nextID,
		Queue: make(chan []byte, subscriberQueueSize),
	}
	h.subs[sub.ID] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		close(sub.Queue)
	}
	h.mu.Unlock()
}

// Broadcast enqueues payload to every subscriber, dropping the oldest
// queued payload of any subscriber whose queue is full.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		for {
			select {
			case sub.Queue <- payload:
			default:
				select {
				case <-sub.Queue:
				default:
				}
				continue
			}
			break
		}
	}
	h.sent.Add(1)
	h.lastMsg.Store(time.Now().UnixMilli())
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stats reports total broadcasts and the last broadcast time in unix
// milliseconds (0 when nothing was sent yet).
func (h *Hub) Stats() (sent int64, lastMsg int64) {
	return h.sent.Load(), h.lastMsg.Load()
}

// CloseAll deregisters every subscriber, ending their streams.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.Queue)
	}
	h.mu.Unlock()
}
