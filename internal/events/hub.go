package events

import "sync"

const clientBuffer = 16

// Hub fans events out to SSE subscribers. Slow subscribers miss events rather than
// blocking producers.
type Hub struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	last    map[string]string // latest event per type, replayed to new subscribers
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan string]struct{}),
		last:    make(map[string]string),
	}
}

// Subscribe registers a client and queues the most recent event of each given type.
func (h *Hub) Subscribe(replay ...string) chan string {
	ch := make(chan string, clientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
	for _, typ := range replay {
		if evt, ok := h.last[typ]; ok {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; !ok {
		return
	}
	delete(h.clients, ch)
	close(ch)
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(evt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if typ := typeOf(evt); typ != "" {
		h.last[typ] = evt
	}
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
			// drop if slow
		}
	}
}
