package ws

import "sync/atomic"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages incident event subscriptions by tenant ID.
// Map state is owned by the run goroutine.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	dropped   atomic.Uint64
}

// message couples payload with tenant identifier.
type message struct {
	tenantID string
	payload  []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	tenantID string
	client   Subscriber
}

const defaultEventBuffer = 100

// NewHub creates an initialized Hub. buffer caps pending broadcasts before
// events are dropped; non-positive values use the default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.tenantID]; !ok {
				h.clients[sub.tenantID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.tenantID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.tenantID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.tenantID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.tenantID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.tenantID)
				}
			}
		}
	}
}

// Register adds a client to a tenant's incident stream.
func (h *Hub) Register(tenantID string, client Subscriber) {
	h.register <- subscription{tenantID: tenantID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(tenantID string, client Subscriber) {
	h.unreg <- subscription{tenantID: tenantID, client: client}
}

// Broadcast queues payload for all clients watching the tenant. It never
// blocks the publisher: when the buffer is full (a stuck subscriber holding
// up the run loop) the event is dropped and counted. The operator stream is
// best-effort; the send pipeline is not.
func (h *Hub) Broadcast(tenantID string, payload []byte) {
	select {
	case h.broadcast <- message{tenantID: tenantID, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
