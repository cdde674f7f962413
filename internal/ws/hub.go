// Package ws streams freshly ingested event records to dashboard clients
// over websocket or SSE.
package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// sendBuffer is the per-subscriber backlog. A subscriber that falls this far
// behind is dropped rather than allowed to stall ingestion.
const sendBuffer = 64

// Hub fans recorded events out to every connected subscriber. Broadcast only
// enqueues: each subscriber has its own buffered queue drained by a write
// pump goroutine, so a slow or stalled consumer never blocks the caller.
// All registry state is owned by the run goroutine.
type Hub struct {
	clients   map[Subscriber]chan []byte
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
}

// NewHub creates a running hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]chan []byte),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			if _, ok := h.clients[client]; ok {
				continue
			}
			queue := make(chan []byte, sendBuffer)
			h.clients[client] = queue
			go h.writePump(client, queue)
		case client := <-h.unreg:
			h.drop(client)
		case payload := <-h.broadcast:
			for client, queue := range h.clients {
				select {
				case queue <- payload:
				default:
					// Queue full: the subscriber cannot keep up.
					h.drop(client)
				}
			}
		}
	}
}

// drop removes a subscriber and closes its queue. Only the run goroutine
// calls this, so a send to the queue can never race the close. Closing the
// client as well unblocks a write pump stalled mid-send on a dead connection.
func (h *Hub) drop(client Subscriber) {
	queue, ok := h.clients[client]
	if !ok {
		return
	}
	delete(h.clients, client)
	close(queue)
	client.Close()
}

// writePump delivers queued payloads to one subscriber. A failed send
// unregisters the subscriber and drains whatever is left in the queue.
func (h *Hub) writePump(client Subscriber, queue chan []byte) {
	defer client.Close()
	for payload := range queue {
		if err := client.Send(payload); err != nil {
			h.Unregister(client)
			for range queue {
			}
			return
		}
	}
}

// Register adds a client to the event stream.
func (h *Hub) Register(client Subscriber) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client Subscriber) {
	h.unreg <- client
}

// Broadcast enqueues one encoded event record for every subscriber. It never
// waits on a subscriber's connection.
func (h *Hub) Broadcast(payload []byte) {
	h.broadcast <- payload
}
