package editor

import (
	"log/slog"
	"sync/atomic"

	"collabdocs/internal/room"
	"collabdocs/internal/session"
)

// Hub owns all connected clients and the destination subscription
// tables, and fans published payloads out to subscribers. All table
// mutation happens on the run goroutine; other goroutines talk to it
// through channels only.
type Hub struct {
	logger *slog.Logger

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan frame
	done        chan struct{}

	clients     map[*Client]bool
	subscribers map[string]map[*Client]bool

	count atomic.Int64

	// onDisconnect is invoked off the membership tables once a client is
	// fully unregistered; the service points it at room cleanup.
	onDisconnect func(userID string)
}

type subscription struct {
	client      *Client
	destination string
}

func newHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:      logger,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan frame, 64),
		done:        make(chan struct{}),
		clients:     make(map[*Client]bool),
		subscribers: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug("client registered", "userId", client.userID, "clients", len(h.clients))

		case client := <-h.unregister:
			h.handleUnregister(client)

		case sub := <-h.subscribe:
			if !h.clients[sub.client] {
				continue
			}
			if h.subscribers[sub.destination] == nil {
				h.subscribers[sub.destination] = make(map[*Client]bool)
			}
			h.subscribers[sub.destination][sub.client] = true
			sub.client.subs[sub.destination] = true

		case sub := <-h.unsubscribe:
			h.dropSubscription(sub.client, sub.destination)

		case f := <-h.publish:
			h.fanout(f)

		case <-h.done:
			for client := range h.clients {
				close(client.send)
				client.conn.Close()
			}
			h.clients = make(map[*Client]bool)
			h.subscribers = make(map[string]map[*Client]bool)
			h.count.Store(0)
			return
		}
	}
}

func (h *Hub) handleUnregister(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	for dest := range client.subs {
		h.dropSubscription(client, dest)
	}
	close(client.send)
	h.count.Store(int64(len(h.clients)))
	h.logger.Debug("client unregistered", "userId", client.userID, "clients", len(h.clients))

	if h.onDisconnect != nil {
		go h.onDisconnect(client.userID)
	}
}

func (h *Hub) dropSubscription(client *Client, destination string) {
	delete(client.subs, destination)
	subs := h.subscribers[destination]
	if subs == nil {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscribers, destination)
	}
}

// fanout delivers one published frame to every subscriber of its
// destination. Clients whose send buffer is full are dropped; a slow
// reader must not stall the document.
func (h *Hub) fanout(f frame) {
	subs := h.subscribers[f.Destination]
	if len(subs) == 0 {
		return
	}
	data, err := encode(f)
	if err != nil {
		h.logger.Error("marshal broadcast", "destination", f.Destination, "error", err)
		return
	}
	for client := range subs {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping connection", "userId", client.userID)
			h.handleUnregister(client)
		}
	}
}

// Publish queues a payload for every subscriber of a destination. Safe
// from any goroutine.
func (h *Hub) Publish(destination string, payload any) {
	select {
	case h.publish <- frame{Destination: destination, Payload: payload}:
	case <-h.done:
	}
}

// BroadcastOperation delivers an applied operation on the operations
// destination and, for clients on the legacy path, the bare document
// destination.
func (h *Hub) BroadcastOperation(documentID string, msg session.BroadcastMessage) {
	h.Publish(room.DestOperations(documentID), msg)
	h.Publish(room.DestDocument(documentID), msg)
}

func (h *Hub) registerClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addSubscription(c *Client, destination string) {
	select {
	case h.subscribe <- subscription{client: c, destination: destination}:
	case <-h.done:
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Shutdown closes every connection and stops the run loop.
func (h *Hub) Shutdown() {
	close(h.done)
}

var _ room.Publisher = (*Hub)(nil)
var _ session.Broadcaster = (*Hub)(nil)
