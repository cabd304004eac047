package websocket

import (
	"sync"

	"github.com/lithammer/shortuuid/v4"
)

// Hub fans a message out to a set of registered Sessions, generalizing the
// teacher's map[*Conn]bool registry (coregx-stream's websocket/hub.go) to
// carry a correlatable ID per client for logging, grounded in
// tzrikka-timpani's use of shortuuid for the same purpose.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Session
	logger  Logger

	register   chan hubRegistration
	unregister chan string
	broadcast  chan hubBroadcast
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

type hubRegistration struct {
	id      string
	session *Session
}

type hubBroadcast struct {
	kind Opcode
	data []byte
}

// NewHub constructs a Hub. Call Run in a goroutine before registering
// clients.
func NewHub(logger *Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Session),
		logger:     loggerOrNop(logger),
		register:   make(chan hubRegistration),
		unregister: make(chan string),
		broadcast:  make(chan hubBroadcast, 256),
		done:       make(chan struct{}),
	}
}

// Run is the Hub's single-threaded event loop; it owns h.clients so
// registration, unregistration, and broadcast never race.
func (h *Hub) Run() {
	h.wg.Add(1)
	defer h.wg.Done()

	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.id] = reg.session
			h.mu.Unlock()
			h.logger.Debug().Str("client", reg.id).Int("total", h.ClientCount()).Msg("websocket: hub registered client")

		case id := <-h.unregister:
			h.mu.Lock()
			session, ok := h.clients[id]
			delete(h.clients, id)
			h.mu.Unlock()
			if ok {
				_ = session.Close(nil)
				h.logger.Debug().Str("client", id).Msg("websocket: hub unregistered client")
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := make(map[string]*Session, len(h.clients))
			for id, s := range h.clients {
				targets[id] = s
			}
			h.mu.RUnlock()

			for id, session := range targets {
				if err := session.Write(msg.kind, msg.data); err != nil {
					h.logger.Warn().Str("client", id).Err(err).Msg("websocket: broadcast write failed, dropping client")
					h.mu.Lock()
					delete(h.clients, id)
					h.mu.Unlock()
					_ = session.Close(nil)
					continue
				}
				_ = session.Flush()
			}

		case <-h.done:
			return
		}
	}
}

// Register adds session under a freshly generated shortuuid ID and returns
// it, so the caller can correlate later log lines or call Unregister.
func (h *Hub) Register(session *Session) string {
	id := shortuuid.New()
	h.register <- hubRegistration{id: id, session: session}
	return id
}

// Unregister closes and removes the client with the given ID. Safe to call
// more than once; unknown IDs are a no-op.
func (h *Hub) Unregister(id string) {
	h.unregister <- id
}

// Broadcast queues a message for delivery to every currently registered
// client; delivery happens in Run's goroutine. The queue holds 256
// messages; when it is full, Broadcast blocks until Run takes one.
func (h *Hub) Broadcast(kind Opcode, data []byte) {
	h.broadcast <- hubBroadcast{kind: kind, data: data}
}

// BroadcastText is a convenience wrapper around Broadcast for text messages.
func (h *Hub) BroadcastText(text string) { h.Broadcast(OpcodeText, []byte(text)) }

// ClientCount returns the number of currently registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the event loop and closes every registered client's Session.
// Safe to call more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		for id, session := range h.clients {
			_ = session.Close(nil)
			h.logger.Debug().Str("client", id).Msg("websocket: hub closing client on shutdown")
		}
		h.clients = make(map[string]*Session)
		h.mu.Unlock()
	})
}
