package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	applog "viztap/internal/log"
)

// WebSocketHub implements the Transport interface by broadcasting each
// result as JSON to every connected WebSocket client.
type WebSocketHub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	listener  net.Listener
	server    *http.Server
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketHub binds addr and starts serving the /ws endpoint. The
// returned hub is already accepting clients.
func NewWebSocketHub(addr string) (*WebSocketHub, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind websocket address %q: %w", addr, err)
	}

	hub := &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Visualizers connect from arbitrary origins.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		listener:  listener,
		done:      make(chan struct{}),
	}
	hub.start()
	return hub, nil
}

// Addr returns the address the hub is listening on, useful when the
// configured address picked an ephemeral port.
func (h *WebSocketHub) Addr() string {
	return h.listener.Addr().String()
}

// start begins serving connections and draining the broadcast queue.
func (h *WebSocketHub) start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	h.server = &http.Server{Handler: mux}

	go func() {
		applog.Infof("WebSocketHub: Serving /ws on %s", h.Addr())
		if err := h.server.Serve(h.listener); err != nil && err != http.ErrServerClosed {
			applog.Errorf("WebSocketHub: Server error: %v", err)
		}
	}()

	go h.handleBroadcasts()
}

// handleWebSocket upgrades HTTP connections and registers the client.
func (h *WebSocketHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketHub: Upgrade error: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientsMu.Unlock()
	applog.Infof("WebSocketHub: Client connected, total: %d", total)

	// Drain inbound frames so pings are answered and closes are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.clientsMu.Lock()
		delete(h.clients, conn)
		total := len(h.clients)
		h.clientsMu.Unlock()
		conn.Close()
		applog.Infof("WebSocketHub: Client disconnected, total: %d", total)
	}()
}

// handleBroadcasts fans queued results out to all connected clients.
func (h *WebSocketHub) handleBroadcasts() {
	for {
		select {
		case data := <-h.broadcast:
			h.clientsMu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(data); err != nil {
					applog.Warnf("WebSocketHub: Dropping client after write error: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.clientsMu.Unlock()
		case <-h.done:
			return
		}
	}
}

// Send queues data for broadcast. When the queue is full the frame is
// dropped; visualization frames are disposable.
func (h *WebSocketHub) Send(data any) error {
	select {
	case h.broadcast <- data:
	default:
	}
	return nil
}

// Close disconnects all clients and shuts the server down.
func (h *WebSocketHub) Close() error {
	var err error
	h.closeOnce.Do(func() {
		applog.Infof("WebSocketHub: Closing")
		close(h.done)

		h.clientsMu.Lock()
		for client := range h.clients {
			client.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()

		err = h.server.Close()
	})
	return err
}

// Ensure WebSocketHub satisfies the interface at compile time.
var _ Transport = (*WebSocketHub)(nil)
