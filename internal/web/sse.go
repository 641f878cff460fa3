package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/coordinator"
)

// SSEClient represents a connected SSE client.
type SSEClient struct {
	ID      string
	Channel chan message
}

type message struct {
	name string
	data []byte
}

// SSEHub manages SSE connections and broadcasts events.
type SSEHub struct {
	clients map[*SSEClient]bool
	mu      sync.RWMutex
	engine  Engine
	log     logrus.FieldLogger
}

// NewSSEHub creates a new SSE hub.
func NewSSEHub(engine Engine, log logrus.FieldLogger) *SSEHub {
	return &SSEHub{
		clients: make(map[*SSEClient]bool),
		engine:  engine,
		log:     log,
	}
}

// Run broadcasts events until the channel is closed.
func (h *SSEHub) Run(events <-chan coordinator.Event) {
	h.log.Info("SSE hub started")
	for event := range events {
		h.broadcast(event)
	}
}

func encode(name string, v any) (message, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return message{}, err
	}
	return message{name: name, data: data}, nil
}

func (h *SSEHub) broadcast(event coordinator.Event) {
	msg, err := encode(coordinator.EventName(event), event)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Channel <- msg:
		default:
			h.log.WithField("client", client.ID).Warn("Dropping message for slow client")
		}
	}
}

// Clients returns the number of connected clients.
func (h *SSEHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *SSEHub) initialState(ctx context.Context) (message, bool) {
	snap, err := h.engine.State(ctx)
	if err != nil {
		return message{}, false
	}
	msg, err := encode("state", snap)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode state")
		return message{}, false
	}
	return msg, true
}

func write(w http.ResponseWriter, msg message) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.name, msg.data)
}

// HandleConnection streams engine events to one client.
func (h *SSEHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &SSEClient{
		ID:      uuid.NewString(),
		Channel: make(chan message, 16),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	log := h.log.WithField("client", client.ID)
	log.Debug("SSE client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		log.Debug("SSE client disconnected")
	}()

	fmt.Fprintf(w, ": connected\n\n")
	if msg, ok := h.initialState(r.Context()); ok {
		write(w, msg)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-client.Channel:
			write(w, msg)
			flusher.Flush()
		}
	}
}
