package websocket

import (
	"context"
	"sync"
	"time"

	"ytbatch/logger"
	"ytbatch/services"
	"ytbatch/types"
)

var hubLog = logger.Get("WebSocket")

// AllJobs is the subscription key for clients that want every update
const AllJobs = "all"

// Hub maintains WebSocket subscribers and relays orchestrator events to them
type Hub interface {
	services.Observer

	Run(ctx context.Context)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	ClientCount() int
}

// hub maintains the set of active clients and broadcasts messages to them
type hub struct {
	// Registered clients mapped by job ID
	clients map[string]map[*Client]bool

	// Broadcast channel for sending messages to subscribed clients
	broadcast chan types.ProgressMessage

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.ProgressMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It returns when ctx is done.
func (h *hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.mu.Unlock()
			hubLog.Emit(logger.NEW, "client subscribed to %s\n", client.jobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client.jobID, client)
			h.mu.Unlock()
			hubLog.Emit(logger.REMOVE, "client unsubscribed from %s\n", client.jobID)

		case message := <-h.broadcast:
			h.mu.Lock()
			if message.JobID != "" {
				h.deliver(message.JobID, message)
			}
			h.deliver(AllJobs, message)
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for key, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, key)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver sends message to every client subscribed under key. Clients whose
// buffer is full are dropped. Callers hold h.mu.
func (h *hub) deliver(key string, message types.ProgressMessage) {
	for client := range h.clients[key] {
		select {
		case client.send <- message:
		default:
			hubLog.Emit(logger.WARNING, "client for %s is too slow, disconnecting\n", key)
			h.remove(key, client)
		}
	}
}

func (h *hub) remove(key string, client *Client) {
	clients, ok := h.clients[key]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

func (h *hub) publish(message types.ProgressMessage) {
	message.Timestamp = time.Now()

	select {
	case h.broadcast <- message:
	default:
		hubLog.Emit(logger.WARNING, "broadcast channel full, dropping %s message for job %s\n", message.Type, message.JobID)
	}
}

func (h *hub) OnProgress(p types.JobProgress) {
	h.publish(types.ProgressMessage{
		JobID:      p.JobID,
		Type:       types.MessageProgress,
		ResourceID: p.ResourceID,
		Phase:      p.Snapshot.Phase,
		Progress:   p.Snapshot.Percent(),
		BytesDone:  p.Snapshot.BytesDone,
		BytesTotal: p.Snapshot.BytesTotal,
		Speed:      services.FormatRate(p.Snapshot.Rate),
		ETASeconds: p.Snapshot.ETASeconds,
		Index:      p.Index,
		Total:      p.Total,
	})
}

func (h *hub) OnStatus(jobID, message string) {
	h.publish(types.ProgressMessage{
		JobID:   jobID,
		Type:    types.MessageStatus,
		Message: message,
	})
}

func (h *hub) OnJobError(f types.JobFailure) {
	h.publish(types.ProgressMessage{
		JobID:      f.JobID,
		Type:       types.MessageError,
		ResourceID: f.ResourceID,
		Message:    f.Message,
	})
}

func (h *hub) OnBatchFinished(summary types.BatchSummary) {
	s := summary
	h.publish(types.ProgressMessage{
		Type:     types.MessageFinished,
		Progress: 100,
		Summary:  &s,
	})
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}
