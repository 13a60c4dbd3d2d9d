package stream

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
)

// EventTypeTaskNotification is the event type the calendar client listens for.
const EventTypeTaskNotification = "TASK_NOTIFICATION"

// Event is the payload broadcast when a task reminder fires.
type Event struct {
	Type  string   `json:"type"`
	Task  *TaskRef `json:"task,omitempty"`
	Title string   `json:"title,omitempty"`
	// Message carries the handshake text; reminder events leave it empty.
	Message string `json:"message,omitempty"`
}

// TaskRef is the slice of a task a notification event carries.
type TaskRef struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
	Start string `json:"start"`
}

// viewerBuffer bounds how many undelivered events a single connection may
// queue before further broadcasts are dropped for it.
const viewerBuffer = 16

// Hub fans broadcast events out to every currently connected viewer. There is
// no backlog: a viewer that connects after an event was broadcast never sees
// it.
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]chan []byte
}

func NewHub() *Hub {
	return &Hub{viewers: make(map[string]chan []byte)}
}

// Register adds a viewer and returns its identity plus the channel its events
// arrive on. The caller must Deregister when the connection closes.
func (h *Hub) Register() (string, <-chan []byte) {
	id := uuid.Must(uuid.NewV4()).String()
	ch := make(chan []byte, viewerBuffer)

	h.mu.Lock()
	h.viewers[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Deregister removes a viewer. Safe to call more than once.
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	delete(h.viewers, id)
	h.mu.Unlock()
}

// Broadcast serializes v once and writes it to every registered viewer. A
// viewer with a full buffer misses the event; it never blocks delivery to the
// others. Broadcasting with no viewers connected is a no-op.
func (h *Hub) Broadcast(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Snapshot under the read lock so deregistration during the fan-out
	// cannot disturb iteration.
	h.mu.RLock()
	channels := make([]chan []byte, 0, len(h.viewers))
	for _, ch := range h.viewers {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	for _, ch := range channels {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// ViewerCount reports how many viewers are currently registered.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}
