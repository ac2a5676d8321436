// Package stream fans order status events out to live subscribers and
// serves them as Server-Sent Events.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shamank/ivxp-sdk-go/pkg/model"
)

// EventType is the SSE event name.
type EventType string

const (
	EventStatus    EventType = "status_update"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Terminal reports whether the stream of an order ends after t.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Event is one message on an order stream.
type Event struct {
	Type        EventType         `json:"type"`
	OrderID     string            `json:"order_id"`
	Status      model.OrderStatus `json:"status,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	Message     string            `json:"message,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// StatusEvent builds the event published for an order entering status.
// Delivered is reported as completed and delivery_failed as failed, so
// subscribers stop on either.
func StatusEvent(orderID string, status model.OrderStatus, contentHash string) Event {
	typ := EventStatus
	switch status {
	case model.StatusDelivered:
		typ = EventCompleted
	case model.StatusDeliveryFailed:
		typ = EventFailed
	}
	return Event{
		Type:        typ,
		OrderID:     orderID,
		Status:      status,
		ContentHash: contentHash,
		Timestamp:   time.Now().UTC(),
	}
}

const (
	// DefaultHeartbeat is the keep-alive interval of ServeSSE.
	DefaultHeartbeat = 15 * time.Second
	outboundBuffer   = 16
)

// Subscriber receives the events of one order. Events is closed when the
// order reaches a terminal event or the subscriber is removed.
type Subscriber struct {
	ID      uuid.UUID
	OrderID string
	Events  <-chan Event

	out    chan Event
	closed bool
}

// Hub is a per-order subscriber registry. It is safe for concurrent use.
type Hub struct {
	Heartbeat time.Duration

	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewHub returns a hub with the given heartbeat interval.
func NewHub(heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Hub{Heartbeat: heartbeat, subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a subscriber for orderID. The returned function
// unsubscribes it and may be called more than once.
func (h *Hub) Subscribe(orderID string) (*Subscriber, func()) {
	out := make(chan Event, outboundBuffer)
	s := &Subscriber{ID: uuid.New(), OrderID: orderID, Events: out, out: out}

	h.mu.Lock()
	set, ok := h.subs[orderID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[orderID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	zap.L().Debug("stream subscriber added", zap.String("order_id", orderID), zap.Stringer("subscriber", s.ID))
	return s, func() { h.remove(s) }
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.OrderID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.OrderID)
		}
	}
	h.closeLocked(s)
}

func (h *Hub) closeLocked(s *Subscriber) {
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// Push delivers ev to every current subscriber of orderID. A subscriber with
// a full buffer misses the event. Terminal events close the order's
// subscribers after delivery.
func (h *Hub) Push(orderID string, ev Event) {
	if ev.OrderID == "" {
		ev.OrderID = orderID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if !ev.Type.Terminal() {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for s := range h.subs[orderID] {
			h.send(s, ev)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[orderID] {
		h.send(s, ev)
		h.closeLocked(s)
	}
	delete(h.subs, orderID)
}

func (h *Hub) send(s *Subscriber, ev Event) {
	select {
	case s.out <- ev:
	default:
		zap.L().Warn("dropping stream event; subscriber buffer full",
			zap.String("order_id", s.OrderID), zap.Stringer("subscriber", s.ID), zap.String("type", string(ev.Type)))
	}
}

// Count returns the number of live subscribers of orderID.
func (h *Hub) Count(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orderID])
}

// Close ends every stream.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for s := range set {
			h.closeLocked(s)
		}
		delete(h.subs, id)
	}
}

// ServeSSE streams the events of orderID to w until a terminal event, the
// client disconnecting, or the hub closing. A ": connected" comment is
// written before anything else. If snapshot is non-nil it is called after
// subscribing and its event, when present, is sent first; a terminal
// snapshot ends the stream immediately.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, orderID string, snapshot func() (Event, bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub, unsubscribe := h.Subscribe(orderID)
	defer unsubscribe()

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	if snapshot != nil {
		if ev, ok := snapshot(); ok {
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type.Terminal() {
				return
			}
		}
	}

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			zap.L().Debug("stream client disconnected", zap.String("order_id", orderID), zap.Error(ctx.Err()))
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				zap.L().Warn("failed to write stream event", zap.String("order_id", orderID), zap.Error(err))
				return
			}
			flusher.Flush()
			if ev.Type.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
