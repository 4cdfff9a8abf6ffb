package realtime

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/app/model"
	"github.com/Sorok-Dva/project42-urlAnalytics-sub000/internal/infra/prometheus"
)

// ErrInvalidRoom rejects room identifiers outside the three known scopes.
var ErrInvalidRoom = errors.New("invalid room identifier")

// Room identifier helpers for the three fan-out scopes.
func RoomWorkspace(id string) string { return "workspace:" + id }
func RoomLink(id string) string      { return "link:" + id }
func RoomProject(id string) string   { return "project:" + id }

// ValidateRoom checks a subscriber-supplied room identifier.
func ValidateRoom(room string) error {
	scope, id, ok := strings.Cut(room, ":")
	if !ok || id == "" {
		return ErrInvalidRoom
	}
	switch scope {
	case "workspace", "link", "project":
		return nil
	}
	return ErrInvalidRoom
}

// EventMessage is the push payload: enough to tell the dashboard something
// happened. Clients re-query the aggregator for data; realtime delivery is
// a freshness hint, never the data source.
type EventMessage struct {
	LinkID      string          `json:"linkId"`
	ProjectID   string          `json:"projectId"`
	WorkspaceID string          `json:"workspaceId"`
	EventType   model.EventType `json:"eventType"`
	Event       struct {
		OccurredAt time.Time `json:"occurredAt"`
	} `json:"event"`
}

// Envelope wraps a message with its wire type.
type Envelope struct {
	Type string       `json:"type"`
	Data EventMessage `json:"data"`
}

const eventMessageType = "analytics:event"

// Subscriber is one connected dashboard. Messages arrive on C; the channel
// closes when the hub drops the subscriber.
type Subscriber struct {
	id    string
	ch    chan Envelope
	rooms map[string]struct{}
}

// C is the subscriber's receive channel.
func (s *Subscriber) C() <-chan Envelope { return s.ch }

// Hub is the explicit connection manager for realtime fan-out. It owns no
// global state: callers create it, subscribers join and leave rooms on it,
// and Broadcast multicasts without ever blocking the ingestion path.
type Hub struct {
	logger  *zap.Logger
	bufSize int

	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	subs  map[*Subscriber]struct{}
}

// NewHub creates a hub; bufSize is the per-subscriber outbound queue.
func NewHub(logger *zap.Logger, bufSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		logger:  logger,
		bufSize: bufSize,
		rooms:   make(map[string]map[*Subscriber]struct{}),
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new connection with no room memberships yet.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		id:    uuid.New().String(),
		ch:    make(chan Envelope, h.bufSize),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Join adds the subscriber to each valid room; invalid identifiers error
// without joining anything.
func (h *Hub) Join(s *Subscriber, rooms []string) error {
	for _, room := range rooms {
		if err := ValidateRoom(room); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, alive := h.subs[s]; !alive {
		return nil
	}
	for _, room := range rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Subscriber]struct{})
			h.rooms[room] = members
		}
		members[s] = struct{}{}
		s.rooms[room] = struct{}{}
	}
	return nil
}

// Leave removes the subscriber from the given rooms.
func (h *Hub) Leave(s *Subscriber, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range rooms {
		h.detachLocked(s, room)
	}
}

// Unsubscribe removes the subscriber from every room and closes its
// channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

// Broadcast multicasts an ingested event to every room it scopes to, at
// most once per subscriber. Sends never block: a subscriber whose buffer is
// full is dropped on the spot rather than allowed to backpressure
// ingestion.
func (h *Hub) Broadcast(event *model.AnalyticsEvent) {
	env := Envelope{Type: eventMessageType, Data: EventMessage{
		LinkID:      event.LinkID,
		ProjectID:   event.ProjectID,
		WorkspaceID: event.WorkspaceID,
		EventType:   event.EventType,
	}}
	env.Data.Event.OccurredAt = event.OccurredAt

	targets := []string{
		RoomWorkspace(event.WorkspaceID),
		RoomLink(event.LinkID),
		RoomProject(event.ProjectID),
	}

	h.mu.RLock()
	receivers := make(map[*Subscriber]struct{})
	for _, room := range targets {
		for s := range h.rooms[room] {
			receivers[s] = struct{}{}
		}
	}

	var stalled []*Subscriber
	for s := range receivers {
		select {
		case s.ch <- env:
			prometheus.FanoutDelivered.Inc()
		default:
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}
	h.mu.Lock()
	for _, s := range stalled {
		if _, alive := h.subs[s]; alive {
			prometheus.FanoutDropped.Inc()
			h.logger.Warn("dropping stalled realtime subscriber", zap.String("subscriber", s.id))
			h.dropLocked(s)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) detachLocked(s *Subscriber, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(s.rooms, room)
}

func (h *Hub) dropLocked(s *Subscriber) {
	if _, alive := h.subs[s]; !alive {
		return
	}
	for room := range s.rooms {
		h.detachLocked(s, room)
	}
	delete(h.subs, s)
	close(s.ch)
}
