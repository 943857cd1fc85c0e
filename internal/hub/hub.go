// Package hub implements the realtime fan-out router: an in-memory mapping
// from chamber id to the set of viewer sessions watching it, and the
// WebSocket transport those sessions connect through.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fruitripe.dev/chamber-hub/pkg/metrics"
)

// sessionBuffer is the per-session outbound queue depth. A session that
// falls this far behind starts losing readings rather than stalling the
// room.
const sessionBuffer = 64

// Reading is the normalized telemetry sample fanned out to rooms.
type Reading struct {
	ChamberID   uint      `json:"chamber_id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CO2         float64   `json:"co2"`
	Ethylene    float64   `json:"ethylene"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event is the envelope written to viewer sessions.
type Event struct {
	Event string  `json:"event"`
	Data  Reading `json:"data"`
}

// OwnershipChecker answers whether a chamber belongs to a user. Implemented
// by the store.
type OwnershipChecker interface {
	ChamberOwned(ctx context.Context, chamberID, userID uint) (bool, error)
}

// Session is one connected viewer. Sessions are registered into rooms by
// the Hub and drained by their transport's write loop.
type Session struct {
	// ID identifies the session in logs.
	ID uuid.UUID
	// UserID is the authenticated owner of the session.
	UserID uint

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewSession creates a session for an authenticated user.
func NewSession(userID uint) *Session {
	return &Session{
		ID:     uuid.New(),
		UserID: userID,
		send:   make(chan []byte, sessionBuffer),
		done:   make(chan struct{}),
	}
}

// Outbox is the channel the transport's write loop drains. Messages arrive
// in publish order.
func (s *Session) Outbox() <-chan []byte {
	return s.send
}

// Done is closed when the session is shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the session down. Idempotent. The send channel is never
// closed so concurrent publishes stay safe; undrained messages are dropped
// with the session.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Hub owns the room membership table. No other component mutates it.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]map[*Session]struct{}

	owners  OwnershipChecker
	logger  *slog.Logger
	metrics *metrics.HubMetrics // Optional metrics
}

// New creates a Hub.
func New(owners OwnershipChecker, logger *slog.Logger) (*Hub, error) {
	if owners == nil {
		return nil, errors.New("ownership checker cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Hub{
		rooms:  make(map[uint]map[*Session]struct{}),
		owners: owners,
		logger: logger,
	}, nil
}

// SetMetrics sets the metrics collector for this hub.
func (h *Hub) SetMetrics(m *metrics.HubMetrics) {
	h.metrics = m
}

// Join adds the session to the chamber's room after proving the session's
// user owns the chamber. Failed checks are silent no-ops: a cross-tenant
// viewer is never told whether a chamber id exists. The ownership lookup
// runs before the room lock is taken.
func (h *Hub) Join(ctx context.Context, s *Session, chamberID uint) {
	if s == nil || chamberID == 0 {
		return
	}

	owned, err := h.owners.ChamberOwned(ctx, chamberID, s.UserID)
	if err != nil {
		h.logger.Error("ownership check failed",
			"session_id", s.ID,
			"chamber_id", chamberID,
			"error", err,
		)
		return
	}
	if !owned {
		h.logger.Warn("join rejected",
			"session_id", s.ID,
			"chamber_id", chamberID,
		)
		if h.metrics != nil {
			h.metrics.JoinsRejected.Inc()
		}
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[chamberID]
	if !ok {
		room = make(map[*Session]struct{})
		h.rooms[chamberID] = room
		if h.metrics != nil {
			h.metrics.ActiveRooms.Inc()
		}
	}
	room[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("session joined room",
		"session_id", s.ID,
		"chamber_id", chamberID,
	)
}

// Leave removes the session from the chamber's room. Unconditional and
// idempotent; empty rooms are discarded.
func (h *Hub) Leave(s *Session, chamberID uint) {
	if s == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, chamberID)
}

// Detach removes the session from every room it had joined. Called on
// transport disconnect.
func (h *Hub) Detach(s *Session) {
	if s == nil {
		return
	}

	h.mu.Lock()
	for chamberID := range h.rooms {
		h.removeLocked(s, chamberID)
	}
	h.mu.Unlock()

	s.Close()
}

func (h *Hub) removeLocked(s *Session, chamberID uint) {
	room, ok := h.rooms[chamberID]
	if !ok {
		return
	}
	if _, member := room[s]; !member {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(h.rooms, chamberID)
		if h.metrics != nil {
			h.metrics.ActiveRooms.Dec()
		}
	}
}

// Publish delivers a reading to exactly the sessions joined to the
// chamber's room. The payload is marshaled once; each delivery is a
// non-blocking send so a slow viewer loses its own readings without
// stalling anyone else. Per-chamber ordering follows call order because
// each session's outbox is drained in FIFO order.
func (h *Hub) Publish(chamberID uint, reading Reading) {
	payload, err := json.Marshal(Event{Event: "reading", Data: reading})
	if err != nil {
		h.logger.Error("failed to marshal reading event", "error", err)
		return
	}

	h.mu.RLock()
	room := h.rooms[chamberID]
	members := make([]*Session, 0, len(room))
	for s := range room {
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		select {
		case s.send <- payload:
			if h.metrics != nil {
				h.metrics.ReadingsDelivered.Inc()
			}
		default:
			h.logger.Warn("dropping reading for slow session",
				"session_id", s.ID,
				"chamber_id", chamberID,
			)
			if h.metrics != nil {
				h.metrics.DeliveriesDropped.Inc()
			}
		}
	}
}

// MemberCount reports the size of a chamber's room.
func (h *Hub) MemberCount(chamberID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chamberID])
}
