package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// OccupancyChangeHandler is called when a room's admitted count changes
// (e.g. for peak tracking).
type OccupancyChangeHandler func(sessionID uuid.UUID, count int)

// RoomPublisher publishes room events to Redis for cross-instance broadcast.
type RoomPublisher interface {
	PublishRoomEvent(sessionID uuid.UUID, origin, event, exceptEndpoint string, payload []byte) error
}

// RoomSubscriber subscribes to a room's channel and invokes handler for
// incoming events.
type RoomSubscriber interface {
	SubscribeRoom(sessionID uuid.UUID, handler func(origin, event, exceptEndpoint string, payload []byte)) (cancel func(), err error)
}

// Hub owns the presence registry and delivers room-scoped events to connected
// endpoints, locally and across instances via Redis pub/sub.
type Hub struct {
	registry   *Registry
	instanceID string

	mu          sync.Mutex
	subs        map[uuid.UUID]func() // cancel Redis subscription per room
	onOccupancy OccupancyChangeHandler

	redisPub RoomPublisher
	redisSub RoomSubscriber
	logger   *zap.Logger
}

// NewHub creates a hub with an empty registry.
func NewHub(logger *zap.Logger, redisPub RoomPublisher, redisSub RoomSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		registry:   NewRegistry(),
		instanceID: uuid.New().String(),
		subs:       make(map[uuid.UUID]func()),
		redisPub:   redisPub,
		redisSub:   redisSub,
		logger:     logger,
	}
}

// Registry exposes the presence registry (reads for snapshots and counts;
// mutation stays with the admission controller).
func (h *Hub) Registry() *Registry { return h.registry }

// SetOccupancyChangeHandler sets the callback for admitted-count changes.
func (h *Hub) SetOccupancyChangeHandler(fn OccupancyChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOccupancy = fn
}

// roomOpened starts the Redis subscription for a room when its first local
// endpoint arrives.
func (h *Hub) roomOpened(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sessionID]; ok || h.redisSub == nil {
		return
	}
	cancel, err := h.redisSub.SubscribeRoom(sessionID, func(origin, event, exceptEndpoint string, payload []byte) {
		if origin == h.instanceID {
			return // already delivered locally before publishing
		}
		h.deliverLocal(sessionID, exceptEndpoint, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("room subscribe failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		return
	}
	h.subs[sessionID] = cancel
}

// roomMaybeClosed cancels the Redis subscription when a room empties.
func (h *Hub) roomMaybeClosed(sessionID uuid.UUID) {
	if h.registry.Count(sessionID) > 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.subs[sessionID]; ok {
		cancel()
		delete(h.subs, sessionID)
	}
}

func (h *Hub) occupancyChanged(sessionID uuid.UUID, count int) {
	h.mu.Lock()
	fn := h.onOccupancy
	h.mu.Unlock()
	if fn != nil {
		fn(sessionID, count)
	}
}

// deliverLocal sends an event to every admitted endpoint in the room except
// exceptEndpoint (empty string: everyone).
func (h *Hub) deliverLocal(sessionID uuid.UUID, exceptEndpoint, event string, data json.RawMessage) {
	for _, c := range h.registry.Clients(sessionID) {
		if c.ID == exceptEndpoint {
			continue
		}
		c.deliver(Envelope{Event: event, Data: data})
	}
}

// BroadcastToSession sends an event to every admitted endpoint in the room,
// here and on other instances. Implements the lifecycle controller's fan-out.
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) {
	h.BroadcastToOthers(sessionID, "", event, payload)
}

// BroadcastToOthers sends an event to every admitted endpoint in the room
// except the named one, here and on other instances.
func (h *Hub) BroadcastToOthers(sessionID uuid.UUID, exceptEndpoint, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal broadcast payload", zap.Error(err), zap.String("event", event))
		return
	}
	h.deliverLocal(sessionID, exceptEndpoint, event, data)
	if h.redisPub != nil {
		if err := h.redisPub.PublishRoomEvent(sessionID, h.instanceID, event, exceptEndpoint, data); err != nil {
			h.logger.Warn("publish room event", zap.Error(err), zap.String("event", event))
		}
	}
}

// SendToEndpoint sends an event to one admitted endpoint. Returns false if the
// endpoint is not connected here; callers that must stay silent on a missing
// target (the signaling relay) ignore the result.
func (h *Hub) SendToEndpoint(sessionID uuid.UUID, endpointID, event string, payload interface{}) bool {
	c := h.registry.Get(sessionID, endpointID)
	if c == nil {
		return false
	}
	return c.send(event, payload)
}

// Count returns the room's admitted occupancy.
func (h *Hub) Count(sessionID uuid.UUID) int {
	return h.registry.Count(sessionID)
}

// CloseSession closes every connection in the room after pending messages
// drain. Used when a session ends.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	for _, c := range h.registry.Clients(sessionID) {
		c.Close()
	}
}
