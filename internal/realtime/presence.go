package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Occupant is one presence registry entry: who is reachable right now and at
// which endpoint, with current media state for admission snapshots.
type Occupant struct {
	UserID      uuid.UUID `json:"user_id"`
	EndpointID  string    `json:"endpoint_id"`
	DisplayName string    `json:"display_name"`
	VideoOn     bool      `json:"video_on"`
	AudioOn     bool      `json:"audio_on"`
	ScreenShare bool      `json:"screen_share"`
	HandRaised  bool      `json:"hand_raised"`
}

// Registry is the in-memory presence index: session room -> connected,
// admitted endpoints, plus the endpoints parked in the waiting room. It is
// a cache of "who is reachable right now", rebuilt empty on restart; the
// durable roster remains the record of who has ever attended. All mutation
// goes through the admission controller.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[uuid.UUID]map[string]*Client // admitted, keyed by endpoint ID
	waiting map[uuid.UUID]map[string]*Client // pending admission
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[uuid.UUID]map[string]*Client),
		waiting: make(map[uuid.UUID]map[string]*Client),
	}
}

// Admit adds a client to its room if the room is below max, replacing any
// endpoint the same user already holds (reconnect). The capacity check and
// the insert happen under one lock, so concurrent joins can never push the
// count past max. Returns the replaced endpoint (nil if none), the resulting
// count, and whether admission happened.
func (r *Registry) Admit(c *Client, max int) (replaced *Client, count int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[c.SessionID]
	if room == nil {
		room = make(map[string]*Client)
		r.rooms[c.SessionID] = room
	}
	for id, other := range room {
		if other.UserID == c.UserID {
			replaced = other
			delete(room, id)
			break
		}
	}
	if replaced == nil && len(room) >= max {
		if len(room) == 0 {
			delete(r.rooms, c.SessionID)
		}
		return nil, len(room), false
	}
	c.videoOn, c.audioOn, c.screenShare, c.handRaised = true, true, false, false
	room[c.ID] = c
	return replaced, len(room), true
}

// Remove deletes the client from its room, but only if the room still maps
// its endpoint ID to this exact client. A reconnect that already replaced the
// endpoint leaves nothing to remove, which is what suppresses the spurious
// left/joined pair. Returns whether it removed and the remaining count.
func (r *Registry) Remove(c *Client) (removed bool, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[c.SessionID]
	if room == nil || room[c.ID] != c {
		return false, len(room)
	}
	delete(room, c.ID)
	count = len(room)
	if count == 0 {
		delete(r.rooms, c.SessionID)
	}
	return true, count
}

// Count returns the number of admitted endpoints in a room. This is the
// canonical occupancy for every capacity decision.
func (r *Registry) Count(sessionID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// Snapshot returns the current occupants of a room. exceptEndpoint, when
// non-empty, is excluded (the newly admitted client does not need itself).
func (r *Registry) Snapshot(sessionID uuid.UUID, exceptEndpoint string) []Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[sessionID]
	out := make([]Occupant, 0, len(room))
	for id, c := range room {
		if id == exceptEndpoint {
			continue
		}
		out = append(out, c.occupantLocked())
	}
	return out
}

// FindUser returns the admitted endpoint of a user, or nil.
func (r *Registry) FindUser(sessionID, userID uuid.UUID) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[sessionID] {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

// IsAdmitted reports whether this exact endpoint is currently in its room.
func (r *Registry) IsAdmitted(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[c.SessionID][c.ID] == c
}

// Get returns the admitted client for an endpoint ID.
func (r *Registry) Get(sessionID uuid.UUID, endpointID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[sessionID][endpointID]
}

// Clients returns all admitted clients of a room.
func (r *Registry) Clients(sessionID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.rooms[sessionID]))
	for _, c := range r.rooms[sessionID] {
		out = append(out, c)
	}
	return out
}

// AddWaiting parks a client in the waiting room, replacing any endpoint the
// same user already holds there.
func (r *Registry) AddWaiting(c *Client) (replaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.waiting[c.SessionID]
	if room == nil {
		room = make(map[string]*Client)
		r.waiting[c.SessionID] = room
	}
	for id, other := range room {
		if other.UserID == c.UserID {
			replaced = other
			delete(room, id)
			break
		}
	}
	room[c.ID] = c
	return replaced
}

// RemoveWaiting removes the client from the waiting index if it is still the
// current endpoint for its user. Returns whether it removed.
func (r *Registry) RemoveWaiting(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.waiting[c.SessionID]
	if room == nil || room[c.ID] != c {
		return false
	}
	delete(room, c.ID)
	if len(room) == 0 {
		delete(r.waiting, c.SessionID)
	}
	return true
}

// FindWaiting returns the waiting endpoint of a user, or nil.
func (r *Registry) FindWaiting(sessionID, userID uuid.UUID) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.waiting[sessionID] {
		if c.UserID == userID {
			return c
		}
	}
	return nil
}

// IsWaiting reports whether this exact endpoint is parked in the waiting room.
func (r *Registry) IsWaiting(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting[c.SessionID][c.ID] == c
}

// SetToggle updates one media state on an admitted client.
func (r *Registry) SetToggle(c *Client, field string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch field {
	case "video":
		c.videoOn = enabled
	case "audio":
		c.audioOn = enabled
	case "screen":
		c.screenShare = enabled
	case "hand":
		c.handRaised = enabled
	}
}

// Occupant returns the client's registry entry.
func (r *Registry) Occupant(c *Client) Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.occupantLocked()
}
