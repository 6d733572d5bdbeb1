package realtime

import (
	"testing"

	"github.com/google/uuid"
)

func TestHubBroadcastToSession(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New(), "a")
	b := newTestClient(sessionID, uuid.New(), "b")
	other := newTestClient(uuid.New(), uuid.New(), "other")
	hub.Registry().Admit(a, 10)
	hub.Registry().Admit(b, 10)
	hub.Registry().Admit(other, 10)

	hub.BroadcastToSession(sessionID, EventSessionLive, map[string]string{"k": "v"})
	expectEvent(t, a, EventSessionLive)
	expectEvent(t, b, EventSessionLive)
	expectNoEvent(t, other)
}

func TestHubBroadcastToOthersExcludesSender(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New(), "a")
	b := newTestClient(sessionID, uuid.New(), "b")
	hub.Registry().Admit(a, 10)
	hub.Registry().Admit(b, 10)

	hub.BroadcastToOthers(sessionID, a.ID, EventStateChanged, nil)
	expectNoEvent(t, a)
	expectEvent(t, b, EventStateChanged)
}

func TestHubSendToEndpoint(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New(), "a")
	hub.Registry().Admit(a, 10)

	if !hub.SendToEndpoint(sessionID, a.ID, EventKicked, nil) {
		t.Error("send to known endpoint failed")
	}
	expectEvent(t, a, EventKicked)
	if hub.SendToEndpoint(sessionID, "gone", EventKicked, nil) {
		t.Error("send to unknown endpoint reported success")
	}
}

func TestHubCloseSession(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	a := newTestClient(sessionID, uuid.New(), "a")
	b := newTestClient(sessionID, uuid.New(), "b")
	hub.Registry().Admit(a, 10)
	hub.Registry().Admit(b, 10)

	hub.CloseSession(sessionID)
	if !isClosed(a) || !isClosed(b) {
		t.Error("clients left open after session close")
	}
}
