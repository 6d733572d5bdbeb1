package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

type mockSessionStore struct {
	sessions map[uuid.UUID]*models.LiveSession

	upsertErr error
	appendErr error
	toggleErr error

	rosterUpserts int
	rosterLeft    int
	toggles       []string
	waiting       map[uuid.UUID]bool
	chat          []models.ChatMessage
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions: make(map[uuid.UUID]*models.LiveSession),
		waiting:  make(map[uuid.UUID]bool),
	}
}

func (m *mockSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "session"}
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionStore) UpsertRosterEntry(ctx context.Context, sessionID, userID uuid.UUID, displayName, endpointID string) (*models.RosterEntry, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.rosterUpserts++
	return &models.RosterEntry{SessionID: sessionID, UserID: userID, DisplayName: displayName, JoinedAt: time.Now()}, nil
}

func (m *mockSessionStore) MarkRosterLeft(ctx context.Context, sessionID, userID uuid.UUID) error {
	m.rosterLeft++
	return nil
}

func (m *mockSessionStore) UpdateRosterToggle(ctx context.Context, sessionID, userID uuid.UUID, field string, value bool) error {
	if m.toggleErr != nil {
		return m.toggleErr
	}
	m.toggles = append(m.toggles, field)
	return nil
}

func (m *mockSessionStore) AddWaiting(ctx context.Context, e *models.WaitingRoomEntry) error {
	m.waiting[e.UserID] = true
	return nil
}

func (m *mockSessionStore) RemoveWaiting(ctx context.Context, sessionID, userID uuid.UUID) error {
	delete(m.waiting, userID)
	return nil
}

func (m *mockSessionStore) AppendChat(ctx context.Context, sessionID uuid.UUID, msg models.ChatMessage, limit int) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.chat = append(m.chat, msg)
	if len(m.chat) > limit {
		m.chat = m.chat[len(m.chat)-limit:]
	}
	return nil
}

func (m *mockSessionStore) RecentChat(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if len(m.chat) > limit {
		return m.chat[len(m.chat)-limit:], nil
	}
	return m.chat, nil
}

// roomFixture wires a hub, store and admission controller around one live
// session.
type roomFixture struct {
	hub       *Hub
	store     *mockSessionStore
	admission *Admission
	sessionID uuid.UUID
	hostID    uuid.UUID
}

func newRoomFixture(t *testing.T, maxSize int) *roomFixture {
	t.Helper()
	store := newMockSessionStore()
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	hostID := uuid.New()
	store.sessions[sessionID] = &models.LiveSession{
		ID:     sessionID,
		HostID: hostID,
		Status: models.SessionStatusLive,
	}
	return &roomFixture{
		hub:       hub,
		store:     store,
		admission: NewAdmission(hub, store, nil, maxSize, 50, nil),
		sessionID: sessionID,
		hostID:    hostID,
	}
}

func (f *roomFixture) join(t *testing.T, userID uuid.UUID, name string) *Client {
	t.Helper()
	c := newTestClient(f.sessionID, userID, name)
	f.admission.HandleJoin(context.Background(), c, JoinPayload{DisplayName: name})
	return c
}

func recvEvent(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		return env
	default:
		t.Fatalf("no event queued for %s", c.DisplayName)
		return Envelope{}
	}
}

func expectEvent(t *testing.T, c *Client, event string) Envelope {
	t.Helper()
	env := recvEvent(t, c)
	if env.Event != event {
		t.Fatalf("%s got event %q, want %q", c.DisplayName, env.Event, event)
	}
	return env
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.out:
		t.Fatalf("%s got unexpected event %q", c.DisplayName, env.Event)
	default:
	}
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestJoinRequiresLiveSession(t *testing.T) {
	f := newRoomFixture(t, 10)
	f.store.sessions[f.sessionID].Status = models.SessionStatusScheduled

	c := f.join(t, f.hostID, "host")
	env := expectEvent(t, c, EventError)
	var p ErrorPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != CodeInvalidState || p.Status != models.SessionStatusScheduled {
		t.Errorf("error payload = %+v", p)
	}
	if !isClosed(c) {
		t.Error("connection left open after rejection")
	}
}

func TestJoinUnknownSession(t *testing.T) {
	f := newRoomFixture(t, 10)
	c := newTestClient(uuid.New(), f.hostID, "host")
	f.admission.HandleJoin(context.Background(), c, JoinPayload{})

	env := expectEvent(t, c, EventError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.Code != CodeNotFound {
		t.Errorf("error code = %q, want %q", p.Code, CodeNotFound)
	}
	if !isClosed(c) {
		t.Error("connection left open after rejection")
	}
}

func TestHostAutoAdmitted(t *testing.T) {
	f := newRoomFixture(t, 10)

	host := f.join(t, f.hostID, "host")
	env := expectEvent(t, host, EventAdmitted)
	var p AdmittedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode admitted payload: %v", err)
	}
	if p.EndpointID != host.ID {
		t.Errorf("endpoint = %q, want %q", p.EndpointID, host.ID)
	}
	if len(p.Participants) != 0 {
		t.Errorf("participants = %+v, want empty", p.Participants)
	}
	if f.store.rosterUpserts != 1 {
		t.Errorf("roster upserts = %d, want 1", f.store.rosterUpserts)
	}
}

func TestParticipantWaitsForHostDecision(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	if !f.store.waiting[studentID] {
		t.Error("waiting room entry not persisted")
	}

	// The room, where the host endpoint lives, hears the request.
	env := expectEvent(t, host, EventJoinRequest)
	var entry models.WaitingRoomEntry
	if err := json.Unmarshal(env.Data, &entry); err != nil {
		t.Fatalf("decode join request: %v", err)
	}
	if entry.UserID != studentID || entry.DisplayName != "student" {
		t.Errorf("join request = %+v", entry)
	}
	if f.hub.Count(f.sessionID) != 1 {
		t.Errorf("occupancy = %d, waiting must not count", f.hub.Count(f.sessionID))
	}
}

func TestApproveAdmitsWaitingParticipant(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)

	f.admission.HandleApprove(context.Background(), host, studentID)

	env := expectEvent(t, student, EventAdmitted)
	var p AdmittedPayload
	_ = json.Unmarshal(env.Data, &p)
	if len(p.Participants) != 1 || p.Participants[0].EndpointID != host.ID {
		t.Errorf("snapshot = %+v, want host only", p.Participants)
	}
	expectEvent(t, host, EventParticipantJoined)
	if f.store.waiting[studentID] {
		t.Error("waiting room entry not cleared")
	}
	if f.hub.Count(f.sessionID) != 2 {
		t.Errorf("occupancy = %d, want 2", f.hub.Count(f.sessionID))
	}
}

func TestApproveRequiresHost(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)

	otherID := uuid.New()
	other := f.join(t, otherID, "other")
	expectEvent(t, other, EventWaiting)

	f.admission.HandleApprove(context.Background(), other, studentID)
	env := expectEvent(t, other, EventError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.Code != CodePermission {
		t.Errorf("error code = %q, want %q", p.Code, CodePermission)
	}
	expectNoEvent(t, student)
}

func TestDenyTellsOnlyTheParticipant(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)

	f.admission.HandleDeny(context.Background(), host, studentID)
	expectEvent(t, student, EventJoinDenied)
	if !isClosed(student) {
		t.Error("denied endpoint left open")
	}
	if f.store.waiting[studentID] {
		t.Error("waiting room entry not cleared")
	}
	expectNoEvent(t, host)
}

func TestKick(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)
	f.admission.HandleApprove(context.Background(), host, studentID)
	expectEvent(t, student, EventAdmitted)
	expectEvent(t, host, EventParticipantJoined)

	// The host cannot kick itself.
	f.admission.HandleKick(context.Background(), host, f.hostID)
	env := expectEvent(t, host, EventError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.Code != CodeValidation {
		t.Errorf("self-kick error code = %q", p.Code)
	}

	f.admission.HandleKick(context.Background(), host, studentID)
	expectEvent(t, student, EventKicked)
	if !isClosed(student) {
		t.Error("kicked endpoint left open")
	}
	expectEvent(t, host, EventParticipantLeft)
	if f.store.rosterLeft != 1 {
		t.Errorf("roster left writes = %d, want 1", f.store.rosterLeft)
	}
	if f.hub.Count(f.sessionID) != 1 {
		t.Errorf("occupancy = %d, want 1", f.hub.Count(f.sessionID))
	}
}

func TestCapacityRejectsNewJoiner(t *testing.T) {
	f := newRoomFixture(t, 1)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	student := f.join(t, uuid.New(), "student")
	env := expectEvent(t, student, EventError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.Code != CodeCapacity {
		t.Errorf("error code = %q, want %q", p.Code, CodeCapacity)
	}
	if !isClosed(student) {
		t.Error("rejected endpoint left open")
	}
}

func TestReconnectReusesSlot(t *testing.T) {
	f := newRoomFixture(t, 2)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)
	f.admission.HandleApprove(context.Background(), host, studentID)
	expectEvent(t, student, EventAdmitted)
	expectEvent(t, host, EventParticipantJoined)

	// The room is now full; a reconnect by an active participant still passes.
	again := f.join(t, studentID, "student")
	expectEvent(t, again, EventAdmitted)
	if !isClosed(student) {
		t.Error("stale endpoint left open")
	}
	if f.hub.Count(f.sessionID) != 2 {
		t.Errorf("occupancy = %d, want 2", f.hub.Count(f.sessionID))
	}
	// No joined event for a reconnect; the roster slot was reused.
	expectNoEvent(t, host)

	// The stale endpoint's deferred cleanup must stay silent.
	f.admission.HandleLeave(context.Background(), student)
	expectNoEvent(t, host)
	if f.store.rosterLeft != 0 {
		t.Errorf("roster left writes = %d, want 0", f.store.rosterLeft)
	}
}

func TestLeaveWhileWaitingCancelsRequest(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)

	f.admission.HandleLeave(context.Background(), student)
	env := expectEvent(t, host, EventJoinRequestCancelled)
	var p DecisionPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.ParticipantID != studentID {
		t.Errorf("cancelled participant = %s, want %s", p.ParticipantID, studentID)
	}
	if f.store.waiting[studentID] {
		t.Error("waiting room entry not cleared")
	}
}

func TestRosterWriteFailureRollsBackAdmission(t *testing.T) {
	f := newRoomFixture(t, 10)
	f.store.upsertErr = errors.New("db down")

	host := f.join(t, f.hostID, "host")
	env := expectEvent(t, host, EventError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.Code != CodeInternal {
		t.Errorf("error code = %q, want %q", p.Code, CodeInternal)
	}
	if f.hub.Count(f.sessionID) != 0 {
		t.Errorf("occupancy = %d after failed admission", f.hub.Count(f.sessionID))
	}
}

func TestTogglePersistsBeforeBroadcast(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	studentID := uuid.New()
	student := f.join(t, studentID, "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)
	f.admission.HandleApprove(context.Background(), host, studentID)
	expectEvent(t, student, EventAdmitted)
	expectEvent(t, host, EventParticipantJoined)

	f.admission.HandleToggle(context.Background(), student, "video", false)
	env := expectEvent(t, host, EventStateChanged)
	var p StateChangedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode state change: %v", err)
	}
	if p.Field != "video" || p.Enabled || p.UserID != studentID {
		t.Errorf("state change = %+v", p)
	}
	// The sender does not hear its own toggle.
	expectNoEvent(t, student)
	if occ := f.hub.Registry().Occupant(student); occ.VideoOn {
		t.Error("registry still shows video on")
	}

	// A failed durable write short-circuits the broadcast.
	f.store.toggleErr = errors.New("db down")
	f.admission.HandleToggle(context.Background(), student, "audio", false)
	expectNoEvent(t, host)
	if occ := f.hub.Registry().Occupant(student); !occ.AudioOn {
		t.Error("registry changed despite failed write")
	}
}

func TestToggleRequiresAdmission(t *testing.T) {
	f := newRoomFixture(t, 10)
	c := newTestClient(f.sessionID, uuid.New(), "stranger")

	f.admission.HandleToggle(context.Background(), c, "video", false)
	env := expectEvent(t, c, EventError)
	var p ErrorPayload
	_ = json.Unmarshal(env.Data, &p)
	if p.Code != CodePermission {
		t.Errorf("error code = %q, want %q", p.Code, CodePermission)
	}
}

func TestDuplicateJoinRepeatsAnswer(t *testing.T) {
	f := newRoomFixture(t, 10)
	host := f.join(t, f.hostID, "host")
	expectEvent(t, host, EventAdmitted)

	f.admission.HandleJoin(context.Background(), host, JoinPayload{})
	expectEvent(t, host, EventAdmitted)
	if f.store.rosterUpserts != 1 {
		t.Errorf("roster upserts = %d, want 1", f.store.rosterUpserts)
	}

	student := f.join(t, uuid.New(), "student")
	expectEvent(t, student, EventWaiting)
	expectEvent(t, host, EventJoinRequest)
	f.admission.HandleJoin(context.Background(), student, JoinPayload{})
	expectEvent(t, student, EventWaiting)
	expectNoEvent(t, host)
}
