package livesession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Thanh14013/E-learning-Website-sub000/internal/models"
)

type mockStore struct {
	sessions map[uuid.UUID]*models.LiveSession
	calls    *[]string

	markLiveFn      func(id uuid.UUID) (time.Time, error)
	markEndedFn     func(id uuid.UUID) (time.Time, int, error)
	markCancelledFn func(id uuid.UUID) error
}

func newMockStore() *mockStore {
	calls := []string{}
	return &mockStore{sessions: make(map[uuid.UUID]*models.LiveSession), calls: &calls}
}

func (m *mockStore) record(op string) { *m.calls = append(*m.calls, op) }

func (m *mockStore) Create(ctx context.Context, s *models.LiveSession) error {
	s.ID = uuid.New()
	s.Status = models.SessionStatusScheduled
	m.sessions[s.ID] = s
	m.record("create")
	return nil
}

func (m *mockStore) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, &models.NotFoundError{Resource: "session"}
	}
	cp := *s
	return &cp, nil
}

func (m *mockStore) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveSession, error) {
	return nil, nil
}

func (m *mockStore) ListByHost(ctx context.Context, hostID uuid.UUID) ([]models.LiveSession, error) {
	return nil, nil
}

func (m *mockStore) UpdateDetails(ctx context.Context, id uuid.UUID, title, description *string, scheduledAt *time.Time) error {
	s := m.sessions[id]
	if title != nil {
		s.Title = *title
	}
	if description != nil {
		s.Description = *description
	}
	if scheduledAt != nil {
		s.ScheduledAt = *scheduledAt
	}
	m.record("update")
	return nil
}

func (m *mockStore) MarkLive(ctx context.Context, id uuid.UUID) (time.Time, error) {
	m.record("markLive")
	if m.markLiveFn != nil {
		return m.markLiveFn(id)
	}
	now := time.Now()
	m.sessions[id].Status = models.SessionStatusLive
	m.sessions[id].StartedAt = &now
	return now, nil
}

func (m *mockStore) MarkEnded(ctx context.Context, id uuid.UUID) (time.Time, int, error) {
	m.record("markEnded")
	if m.markEndedFn != nil {
		return m.markEndedFn(id)
	}
	now := time.Now()
	s := m.sessions[id]
	s.Status = models.SessionStatusEnded
	s.EndedAt = &now
	duration := 42
	s.DurationMinutes = duration
	return now, duration, nil
}

func (m *mockStore) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	m.record("markCancelled")
	if m.markCancelledFn != nil {
		return m.markCancelledFn(id)
	}
	m.sessions[id].Status = models.SessionStatusCancelled
	return nil
}

func (m *mockStore) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.sessions, id)
	m.record("delete")
	return nil
}

func (m *mockStore) CloseRosterForSession(ctx context.Context, sessionID uuid.UUID) error {
	m.record("closeRoster")
	return nil
}

type mockRooms struct {
	calls  *[]string
	count  int
	closed []uuid.UUID
}

func (m *mockRooms) BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) {
	*m.calls = append(*m.calls, "broadcast:"+event)
}

func (m *mockRooms) CloseSession(sessionID uuid.UUID) {
	m.closed = append(m.closed, sessionID)
	*m.calls = append(*m.calls, "closeSession")
}

func (m *mockRooms) Count(sessionID uuid.UUID) int { return m.count }

type mockNotifier struct {
	events []string
}

func (m *mockNotifier) NotifyCourse(ctx context.Context, courseID, sessionID uuid.UUID, event string) error {
	m.events = append(m.events, event)
	return nil
}

func newTestService() (*Service, *mockStore, *mockRooms, *mockNotifier) {
	store := newMockStore()
	rooms := &mockRooms{calls: store.calls}
	notifier := &mockNotifier{}
	svc := NewService(store, rooms, notifier, 50, nil)
	return svc, store, rooms, notifier
}

func seedSession(store *mockStore, hostID uuid.UUID, status models.SessionStatus) *models.LiveSession {
	s := &models.LiveSession{
		ID:          uuid.New(),
		CourseID:    uuid.New(),
		HostID:      hostID,
		Title:       "Week 3 office hours",
		ScheduledAt: time.Now().Add(time.Hour),
		Status:      status,
	}
	store.sessions[s.ID] = s
	return s
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	caller := uuid.New()

	var validation *models.ValidationError

	_, err := svc.Create(context.Background(), caller, CreateInput{
		CourseID:    uuid.New(),
		ScheduledAt: time.Now().Add(time.Hour),
	})
	if !errors.As(err, &validation) {
		t.Errorf("empty title: got %v, want ValidationError", err)
	}

	_, err = svc.Create(context.Background(), caller, CreateInput{
		Title:       "Intro",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	if !errors.As(err, &validation) {
		t.Errorf("missing course: got %v, want ValidationError", err)
	}

	_, err = svc.Create(context.Background(), caller, CreateInput{
		CourseID:    uuid.New(),
		Title:       "Intro",
		ScheduledAt: time.Now().Add(-time.Minute),
	})
	if !errors.As(err, &validation) {
		t.Errorf("past scheduled_at: got %v, want ValidationError", err)
	}
}

func TestCreateDefaultsHostToCaller(t *testing.T) {
	svc, _, _, notifier := newTestService()
	caller := uuid.New()

	sess, err := svc.Create(context.Background(), caller, CreateInput{
		CourseID:    uuid.New(),
		Title:       "Intro",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.HostID != caller {
		t.Errorf("host = %s, want caller %s", sess.HostID, caller)
	}
	if sess.Status != models.SessionStatusScheduled {
		t.Errorf("status = %s, want scheduled", sess.Status)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "session_scheduled" {
		t.Errorf("notifier events = %v", notifier.events)
	}
}

func TestStartTransitionsAndBroadcasts(t *testing.T) {
	svc, store, _, notifier := newTestService()
	host := uuid.New()
	sess := seedSession(store, host, models.SessionStatusScheduled)

	got, err := svc.Start(context.Background(), sess.ID, host, "teacher")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != models.SessionStatusLive {
		t.Errorf("status = %s, want live", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("started_at not set")
	}
	if len(notifier.events) != 1 || notifier.events[0] != "session_live" {
		t.Errorf("notifier events = %v", notifier.events)
	}

	// The durable write must precede the room broadcast.
	calls := *store.calls
	writeIdx, broadcastIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "markLive":
			writeIdx = i
		case "broadcast:session-live":
			broadcastIdx = i
		}
	}
	if writeIdx == -1 || broadcastIdx == -1 || writeIdx > broadcastIdx {
		t.Errorf("call order = %v, want markLive before broadcast:session-live", calls)
	}
}

func TestStartRequiresHost(t *testing.T) {
	svc, store, _, _ := newTestService()
	sess := seedSession(store, uuid.New(), models.SessionStatusScheduled)

	var permission *models.PermissionError
	if _, err := svc.Start(context.Background(), sess.ID, uuid.New(), "student"); !errors.As(err, &permission) {
		t.Errorf("non-host start: got %v, want PermissionError", err)
	}

	// Platform admins may drive the lifecycle of any session.
	if _, err := svc.Start(context.Background(), sess.ID, uuid.New(), RoleAdmin); err != nil {
		t.Errorf("admin start: %v", err)
	}
}

func TestStartRejectsWrongStatus(t *testing.T) {
	svc, store, _, _ := newTestService()
	host := uuid.New()

	for _, status := range []models.SessionStatus{
		models.SessionStatusLive,
		models.SessionStatusEnded,
		models.SessionStatusCancelled,
	} {
		sess := seedSession(store, host, status)
		var state *models.InvalidStateError
		_, err := svc.Start(context.Background(), sess.ID, host, "teacher")
		if !errors.As(err, &state) {
			t.Errorf("start from %s: got %v, want InvalidStateError", status, err)
			continue
		}
		if state.Status != status {
			t.Errorf("start from %s: error carries status %s", status, state.Status)
		}
	}
}

func TestStartResolvesStaleTransition(t *testing.T) {
	svc, store, _, _ := newTestService()
	host := uuid.New()
	sess := seedSession(store, host, models.SessionStatusScheduled)

	// A concurrent caller wins the guarded update between the status check and
	// the write; the error must carry the status they left behind.
	store.markLiveFn = func(id uuid.UUID) (time.Time, error) {
		store.sessions[id].Status = models.SessionStatusCancelled
		return time.Time{}, errStaleTransition
	}

	var state *models.InvalidStateError
	_, err := svc.Start(context.Background(), sess.ID, host, "teacher")
	if !errors.As(err, &state) {
		t.Fatalf("got %v, want InvalidStateError", err)
	}
	if state.Status != models.SessionStatusCancelled {
		t.Errorf("error carries status %s, want cancelled", state.Status)
	}
}

func TestEndClosesRosterAndRoom(t *testing.T) {
	svc, store, rooms, notifier := newTestService()
	host := uuid.New()
	sess := seedSession(store, host, models.SessionStatusLive)

	got, err := svc.End(context.Background(), sess.ID, host, "teacher")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if got.Status != models.SessionStatusEnded {
		t.Errorf("status = %s, want ended", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("ended_at not set")
	}
	if got.DurationMinutes != 42 {
		t.Errorf("duration = %d, want 42", got.DurationMinutes)
	}
	if len(rooms.closed) != 1 || rooms.closed[0] != sess.ID {
		t.Errorf("closed rooms = %v", rooms.closed)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "session_ended" {
		t.Errorf("notifier events = %v", notifier.events)
	}

	calls := *store.calls
	want := []string{"markEnded", "closeRoster", "broadcast:session-ended", "closeSession"}
	if len(calls) < len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i, w := range want {
		if calls[i] != w {
			t.Errorf("calls[%d] = %s, want %s (full: %v)", i, calls[i], w, calls)
		}
	}
}

func TestEndRejectsScheduled(t *testing.T) {
	svc, store, _, _ := newTestService()
	host := uuid.New()
	sess := seedSession(store, host, models.SessionStatusScheduled)

	var state *models.InvalidStateError
	if _, err := svc.End(context.Background(), sess.ID, host, "teacher"); !errors.As(err, &state) {
		t.Errorf("end scheduled: got %v, want InvalidStateError", err)
	}
}

func TestCancel(t *testing.T) {
	svc, store, _, notifier := newTestService()
	host := uuid.New()
	sess := seedSession(store, host, models.SessionStatusScheduled)

	got, err := svc.Cancel(context.Background(), sess.ID, host, "teacher")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != models.SessionStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "session_cancelled" {
		t.Errorf("notifier events = %v", notifier.events)
	}

	// A live session must be ended, never cancelled.
	live := seedSession(store, host, models.SessionStatusLive)
	var state *models.InvalidStateError
	if _, err := svc.Cancel(context.Background(), live.ID, host, "teacher"); !errors.As(err, &state) {
		t.Errorf("cancel live: got %v, want InvalidStateError", err)
	}
}

func TestUpdateOnlyWhileScheduled(t *testing.T) {
	svc, store, _, _ := newTestService()
	host := uuid.New()

	sess := seedSession(store, host, models.SessionStatusScheduled)
	title := "Revised agenda"
	got, err := svc.Update(context.Background(), sess.ID, host, "teacher", UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != title {
		t.Errorf("title = %q, want %q", got.Title, title)
	}

	live := seedSession(store, host, models.SessionStatusLive)
	var state *models.InvalidStateError
	if _, err := svc.Update(context.Background(), live.ID, host, "teacher", UpdateInput{Title: &title}); !errors.As(err, &state) {
		t.Errorf("update live: got %v, want InvalidStateError", err)
	}

	past := time.Now().Add(-time.Hour)
	var validation *models.ValidationError
	if _, err := svc.Update(context.Background(), sess.ID, host, "teacher", UpdateInput{ScheduledAt: &past}); !errors.As(err, &validation) {
		t.Errorf("update to past: got %v, want ValidationError", err)
	}
}

func TestDeleteBlockedWhileLive(t *testing.T) {
	svc, store, _, notifier := newTestService()
	host := uuid.New()

	live := seedSession(store, host, models.SessionStatusLive)
	var state *models.InvalidStateError
	if err := svc.Delete(context.Background(), live.ID, host, "teacher"); !errors.As(err, &state) {
		t.Errorf("delete live: got %v, want InvalidStateError", err)
	}

	sess := seedSession(store, host, models.SessionStatusScheduled)
	if err := svc.Delete(context.Background(), sess.ID, host, "teacher"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.sessions[sess.ID]; ok {
		t.Error("session still present after delete")
	}
	if len(notifier.events) != 1 || notifier.events[0] != "session_deleted" {
		t.Errorf("notifier events = %v", notifier.events)
	}
}

func TestJoinEligibility(t *testing.T) {
	svc, store, rooms, _ := newTestService()
	host := uuid.New()
	sess := seedSession(store, host, models.SessionStatusLive)
	rooms.count = 3

	elig, err := svc.JoinEligibility(context.Background(), sess.ID, host)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if !elig.IsHost || elig.RequiresApproval {
		t.Errorf("host eligibility = %+v", elig)
	}
	if !elig.CanJoin || elig.Occupancy != 3 || elig.Capacity != 50 {
		t.Errorf("eligibility = %+v", elig)
	}

	elig, err = svc.JoinEligibility(context.Background(), sess.ID, uuid.New())
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if elig.IsHost || !elig.RequiresApproval {
		t.Errorf("participant eligibility = %+v", elig)
	}

	rooms.count = 50
	elig, _ = svc.JoinEligibility(context.Background(), sess.ID, uuid.New())
	if elig.CanJoin {
		t.Error("full room reported as joinable")
	}
}
