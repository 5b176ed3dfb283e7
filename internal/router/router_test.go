package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"perepiska/internal/models"
	"perepiska/internal/presence"
)

type mockStore struct {
	inserted []models.Message
	failWith error
}

func (m *mockStore) InsertMessage(msg models.Message) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.inserted = append(m.inserted, msg)
	return nil
}

type mockHandle struct {
	id        string
	delivered []models.ServerEvent
	failWith  error
}

func (m *mockHandle) ID() string { return m.id }

func (m *mockHandle) Deliver(ev models.ServerEvent) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.delivered = append(m.delivered, ev)
	return nil
}

type mockPresence struct {
	handles map[string][]presence.Handle
	// order records whether lookup happened before or after persistence
	storeLen func() int
	lookupAt []int
}

func (m *mockPresence) Lookup(identity string) []presence.Handle {
	if m.storeLen != nil {
		m.lookupAt = append(m.lookupAt, m.storeLen())
	}
	return m.handles[identity]
}

type mockNotifier struct {
	notified chan models.Message
}

func (m *mockNotifier) Notify(identity string, msg models.Message) {
	m.notified <- msg
}

func newRouter(cfg Config, store *mockStore, pres *mockPresence, notifier Notifier) *Router {
	r := New(cfg, store, pres, notifier)
	r.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return r
}

func textEvent(to, body string) models.ClientEvent {
	return models.ClientEvent{
		Type:        models.EventMessage,
		To:          to,
		MessageType: models.MessageTypeText,
		Content:     body,
	}
}

func TestRouter_OfflineRecipientPersistsOnce(t *testing.T) {
	store := &mockStore{}
	pres := &mockPresence{handles: map[string][]presence.Handle{}}
	notifier := &mockNotifier{notified: make(chan models.Message, 1)}
	r := newRouter(Config{}, store, pres, notifier)

	msg, err := r.Send(context.Background(), "alice", textEvent("bob", "are you there?"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(store.inserted))
	}
	if store.inserted[0].Content != "are you there?" {
		t.Errorf("wrong persisted content: %q", store.inserted[0].Content)
	}
	if msg.CreatedAt != 1700000000000 {
		t.Errorf("expected server-assigned createdAt, got %d", msg.CreatedAt)
	}

	// Offline recipient: the notifier hears about it instead.
	select {
	case n := <-notifier.notified:
		if n.To != "bob" {
			t.Errorf("notified wrong identity: %s", n.To)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for offline notification")
	}
}

func TestRouter_MultiSessionDelivery(t *testing.T) {
	store := &mockStore{}
	h1 := &mockHandle{id: "c1"}
	h2 := &mockHandle{id: "c2"}
	pres := &mockPresence{handles: map[string][]presence.Handle{
		"bob": {h1, h2},
	}}
	r := newRouter(Config{}, store, pres, nil)

	_, err := r.Send(context.Background(), "alice", textEvent("bob", "hi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Persisted exactly once, delivered to each handle exactly once.
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(store.inserted))
	}
	if len(h1.delivered) != 1 || len(h2.delivered) != 1 {
		t.Fatalf("expected 1 delivery per handle, got %d and %d", len(h1.delivered), len(h2.delivered))
	}

	ev := h1.delivered[0]
	if ev.Type != models.EventMessage || ev.From != "alice" || ev.Content != "hi" {
		t.Errorf("wrong delivery event: %+v", ev)
	}
	if ev.CreatedAt == 0 {
		t.Error("delivery event missing createdAt")
	}
}

func TestRouter_PersistBeforeDeliver(t *testing.T) {
	store := &mockStore{}
	h := &mockHandle{id: "c1"}
	pres := &mockPresence{handles: map[string][]presence.Handle{"bob": {h}}}
	pres.storeLen = func() int { return len(store.inserted) }
	r := newRouter(Config{}, store, pres, nil)

	_, err := r.Send(context.Background(), "alice", textEvent("bob", "hi"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// The registry lookup must observe the already-persisted record.
	if len(pres.lookupAt) != 1 || pres.lookupAt[0] != 1 {
		t.Errorf("expected lookup after persistence, lookupAt=%v", pres.lookupAt)
	}
}

func TestRouter_UnidentifiedSender(t *testing.T) {
	store := &mockStore{}
	pres := &mockPresence{handles: map[string][]presence.Handle{}}
	r := newRouter(Config{}, store, pres, nil)

	_, err := r.Send(context.Background(), "", textEvent("bob", "hi"))
	if !errors.Is(err, models.ErrUnidentifiedSender) {
		t.Fatalf("expected ErrUnidentifiedSender, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("expected zero persisted records, got %d", len(store.inserted))
	}
}

func TestRouter_InvalidMessageType(t *testing.T) {
	store := &mockStore{}
	pres := &mockPresence{handles: map[string][]presence.Handle{}}
	r := newRouter(Config{}, store, pres, nil)

	ev := models.ClientEvent{
		Type:        models.EventMessage,
		To:          "bob",
		MessageType: "voice",
		Content:     "hi",
	}
	_, err := r.Send(context.Background(), "alice", ev)
	if !errors.Is(err, models.ErrInvalidMessageType) {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("expected zero persisted records, got %d", len(store.inserted))
	}
}

func TestRouter_MissingRecipient(t *testing.T) {
	store := &mockStore{}
	r := newRouter(Config{}, store, &mockPresence{}, nil)

	_, err := r.Send(context.Background(), "alice", textEvent("", "hi"))
	if !errors.Is(err, models.ErrRecipientMissing) {
		t.Fatalf("expected ErrRecipientMissing, got %v", err)
	}
	if len(store.inserted) != 0 {
		t.Errorf("expected zero persisted records, got %d", len(store.inserted))
	}
}

func TestRouter_PersistenceFailure(t *testing.T) {
	store := &mockStore{failWith: errors.New("disk full")}
	h := &mockHandle{id: "c1"}
	pres := &mockPresence{handles: map[string][]presence.Handle{"bob": {h}}}
	r := newRouter(Config{}, store, pres, nil)

	_, err := r.Send(context.Background(), "alice", textEvent("bob", "hi"))
	if err == nil {
		t.Fatal("expected error on persistence failure")
	}

	var pErr *PersistenceError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected PersistenceError, got %T", err)
	}

	// Persistence failure means the send genuinely failed: no delivery.
	if len(h.delivered) != 0 {
		t.Errorf("expected zero deliveries, got %d", len(h.delivered))
	}
}

func TestRouter_DeliveryFailureIsIsolated(t *testing.T) {
	store := &mockStore{}
	broken := &mockHandle{id: "c1", failWith: errors.New("connection closed")}
	healthy := &mockHandle{id: "c2"}
	pres := &mockPresence{handles: map[string][]presence.Handle{
		"bob": {broken, healthy},
	}}
	r := newRouter(Config{}, store, pres, nil)

	_, err := r.Send(context.Background(), "alice", textEvent("bob", "hi"))
	if err != nil {
		t.Fatalf("delivery failure must not fail the send: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Errorf("expected persisted record to survive delivery failure, got %d", len(store.inserted))
	}
	if len(healthy.delivered) != 1 {
		t.Errorf("expected delivery to the healthy handle, got %d", len(healthy.delivered))
	}
}

func TestRouter_FileNameHandling(t *testing.T) {
	fileEvent := models.ClientEvent{
		Type:        models.EventMessage,
		To:          "bob",
		MessageType: models.MessageTypeFile,
		Content:     "file-key-1",
	}

	t.Run("LaxDefault", func(t *testing.T) {
		store := &mockStore{}
		r := newRouter(Config{}, store, &mockPresence{}, nil)

		msg, err := r.Send(context.Background(), "alice", fileEvent)
		if err != nil {
			t.Fatalf("unnamed attachment should be accepted by default: %v", err)
		}
		if msg.FileName != "" {
			t.Errorf("expected empty fileName, got %q", msg.FileName)
		}
	})

	t.Run("Strict", func(t *testing.T) {
		store := &mockStore{}
		r := newRouter(Config{RequireFileName: true}, store, &mockPresence{}, nil)

		_, err := r.Send(context.Background(), "alice", fileEvent)
		if !errors.Is(err, models.ErrFileNameRequired) {
			t.Fatalf("expected ErrFileNameRequired, got %v", err)
		}
		if len(store.inserted) != 0 {
			t.Errorf("expected zero persisted records, got %d", len(store.inserted))
		}
	})

	t.Run("FileNameIgnoredForText", func(t *testing.T) {
		store := &mockStore{}
		r := newRouter(Config{}, store, &mockPresence{}, nil)

		ev := textEvent("bob", "hi")
		ev.FileName = "sneaky.txt"
		msg, err := r.Send(context.Background(), "alice", ev)
		if err != nil {
			t.Fatal(err)
		}
		if msg.FileName != "" {
			t.Errorf("fileName should be dropped for text messages, got %q", msg.FileName)
		}
	})
}

func TestRouter_TextIsSanitized(t *testing.T) {
	store := &mockStore{}
	r := newRouter(Config{}, store, &mockPresence{}, nil)

	_, err := r.Send(context.Background(), "alice", textEvent("bob", `hello <script>alert(1)</script>`))
	if err != nil {
		t.Fatal(err)
	}
	if got := store.inserted[0].Content; got != "hello " {
		t.Errorf("expected script stripped, got %q", got)
	}
}

func TestRouter_PerSenderOrder(t *testing.T) {
	store := &mockStore{}
	h := &mockHandle{id: "c1"}
	pres := &mockPresence{handles: map[string][]presence.Handle{"bob": {h}}}
	r := newRouter(Config{}, store, pres, nil)

	for _, body := range []string{"one", "two", "three"} {
		if _, err := r.Send(context.Background(), "alice", textEvent("bob", body)); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range []string{"one", "two", "three"} {
		if store.inserted[i].Content != want {
			t.Errorf("persisted[%d] = %q, want %q", i, store.inserted[i].Content, want)
		}
		if h.delivered[i].Content != want {
			t.Errorf("delivered[%d] = %q, want %q", i, h.delivered[i].Content, want)
		}
	}
}
