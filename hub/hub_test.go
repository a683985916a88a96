package hub

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeSocket struct {
	mu      sync.Mutex
	written []OutMessage
	reads   chan InMessage
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{reads: make(chan InMessage, 8)}
}

func (f *fakeSocket) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	msg, ok := v.(OutMessage)
	if ok {
		f.written = append(f.written, msg)
	}
	return nil
}

func (f *fakeSocket) ReadJSON(v any) error {
	msg, ok := <-f.reads
	if !ok {
		return errors.New("eof")
	}
	p := v.(*InMessage)
	*p = msg
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.reads)
	}
	return nil
}

func (f *fakeSocket) written_() []OutMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutMessage, len(f.written))
	copy(out, f.written)
	return out
}

func newTestHub() *Hub {
	return New(slog.Default())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAddConnectionSendsWelcome(t *testing.T) {
	h := newTestHub()
	sock := newFakeSocket()
	id := h.AddConnection(sock, nil)

	waitFor(t, func() bool { return len(sock.written_()) >= 1 })
	msgs := sock.written_()
	if msgs[0].Type != "welcome" {
		t.Fatalf("expected welcome message, got %q", msgs[0].Type)
	}
	if _, ok := h.GetConnection(id); !ok {
		t.Fatal("expected session to be registered")
	}
}

func TestBroadcastToProcessRoutesBySubscription(t *testing.T) {
	h := newTestHub()
	subscribed := newFakeSocket()
	other := newFakeSocket()

	subID := h.AddConnection(subscribed, nil)
	h.AddConnection(other, nil)
	h.UpdateSubscription(subID, ActionSubscribe, "proc-1")

	h.BroadcastToProcess("proc-1", OutMessage{Type: "process.log"})

	waitFor(t, func() bool {
		for _, m := range subscribed.written_() {
			if m.Type == "process.log" {
				return true
			}
		}
		return false
	})

	for _, m := range other.written_() {
		if m.Type == "process.log" {
			t.Fatal("unsubscribed session should not receive process.log")
		}
	}
}

func TestSubscribeAllReceivesBroadcast(t *testing.T) {
	h := newTestHub()
	sock := newFakeSocket()
	id := h.AddConnection(sock, nil)
	h.UpdateSubscription(id, ActionSubscribeAll, "")

	h.BroadcastToProcess("any-proc", OutMessage{Type: "process.status"})

	waitFor(t, func() bool {
		for _, m := range sock.written_() {
			if m.Type == "process.status" {
				return true
			}
		}
		return false
	})
}

func TestRemoveConnectionIsIdempotent(t *testing.T) {
	h := newTestHub()
	sock := newFakeSocket()
	id := h.AddConnection(sock, nil)

	h.RemoveConnection(id)
	h.RemoveConnection(id)

	if _, ok := h.GetConnection(id); ok {
		t.Fatal("expected session to be removed")
	}
}

func TestCleanupInactiveRemovesStaleSessions(t *testing.T) {
	h := newTestHub()
	sock := newFakeSocket()
	id := h.AddConnection(sock, nil)

	h.mu.Lock()
	h.sessions[id].lastActivity = time.Now().Add(-time.Hour)
	h.mu.Unlock()

	removed := h.CleanupInactive(1000)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}

func TestOnConnectionEventFires(t *testing.T) {
	h := newTestHub()
	events := make(chan ConnectionEvent, 8)
	unsub := h.OnConnectionEvent(func(ev ConnectionEvent) { events <- ev })
	defer unsub()

	sock := newFakeSocket()
	h.AddConnection(sock, nil)

	select {
	case ev := <-events:
		if ev.Kind != "connected" {
			t.Fatalf("expected connected event, got %q", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connection event")
	}
}
