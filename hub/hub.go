package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// session is the hub's private mutable record; Session is the public
// immutable snapshot derived from it.
type session struct {
	id           string
	sock         socket
	state        State
	connectedAt  time.Time
	lastActivity time.Time
	subs         Subscriptions
	metadata     map[string]any

	outbound chan OutMessage
	done     chan struct{}
	closeOne sync.Once
}

func (s *session) snapshot() Session {
	return Session{
		ID:             s.id,
		State:          s.state,
		ConnectedAt:    s.connectedAt,
		LastActivityAt: s.lastActivity,
		Subscriptions:  s.subs.clone(),
		Metadata:       s.metadata,
	}
}

// EventCallback receives ConnectionEvents; returned by OnConnectionEvent as
// an unsubscribe handle.
type EventCallback func(ConnectionEvent)

// Hub is the Connection Hub (C4): single-threaded cooperative fan-out per
// instance — send operations never block the scheduler or supervisor
// (§4.4/§5). Each session gets its own outbound writer goroutine fed by a
// buffered channel and one inbound reader goroutine, grounded on the
// teacher's per-client SSE channel (internal/web/sse.go) generalized to a
// real bidirectional websocket.Conn.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	cbMu      sync.Mutex
	callbacks map[int]EventCallback
	nextCBID  int
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:    logger,
		sessions:  make(map[string]*session),
		callbacks: make(map[int]EventCallback),
	}
}

// AddConnection registers a new session wrapping sock and starts its
// fan-out/reader goroutines. Returns the minted session id.
func (h *Hub) AddConnection(sock socket, metadata map[string]any) string {
	id := uuid.NewString()
	now := time.Now()
	s := &session{
		id:           id,
		sock:         sock,
		state:        StateConnected,
		connectedAt:  now,
		lastActivity: now,
		subs:         newSubscriptions(),
		metadata:     metadata,
		outbound:     make(chan OutMessage, outboundHighWaterMark),
		done:         make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()

	go h.writerLoop(s)
	go h.readerLoop(s)

	h.emit(ConnectionEvent{Kind: "connected", SessionID: id, Timestamp: now})
	h.sendToSession(s, OutMessage{Type: "welcome", Timestamp: now, Payload: map[string]string{"sessionId": id}})
	return id
}

// writerLoop is the per-session fan-out worker: it drains outbound in
// submission order and writes each frame, preserving the per-session
// ordering guarantee (§4.4). A write error marks the session `error` and
// removes it.
func (h *Hub) writerLoop(s *session) {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.sock.WriteJSON(msg); err != nil {
				h.failSession(s, "write error: "+err.Error())
				return
			}
		}
	}
}

// readerLoop consumes client->server control frames, refreshing activity on
// every inbound message and dispatching subscribe/unsubscribe/ping.
func (h *Hub) readerLoop(s *session) {
	for {
		var in InMessage
		if err := s.sock.ReadJSON(&in); err != nil {
			h.RemoveConnection(s.id)
			return
		}
		h.UpdateActivity(s.id)

		switch SubscriptionAction(in.Type) {
		case ActionSubscribe, ActionUnsubscribe, ActionSubscribeAll, ActionUnsubscribeAll:
			h.UpdateSubscription(s.id, SubscriptionAction(in.Type), in.ProcessID)
		case "ping":
			h.sendToSession(s, OutMessage{Type: "pong", Timestamp: time.Now()})
		}
	}
}

func (h *Hub) failSession(s *session, reason string) {
	h.emit(ConnectionEvent{Kind: "error", SessionID: s.id, Timestamp: time.Now(), Details: reason})
	h.RemoveConnection(s.id)
}

// sendToSession enqueues msg on s.outbound without blocking; if the
// session's outbound high-water mark is exceeded the session is closed with
// an overflow reason (§5 Cancellation & timeouts).
func (h *Hub) sendToSession(s *session, msg OutMessage) bool {
	select {
	case s.outbound <- msg:
		return true
	default:
		h.failSession(s, "outbound overflow")
		return false
	}
}

// SendToConnection sends msg to one session by id. Returns false if the
// session doesn't exist or its outbound buffer is full.
func (h *Hub) SendToConnection(id string, msg OutMessage) bool {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.sendToSession(s, msg)
}

// Broadcast sends msg to every session matching filter (all sessions if
// filter is zero-value). Returns after enqueuing to each selected session,
// not after delivery (§5).
func (h *Hub) Broadcast(msg OutMessage, filter Filter) int {
	now := time.Now()
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if filter.matches(s, now) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	count := 0
	for _, s := range targets {
		if h.sendToSession(s, msg) {
			count++
		}
	}
	return count
}

// BroadcastToProcess sends msg to every session subscribed to processID
// (directly or via subscribe_all), per the routing rule in §4.4.
func (h *Hub) BroadcastToProcess(processID string, msg OutMessage) int {
	h.mu.RLock()
	targets := make([]*session, 0)
	for _, s := range h.sessions {
		if s.subs.IsSubscribedToProcess(processID) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	count := 0
	for _, s := range targets {
		if h.sendToSession(s, msg) {
			count++
		}
	}
	return count
}

// UpdateSubscription applies a subscribe/unsubscribe/subscribe_all/
// unsubscribe_all action to session id.
func (h *Hub) UpdateSubscription(id string, action SubscriptionAction, processID string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	switch action {
	case ActionSubscribe:
		if processID != "" {
			s.subs.ProcessIDs[processID] = true
		}
	case ActionUnsubscribe:
		delete(s.subs.ProcessIDs, processID)
	case ActionSubscribeAll:
		s.subs.AllProcesses = true
	case ActionUnsubscribeAll:
		s.subs.AllProcesses = false
		s.subs.ProcessIDs = make(map[string]bool)
	}
	h.mu.Unlock()

	kind := "subscribed"
	if action == ActionUnsubscribe || action == ActionUnsubscribeAll {
		kind = "unsubscribed"
	}
	h.emit(ConnectionEvent{Kind: kind, SessionID: id, Timestamp: time.Now(), Details: string(action)})
}

// UpdateActivity refreshes a session's lastActivityAt (§4.4).
func (h *Hub) UpdateActivity(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		s.lastActivity = time.Now()
	}
}

// GetConnection returns a snapshot of one session.
func (h *Hub) GetConnection(id string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.snapshot(), true
}

// GetConnections returns snapshots of every session matching filter.
func (h *Hub) GetConnections(filter Filter) []Session {
	now := time.Now()
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if filter.matches(s, now) {
			out = append(out, s.snapshot())
		}
	}
	return out
}

// RemoveConnection closes and removes a session. Idempotent.
func (h *Hub) RemoveConnection(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	s.closeOne.Do(func() {
		close(s.done)
		close(s.outbound)
		_ = s.sock.Close()
	})
	h.emit(ConnectionEvent{Kind: "disconnected", SessionID: id, Timestamp: time.Now()})
}

// CleanupInactive removes sessions whose lastActivityAt is older than
// now - maxMs (§4.4's inactivity sweep). Returns the count removed.
func (h *Hub) CleanupInactive(maxMs int64) int {
	cutoff := time.Now().Add(-time.Duration(maxMs) * time.Millisecond)
	h.mu.RLock()
	var stale []string
	for id, s := range h.sessions {
		if s.lastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stale {
		h.RemoveConnection(id)
	}
	return len(stale)
}

// CloseAll closes every session (shutdown, §5).
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.RemoveConnection(id)
	}
}

// OnConnectionEvent registers cb for every future ConnectionEvent and
// returns an unsubscribe function.
func (h *Hub) OnConnectionEvent(cb EventCallback) func() {
	h.cbMu.Lock()
	id := h.nextCBID
	h.nextCBID++
	h.callbacks[id] = cb
	h.cbMu.Unlock()

	return func() {
		h.cbMu.Lock()
		delete(h.callbacks, id)
		h.cbMu.Unlock()
	}
}

func (h *Hub) emit(ev ConnectionEvent) {
	h.cbMu.Lock()
	cbs := make([]EventCallback, 0, len(h.callbacks))
	for _, cb := range h.callbacks {
		cbs = append(cbs, cb)
	}
	h.cbMu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}
