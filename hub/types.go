// Package hub implements the Connection Hub (C4): a WebSocket session table
// with subscription routing, filtered broadcast, and inactivity sweep.
// Transport is github.com/gorilla/websocket (the one teacher-gap the rest of
// the pack fills — codeready-toolchain-tarsy's pkg/api/websocket.go is the
// direct model for Upgrader/register/unregister/broadcast shape); the
// per-session fan-out worker and non-blocking broadcast idiom are grounded on
// the teacher's internal/web/sse.go per-client channel pattern.
package hub

import (
	"time"
)

// State is the WebSocket session lifecycle state (SPEC_FULL.md §3.3).
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Subscriptions tracks which processes a session wants events for.
type Subscriptions struct {
	ProcessIDs   map[string]bool
	AllProcesses bool
}

func newSubscriptions() Subscriptions {
	return Subscriptions{ProcessIDs: make(map[string]bool)}
}

func (s Subscriptions) clone() Subscriptions {
	c := Subscriptions{AllProcesses: s.AllProcesses, ProcessIDs: make(map[string]bool, len(s.ProcessIDs))}
	for k, v := range s.ProcessIDs {
		c.ProcessIDs[k] = v
	}
	return c
}

// IsSubscribedToProcess reports whether the session receives events for pid.
func (s Subscriptions) IsSubscribedToProcess(pid string) bool {
	return s.AllProcesses || s.ProcessIDs[pid]
}

// Session is a read-only snapshot of one connected client (§3.3). Mutable
// state (the socket, the outbound channel) is never exposed; callers only
// ever see this snapshot shape.
type Session struct {
	ID              string
	State           State
	ConnectedAt     time.Time
	LastActivityAt  time.Time
	Subscriptions   Subscriptions
	Metadata        map[string]any
}

// SubscriptionAction is a client->server subscription control message kind.
type SubscriptionAction string

const (
	ActionSubscribe      SubscriptionAction = "subscribe"
	ActionUnsubscribe    SubscriptionAction = "unsubscribe"
	ActionSubscribeAll   SubscriptionAction = "subscribe_all"
	ActionUnsubscribeAll SubscriptionAction = "unsubscribe_all"
)

// Filter narrows which sessions a broadcast/query targets. Multiple
// criteria AND together (§4.4).
type Filter struct {
	SessionIDs      map[string]bool
	States          map[State]bool
	SubscribedToAll bool
	ProcessIDs      []string
	InactiveSinceMs int64
}

func (f Filter) matches(s *session, now time.Time) bool {
	if f.SessionIDs != nil && !f.SessionIDs[s.id] {
		return false
	}
	if f.States != nil && !f.States[s.state] {
		return false
	}
	if f.SubscribedToAll && !s.subs.AllProcesses {
		return false
	}
	if len(f.ProcessIDs) > 0 {
		match := false
		for _, pid := range f.ProcessIDs {
			if s.subs.IsSubscribedToProcess(pid) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.InactiveSinceMs > 0 {
		cutoff := now.Add(-time.Duration(f.InactiveSinceMs) * time.Millisecond)
		if s.lastActivity.After(cutoff) {
			return false
		}
	}
	return true
}

// ConnectionEvent is delivered to onConnectionEvent callbacks (§4.4).
type ConnectionEvent struct {
	Kind      string // connected, disconnected, subscribed, unsubscribed, error
	SessionID string
	Timestamp time.Time
	Details   string
}

// OutMessage is a server->client WebSocket frame (SPEC_FULL.md §6).
type OutMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// InMessage is a client->server WebSocket frame (SPEC_FULL.md §6).
type InMessage struct {
	Type      string `json:"type"`
	ProcessID string `json:"processId,omitempty"`
}

// socket is the narrow interface a transport connection must satisfy; the
// real implementation wraps *websocket.Conn, tests use a fake.
type socket interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

const outboundHighWaterMark = 256
