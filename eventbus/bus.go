// Package eventbus provides a typed, in-process publish/subscribe bus wiring
// the Process Supervisor, Priority Scheduler, and Knowledge/Fragment stores to
// the Connection Hub. Generalized from the ticker-and-channel worker shape of
// the teacher's background.go BackgroundAgentManager: one dispatch goroutine
// drains a buffered channel per topic and fans out to subscribers in publish
// order, so every subscriber of a topic sees events in the order they were
// published, at most once each.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Topic names used across the system. Components may publish ad-hoc topics
// too (e.g. "fragment.created"); these constants cover the ones referenced by
// more than one component.
const (
	TopicProcessCreated   = "process.created"
	TopicProcessStarted   = "process.started"
	TopicProcessLog       = "process.log"
	TopicProcessExited    = "process.exited"
	TopicQueueChanged     = "queue.changed"
	TopicKnowledgeCreated = "knowledge.created"
	TopicKnowledgeUpdated = "knowledge.updated"
	TopicKnowledgeDeleted = "knowledge.deleted"
	TopicFragmentCreated  = "fragment.created"
	TopicFragmentUpdated  = "fragment.updated"
	TopicFragmentDeleted  = "fragment.deleted"
	TopicLinkCreated      = "link.created"
	TopicLinkDeleted      = "link.deleted"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic   string
	Payload any
}

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type subscriber struct {
	id int
	ch chan Event
}

type topicState struct {
	mu     sync.Mutex
	queue  []Event
	subs   []subscriber
	nextID int
	notify chan struct{}
}

// Bus is the central event dispatcher. Each topic gets its own ordered queue
// and dispatch worker so that a slow subscriber on one topic never delays
// delivery on another, matching §5's "cross-component calls never hold locks
// across await/yield points".
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topicState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bus with its own cancellable background context; Close
// cancels that context and waits for dispatch workers to drain.
func New(logger *slog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger: logger,
		topics: make(map[string]*topicState),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Bus) topic(name string) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{notify: make(chan struct{}, 1)}
		b.topics[name] = t
		b.wg.Add(1)
		go b.dispatchLoop(name, t)
	}
	return t
}

// dispatchLoop is the single per-topic worker: it wakes whenever Publish signals
// notify, drains the queue under the topic lock, and fans each event out to
// every subscriber channel in publish order. Subscribers that can't keep up
// get the event dropped for them (non-blocking send) rather than stalling the
// publisher — the same non-blocking broadcast idiom the teacher's SSE handler
// and background.go's status channel both use.
func (b *Bus) dispatchLoop(name string, t *topicState) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-t.notify:
		}
		for {
			t.mu.Lock()
			if len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			ev := t.queue[0]
			t.queue = t.queue[1:]
			subs := make([]subscriber, len(t.subs))
			copy(subs, t.subs)
			t.mu.Unlock()

			for _, s := range subs {
				select {
				case s.ch <- ev:
				default:
					if b.logger != nil {
						b.logger.Warn("event subscriber slow, dropping event", "topic", name, "subscriber", s.id)
					}
				}
			}
		}
	}
}

// Publish enqueues an event on topic. Never blocks on delivery.
func (b *Bus) Publish(topic string, payload any) {
	t := b.topic(topic)
	t.mu.Lock()
	t.queue = append(t.queue, Event{Topic: topic, Payload: payload})
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Subscribe registers ch to receive events published on topic and returns an
// Unsubscribe handle. Buffer size controls how many events may queue for this
// subscriber before new ones are dropped (see dispatchLoop).
func (b *Bus) Subscribe(topic string, buffer int) (<-chan Event, Unsubscribe) {
	t := b.topic(topic)
	ch := make(chan Event, buffer)

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber{id: id, ch: ch})
	t.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			t.mu.Lock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Close stops all dispatch workers and waits for them to exit.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
