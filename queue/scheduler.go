package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/processd/processd/errs"
	"github.com/processd/processd/eventbus"
	"github.com/processd/processd/process"
)

// Spawner is the narrow slice of Supervisor the Scheduler depends on, so
// tests can fake process exits without a real OS process.
type Spawner interface {
	Start(spec process.Spec) (process.Record, error)
}

// Scheduler is the Priority Scheduler (C3). Its dispatch worker is a single
// goroutine woken by submit/exit/config/resume/backoff-timer events, the
// same select-on-channels-plus-timer shape as the teacher's
// BackgroundAgentManager.runAgentLoop (background.go), generalized from a
// fixed ticker to an event-driven wake plus a dynamically rearmed backoff timer.
type Scheduler struct {
	logger   *slog.Logger
	bus      *eventbus.Bus
	spawner  Spawner
	snapPath string

	mu      sync.Mutex
	cfg     Config
	paused  bool
	running int
	pq      entryHeap
	byID    map[string]*Entry

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler and loads any existing queue.json
// snapshot at snapPath (SPEC_FULL.md §4.3).
func NewScheduler(spawner Spawner, bus *eventbus.Bus, logger *slog.Logger, snapPath string, cfg Config) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:   logger,
		bus:      bus,
		spawner:  spawner,
		snapPath: snapPath,
		cfg:      cfg,
		byID:     make(map[string]*Entry),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	snap, err := load(snapPath)
	if err != nil {
		return nil, err
	}
	if snap.Config.MaxConcurrent > 0 {
		s.cfg = snap.Config
	}
	now := time.Now()
	for _, e := range snap.Entries {
		if e.Cancelled {
			continue
		}
		entry := e
		if entry.NextEligibleAt.Before(now) {
			// immediately eligible entries resume as-is; §4.3 "resumes; entries
			// whose nextEligibleAt is in the past are immediately eligible".
		}
		s.byID[entry.LogicalID] = &entry
		heap.Push(&s.pq, &entry)
	}

	s.wg.Add(1)
	go s.dispatchLoop()
	s.signal()
	return s, nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop is the single dispatch worker (§5). It wakes on submit/
// config/resume/exit notifications (via signal()) or when the nearest
// backoff timer expires, and on each wake admits as many eligible entries as
// maxConcurrent - running allows.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}

		next := s.dispatchOnce()
		if !next.IsZero() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		}
	}
}

// dispatchOnce admits eligible entries until the concurrency cap is hit or
// none remain, and returns the nearest future nextEligibleAt among the
// entries left behind (so the caller can rearm the backoff timer), or the
// zero Time if none remain.
func (s *Scheduler) dispatchOnce() time.Time {
	for {
		s.mu.Lock()
		if s.paused || s.running >= s.cfg.MaxConcurrent {
			nearest := s.nearestEligibleLocked()
			s.mu.Unlock()
			return nearest
		}
		entry := s.popEligibleLocked()
		if entry == nil {
			nearest := s.nearestEligibleLocked()
			s.mu.Unlock()
			return nearest
		}
		s.running++
		s.mu.Unlock()

		s.admit(entry)
	}
}

// popEligibleLocked removes and returns the best eligible entry from pq, or
// nil if none is eligible right now. Caller holds s.mu.
func (s *Scheduler) popEligibleLocked() *Entry {
	now := time.Now()
	var parked []*Entry
	var found *Entry
	for s.pq.Len() > 0 {
		e := heap.Pop(&s.pq).(*Entry)
		if e.Cancelled {
			delete(s.byID, e.LogicalID)
			continue
		}
		if e.eligible(now) {
			found = e
			break
		}
		parked = append(parked, e)
	}
	for _, p := range parked {
		heap.Push(&s.pq, p)
	}
	return found
}

func (s *Scheduler) nearestEligibleLocked() time.Time {
	var nearest time.Time
	for _, e := range s.pq {
		if e.Cancelled {
			continue
		}
		if nearest.IsZero() || e.NextEligibleAt.Before(nearest) {
			nearest = e.NextEligibleAt
		}
	}
	return nearest
}

func (s *Scheduler) admit(entry *Entry) {
	rec, err := s.spawner.Start(entry.Spec)
	if err != nil {
		s.onSpawnOutcome(entry, false, 1)
		return
	}

	s.mu.Lock()
	entry.ProcessID = rec.ID
	s.mu.Unlock()

	s.subscribeExit(entry, rec.ID)
	s.persist()
}

// subscribeExit listens for the process.exited event for this process id and
// routes the outcome back into retry/running-count bookkeeping.
func (s *Scheduler) subscribeExit(entry *Entry, processID string) eventbus.Unsubscribe {
	ch, unsub := s.bus.Subscribe(eventbus.TopicProcessExited, 4)
	go func() {
		for ev := range ch {
			rec, ok := ev.Payload.(process.Record)
			if !ok || rec.ID != processID {
				continue
			}
			exitCode := 0
			if rec.ExitCode != nil {
				exitCode = *rec.ExitCode
			}
			failed := rec.Status == process.StatusFailed
			s.onSpawnOutcome(entry, !failed, exitCode)
			unsub()
			return
		}
	}()
	return unsub
}

// onSpawnOutcome decrements the running count and, on failure within the
// retry budget, re-enqueues the entry with exponential backoff (§4.3).
func (s *Scheduler) onSpawnOutcome(entry *Entry, success bool, exitCode int) {
	s.mu.Lock()
	s.running--
	delete(s.byID, entry.LogicalID)

	if !success && entry.Attempt <= s.cfg.MaxRetries {
		retry := *entry
		retry.Attempt++
		backoff := float64(s.cfg.BackoffBaseMs) * math.Pow(2, float64(retry.Attempt-1))
		if int(backoff) > s.cfg.BackoffMaxMs {
			backoff = float64(s.cfg.BackoffMaxMs)
		}
		retry.NextEligibleAt = time.Now().Add(time.Duration(backoff) * time.Millisecond)
		retry.ProcessID = ""
		s.byID[retry.LogicalID] = &retry
		heap.Push(&s.pq, &retry)
	}
	s.mu.Unlock()

	s.bus.Publish(eventbus.TopicQueueChanged, s.Status(false))
	s.persist()
	s.signal()
}

// Submit admits spec immediately if immediate=true and a slot is free and
// the scheduler isn't paused; otherwise it enqueues normally (§4.3).
func (s *Scheduler) Submit(spec process.Spec, opts SubmitOptions) (string, string, error) {
	priority := opts.Priority
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return "", "", errs.New(errs.KindInvalidRequest, "priority must be in 1..10")
	}

	entry := &Entry{
		LogicalID:     uuid.NewString(),
		Spec:          spec,
		AdmissionTime: time.Now(),
		Priority:      priority,
		Attempt:       1,
	}

	s.mu.Lock()
	canImmediate := opts.Immediate && !s.paused && s.running < s.cfg.MaxConcurrent
	if canImmediate {
		s.running++
	} else {
		s.byID[entry.LogicalID] = entry
		heap.Push(&s.pq, entry)
	}
	s.mu.Unlock()

	if canImmediate {
		s.admit(entry)
		s.persist()
		return entry.LogicalID, "running", nil
	}

	s.bus.Publish(eventbus.TopicQueueChanged, s.Status(false))
	s.persist()
	s.signal()
	return entry.LogicalID, "queued", nil
}

// Cancel marks a queued entry cancelled. Cancelling a running process is
// delegated to the caller (Supervisor.Stop); cancelling an unknown id is a
// no-op returning false.
func (s *Scheduler) Cancel(logicalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[logicalID]
	if !ok {
		return false
	}
	if entry.Cancelled {
		return false
	}
	entry.Cancelled = true
	delete(s.byID, logicalID)
	s.persistLocked()
	return true
}

// Pause stops admitting new entries until Resume is called.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.bus.Publish(eventbus.TopicQueueChanged, s.Status(false))
	s.persist()
}

// Resume re-enables admission and wakes the dispatch worker.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.bus.Publish(eventbus.TopicQueueChanged, s.Status(false))
	s.persist()
	s.signal()
}

// SetConfig updates the admission/retry policy and wakes the dispatch worker.
func (s *Scheduler) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.persist()
	s.signal()
}

// Status returns a snapshot of running/queued counts and, if requested, the
// full list of queue entries.
func (s *Scheduler) Status(includeEntries bool) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running, Queued: s.pq.Len(), Paused: s.paused}
	if includeEntries {
		entries := make([]Entry, 0, len(s.pq))
		for _, e := range s.pq {
			entries = append(entries, *e)
		}
		st.Entries = entries
	}
	return st
}

func (s *Scheduler) persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

func (s *Scheduler) persistLocked() {
	entries := make([]Entry, 0, len(s.pq))
	for _, e := range s.pq {
		entries = append(entries, *e)
	}
	if err := save(s.snapPath, snapshot{Config: s.cfg, Entries: entries}); err != nil && s.logger != nil {
		s.logger.Error("failed to persist queue snapshot", "error", err)
	}
}

// Drain pauses admission, sleeps for grace, then persists a final snapshot
// (§5 Shutdown). Submit still queues new entries while paused, and Drain
// does not wait on spawns already in flight.
func (s *Scheduler) Drain(grace time.Duration) {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	time.Sleep(grace)
	s.persist()
}

// Close stops the dispatch worker.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
