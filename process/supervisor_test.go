package process

import (
	"log/slog"
	"testing"
	"time"

	"github.com/processd/processd/eventbus"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *eventbus.Bus) {
	t.Helper()
	logger := slog.Default()
	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)

	registry := NewRegistry()
	return NewSupervisor(registry, bus, logger, DefaultLogBufferSize), bus
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// TestStartRunsToCompletionAndRecordsExit covers the supervised-exit path:
// a process that exits cleanly transitions to stopped with exit code 0.
func TestStartRunsToCompletionAndRecordsExit(t *testing.T) {
	s, _ := newTestSupervisor(t)

	rec, err := s.Start(Spec{Title: "true", Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Status != StatusRunning {
		t.Fatalf("expected running immediately after Start, got %s", rec.Status)
	}

	waitFor(t, func() bool {
		got, ok := s.registry.Get(rec.ID)
		return ok && IsTerminal(got.Status)
	})

	final, ok := s.registry.Get(rec.ID)
	if !ok {
		t.Fatal("expected record to still exist after exit")
	}
	if final.Status != StatusStopped {
		t.Fatalf("expected stopped, got %s", final.Status)
	}
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", final.ExitCode)
	}
}

// TestLogOrderingIsMonotonicAndInOrder is scenario #3 from spec.md's
// end-to-end seed list: stdout lines must arrive as process.log events in
// emission order with strictly increasing timestamps.
func TestLogOrderingIsMonotonicAndInOrder(t *testing.T) {
	s, bus := newTestSupervisor(t)

	ch, unsub := bus.Subscribe(eventbus.TopicProcessLog, 16)
	defer unsub()

	rec, err := s.Start(Spec{Title: "echoer", Command: []string{"sh", "-c", "echo out-1; echo out-2; echo out-3"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var lines []string
	var timestamps []time.Time
	deadline := time.After(2 * time.Second)
collect:
	for len(lines) < 3 {
		select {
		case ev := <-ch:
			entry, ok := ev.Payload.(ProcessLogEvent)
			if !ok || entry.ProcessID != rec.ID {
				continue
			}
			lines = append(lines, entry.Entry.Text)
			timestamps = append(timestamps, entry.Entry.Timestamp)
		case <-deadline:
			break collect
		}
	}

	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %v", lines)
	}
	if lines[0] != "out-1" || lines[1] != "out-2" || lines[2] != "out-3" {
		t.Fatalf("expected out-1,out-2,out-3 in order, got %v", lines)
	}
	for i := 1; i < len(timestamps); i++ {
		if !timestamps[i].After(timestamps[i-1]) {
			t.Fatalf("expected strictly monotonic timestamps, got %v", timestamps)
		}
	}
}

// TestStopTerminatesRunningProcess covers Stop's happy path on a long-lived
// process: SIGTERM (force=false) should bring it to a terminal state well
// within the grace timeout.
func TestStopTerminatesRunningProcess(t *testing.T) {
	s, _ := newTestSupervisor(t)

	rec, err := s.Start(Spec{Title: "sleep", Command: []string{"sleep", "5"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped, err := s.Stop(rec.ID, false, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !IsTerminal(stopped.Status) {
		t.Fatalf("expected terminal status after Stop, got %s", stopped.Status)
	}
}

func TestStopRejectsUnknownProcess(t *testing.T) {
	s, _ := newTestSupervisor(t)
	if _, err := s.Stop("no-such-id", false, time.Second); err == nil {
		t.Fatal("expected error stopping an unknown process id")
	}
}
