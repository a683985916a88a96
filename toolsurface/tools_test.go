package toolsurface

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/processd/processd/eventbus"
	"github.com/processd/processd/fragment"
	"github.com/processd/processd/knowledge"
	"github.com/processd/processd/process"
	"github.com/processd/processd/queue"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bus := eventbus.New(logger)
	t.Cleanup(bus.Close)

	registry := process.NewRegistry()
	supervisor := process.NewSupervisor(registry, bus, logger, process.DefaultLogBufferSize)

	snapPath := filepath.Join(t.TempDir(), "queue.json")
	scheduler, err := queue.NewScheduler(supervisor, bus, logger, snapPath, queue.DefaultConfig())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	t.Cleanup(scheduler.Close)

	ks, err := knowledge.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("knowledge.New: %v", err)
	}

	fs, err := fragment.NewStore(filepath.Join(t.TempDir(), "fragments.db"), fragment.NewEmbedder())
	if err != nil {
		t.Fatalf("fragment.NewStore: %v", err)
	}
	t.Cleanup(func() { fs.Close() })

	return New(registry, supervisor, scheduler, ks, fs)
}

func TestDispatchUnknownOperation(t *testing.T) {
	s := newTestSurface(t)
	resp := s.Dispatch(context.Background(), "process.frobnicate", nil)
	if !resp.IsError {
		t.Fatal("expected error response for unknown operation")
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	s := newTestSurface(t)
	// process.start requires a non-empty command.
	resp := s.Dispatch(context.Background(), "process.start", map[string]any{
		"title": "no command",
	})
	if !resp.IsError {
		t.Fatal("expected validation error for missing command")
	}
}

func TestProcessStartAndList(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	start := s.Dispatch(ctx, "process.start", map[string]any{
		"title":   "sleep",
		"command": []any{"sleep", "0.1"},
	})
	if start.IsError {
		t.Fatalf("process.start failed: %+v", start)
	}

	list := s.Dispatch(ctx, "process.list", map[string]any{})
	if list.IsError {
		t.Fatalf("process.list failed: %+v", list)
	}
}

func TestQueueSubmitAndStatus(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	submit := s.Dispatch(ctx, "queue.submit", map[string]any{
		"title":   "queued job",
		"command": []any{"true"},
	})
	if submit.IsError {
		t.Fatalf("queue.submit failed: %+v", submit)
	}

	status := s.Dispatch(ctx, "queue.status", map[string]any{"includeEntries": true})
	if status.IsError {
		t.Fatalf("queue.status failed: %+v", status)
	}
}

func TestIssueCreateAndGetMissing(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	created := s.Dispatch(ctx, "issue.create", map[string]any{
		"content": "fix the thing",
		"tags":    []any{"bug"},
	})
	if created.IsError {
		t.Fatalf("issue.create failed: %+v", created)
	}

	notFound := s.Dispatch(ctx, "issue.get", map[string]any{"id": "ISSUE_999"})
	if !notFound.IsError {
		t.Fatal("expected not-found error for missing issue")
	}
}

func TestFragmentCreateAndStats(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	created := s.Dispatch(ctx, "fragment.create", map[string]any{
		"title": "how retries work",
		"body":  "retries use exponential backoff",
	})
	if created.IsError {
		t.Fatalf("fragment.create failed: %+v", created)
	}

	stats := s.Dispatch(ctx, "fragment.stats", map[string]any{})
	if stats.IsError {
		t.Fatalf("fragment.stats failed: %+v", stats)
	}
}

func TestLinkCreateRejectsDuplicate(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	args := map[string]any{
		"sourceId": "FRAG_a",
		"targetId": "FRAG_b",
		"type":     "related",
	}
	first := s.Dispatch(ctx, "link.create", args)
	if first.IsError {
		t.Fatalf("first link.create failed: %+v", first)
	}

	second := s.Dispatch(ctx, "link.create", args)
	if !second.IsError {
		t.Fatal("expected error creating a duplicate source/target/type link")
	}
}
