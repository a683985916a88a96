package fragment

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fragments.db")
	s, err := NewStore(path, NewEmbedder())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.Create(ctx, CreateRequest{Title: "Restart loop", Body: "Process keeps restarting on exit 1", Type: KindQuestion})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(f.Vector) != Dimension {
		t.Fatalf("expected vector of length %d, got %d", Dimension, len(f.Vector))
	}

	got, ok, err := s.Get(ctx, f.ID)
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if got.Title != f.Title {
		t.Fatalf("expected title %q, got %q", f.Title, got.Title)
	}
}

func TestSearchSimilarFindsClosestMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	related, err := s.Create(ctx, CreateRequest{Title: "process restart loop", Body: "process keeps restarting due to nonzero exit code", Type: KindQuestion})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = s.Create(ctx, CreateRequest{Title: "unrelated topic", Body: "database migration scripts for the billing service", Type: KindNote})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	results, err := s.SearchSimilar(ctx, SimilarQuery{Text: "why does my process keep restarting", Limit: 5})
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Fragment.ID != related.ID {
		t.Fatalf("expected closest match to be %s, got %s", related.ID, results[0].Fragment.ID)
	}
	if results[0].Similarity < 0 || results[0].Similarity > 1 {
		t.Fatalf("similarity out of [0,1] range: %f", results[0].Similarity)
	}
}

func TestUpdateReembedsOnlyWhenTitleOrBodyChange(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := s.Create(ctx, CreateRequest{Title: "A", Body: "B", Type: KindNote})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newPriority := 7
	updated, err := s.Update(ctx, f.ID, Patch{Priority: &newPriority})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !vectorsEqual(updated.Vector, f.Vector) {
		t.Fatal("vector should be unchanged when title/body are unchanged")
	}

	newBody := "completely different content"
	updated2, err := s.Update(ctx, f.ID, Patch{Body: &newBody})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if vectorsEqual(updated2.Vector, f.Vector) {
		t.Fatal("vector should change when body changes")
	}
}

func vectorsEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLinkCRUDAndSelfLinkRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _ := s.Create(ctx, CreateRequest{Title: "A", Body: "a body", Type: KindQuestion})
	b, _ := s.Create(ctx, CreateRequest{Title: "B", Body: "b body", Type: KindAnswer})

	if _, err := s.CreateLink(ctx, a.ID, a.ID, LinkRelated, nil); err == nil {
		t.Fatal("expected error creating self-link")
	}

	link, err := s.CreateLink(ctx, a.ID, b.ID, LinkAnswers, nil)
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	if _, err := s.CreateLink(ctx, a.ID, b.ID, LinkAnswers, nil); err == nil {
		t.Fatal("expected duplicate (source,target,type) to fail")
	}

	links, err := s.GetLinksForFragment(ctx, a.ID, DirectionOutgoing)
	if err != nil {
		t.Fatalf("GetLinksForFragment: %v", err)
	}
	if len(links) != 1 || links[0].ID != link.ID {
		t.Fatalf("expected one outgoing link, got %+v", links)
	}
}

func TestTraverseDetectsCycles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _ := s.Create(ctx, CreateRequest{Title: "A", Body: "a", Type: KindNote})
	b, _ := s.Create(ctx, CreateRequest{Title: "B", Body: "b", Type: KindNote})
	c, _ := s.Create(ctx, CreateRequest{Title: "C", Body: "c", Type: KindNote})

	if _, err := s.CreateLink(ctx, a.ID, b.ID, LinkRelated, nil); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if _, err := s.CreateLink(ctx, b.ID, c.ID, LinkRelated, nil); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if _, err := s.CreateLink(ctx, c.ID, a.ID, LinkRelated, nil); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}

	result, err := s.Traverse(ctx, a.ID, TraverseOptions{MaxDepth: 5, Direction: DirectionOutgoing})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if result.TotalNodes != 3 {
		t.Fatalf("expected 3 nodes, got %d", result.TotalNodes)
	}
	if result.CyclesDetected == 0 {
		t.Fatal("expected at least one cycle detected")
	}
}

func TestIntegrityReportFindsDanglingLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _ := s.Create(ctx, CreateRequest{Title: "A", Body: "a", Type: KindNote})
	b, _ := s.Create(ctx, CreateRequest{Title: "B", Body: "b", Type: KindNote})
	if _, err := s.CreateLink(ctx, a.ID, b.ID, LinkRelated, nil); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if _, err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	existsFn := func(id string) bool {
		_, ok, _ := s.Get(ctx, id)
		return ok
	}

	report, err := s.IntegrityReport(ctx, existsFn)
	if err != nil {
		t.Fatalf("IntegrityReport: %v", err)
	}
	if len(report.DanglingDst) != 1 {
		t.Fatalf("expected 1 dangling target, got %d", len(report.DanglingDst))
	}
}
