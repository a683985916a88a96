package knowledge

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateMintsSequentialIDs(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create(CreateRequest{Type: TypeIssue, Content: "first"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := s.Create(CreateRequest{Type: TypeIssue, Content: "second"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if a.ID != "ISSUE_1" || b.ID != "ISSUE_2" {
		t.Fatalf("expected ISSUE_1/ISSUE_2, got %s/%s", a.ID, b.ID)
	}
}

func TestCreateRejectsBadTags(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateRequest{Type: TypeIssue, Content: "x", Tags: []string{"bad tag!"}})
	if err == nil {
		t.Fatal("expected error for invalid tag")
	}
}

func TestUpdateMovesFileBetweenStatusFolders(t *testing.T) {
	s := newTestStore(t)
	e, err := s.Create(CreateRequest{Type: TypeIssue, Content: "body"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newStatus := StatusInProgress
	updated, err := s.Update(e.ID, Patch{Status: &newStatus})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Fatalf("expected in-progress, got %s", updated.Status)
	}

	found, ok, err := s.Get(e.ID)
	if err != nil || !ok {
		t.Fatalf("Get after move: %v %v", found, err)
	}
	if found.Status != StatusInProgress {
		t.Fatalf("expected moved entry status in-progress, got %s", found.Status)
	}
}

func TestMilestoneNeverMoves(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateRequest{Type: TypeMilestone, Content: "goal body", Title: "Q3 Goal"})
	if err != nil {
		t.Fatalf("Create milestone: %v", err)
	}

	newStatus := StatusCompleted
	updated, err := s.Update("GOAL", Patch{Status: &newStatus})
	if err != nil {
		t.Fatalf("Update milestone: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatal("expected status to update")
	}

	got, ok, err := s.Get("GOAL")
	if err != nil || !ok {
		t.Fatalf("Get GOAL: %v %v", ok, err)
	}
	if got.Status != StatusCompleted {
		t.Fatal("milestone status should have updated in place")
	}
}

func TestRenameRewritesCrossReferences(t *testing.T) {
	s := newTestStore(t)
	target, err := s.Create(CreateRequest{Type: TypeIssue, Content: "target"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = s.Create(CreateRequest{Type: TypeIssue, Content: "refers to [[" + target.ID + "]] twice [[" + target.ID + "]]"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updates, err := s.Rename(target.ID, "ISSUE_999", false)
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if len(updates) != 1 || updates[0].Occurrences != 2 {
		t.Fatalf("expected 1 file with 2 occurrences, got %+v", updates)
	}

	broken, err := s.FindBroken()
	if err != nil {
		t.Fatalf("FindBroken: %v", err)
	}
	for _, b := range broken {
		for _, r := range b.BrokenRefs {
			if r.ID == target.ID {
				t.Fatal("old id should no longer appear as a reference")
			}
		}
	}
}

func TestValidateSyntaxFlagsCommonMistakes(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"valid ref [[ISSUE_1]]", 0},
		{"single bracket [ISSUE_1]", 1},
		{"missing close [[ISSUE_1", 1},
		{"lowercase ref [[issue_1]]", 1},
	}
	for _, c := range cases {
		issues := ValidateSyntax(c.text)
		if len(issues) != c.want {
			t.Errorf("ValidateSyntax(%q) = %d issues, want %d: %+v", c.text, len(issues), c.want, issues)
		}
	}
}
