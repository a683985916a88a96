// Package knowledge implements the Knowledge Store (C5): a file-per-entry
// markdown+YAML-frontmatter substrate for issues and milestones, with
// [[ID]] cross-reference parsing, rewriting, and linting. Grounded on the
// teacher's kanban/types.go (rich status-driven entity) and kanban/state.go
// (mutex-guarded, atomic temp+rename persistence), adapted from a single
// JSON board file to a folder-per-status layout of individual markdown
// files, per SPEC_FULL.md §4.5.
package knowledge

import "time"

// EntryType distinguishes issues from the singleton milestone.
type EntryType string

const (
	TypeIssue     EntryType = "issue"
	TypeMilestone EntryType = "milestone"
)

// Status is the knowledge entry lifecycle stage; its folder mapping is the
// STATUS_FOLDERS table below.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

// StatusFolders maps each status to its on-disk subdirectory name
// (SPEC_FULL.md §4.5's STATUS_FOLDERS table).
var StatusFolders = map[Status]string{
	StatusOpen:       "open",
	StatusInProgress: "in-progress",
	StatusCompleted:  "completed",
	StatusArchived:   "archived",
}

// Priority is an issue's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Entry is a KnowledgeEntry (§3.4): the common fields for both issues and
// the milestone, plus the type-specific fields folded in (milestone fields
// are zero-valued on issues and vice versa, mirroring how the teacher's
// Ticket struct carries fields for every ticket shape in one type).
type Entry struct {
	ID          string            `yaml:"id" json:"id"`
	Type        EntryType         `yaml:"type" json:"type"`
	Status      Status            `yaml:"status" json:"status"`
	Timestamp   time.Time         `yaml:"timestamp" json:"timestamp"`
	LastUpdated time.Time         `yaml:"lastUpdated" json:"lastUpdated"`
	Tags        []string          `yaml:"tags" json:"tags"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Content     string            `yaml:"-" json:"content"`

	// Issue fields.
	Priority   Priority   `yaml:"priority,omitempty" json:"priority,omitempty"`
	Assignee   string     `yaml:"assignee,omitempty" json:"assignee,omitempty"`
	DueDate    *time.Time `yaml:"dueDate,omitempty" json:"dueDate,omitempty"`
	RelatedIDs []string   `yaml:"relatedIds,omitempty" json:"relatedIds,omitempty"`

	// Milestone fields.
	Title           string     `yaml:"title,omitempty" json:"title,omitempty"`
	TargetDate      *time.Time `yaml:"targetDate,omitempty" json:"targetDate,omitempty"`
	Progress        int        `yaml:"progress,omitempty" json:"progress,omitempty"`
	RelatedIssueIDs []string   `yaml:"relatedIssueIds,omitempty" json:"relatedIssueIds,omitempty"`
}

// CreateRequest is the input to Store.Create.
type CreateRequest struct {
	Type       EntryType
	Status     Status
	Tags       []string
	Metadata   map[string]string
	Content    string
	Priority   Priority
	Assignee   string
	DueDate    *time.Time
	RelatedIDs []string

	Title           string
	TargetDate      *time.Time
	Progress        int
	RelatedIssueIDs []string
}

// Patch is a partial update to an existing entry; nil fields are left
// unchanged. Passed to Store.Update.
type Patch struct {
	Status     *Status
	Tags       []string
	Metadata   map[string]string
	Content    *string
	Priority   *Priority
	Assignee   *string
	DueDate    *time.Time
	RelatedIDs []string

	Title           *string
	TargetDate      *time.Time
	Progress        *int
	RelatedIssueIDs []string
}

// SearchQuery filters and sorts Store.Search results.
type SearchQuery struct {
	Type       EntryType
	Tags       []string
	Status     Status
	Priority   Priority
	FullText   string
	SortBy     SortField
	Descending bool
	Offset     int
	Limit      int
}

// SortField is one of the sortable Entry attributes.
type SortField string

const (
	SortTimestamp   SortField = "timestamp"
	SortLastUpdated SortField = "lastUpdated"
	SortType        SortField = "type"
	SortPriority    SortField = "priority"
)

// Ref is one [[ID]] occurrence found by parseRefs.
type Ref struct {
	ID       string
	Type     EntryType
	Position int
	Length   int
}

// ResolvedRef pairs a Ref with whether its target exists.
type ResolvedRef struct {
	Ref    Ref
	Exists bool
	Entry  *Entry
}

// BrokenRefReport is one file's broken cross-references (findBroken).
type BrokenRefReport struct {
	FilePath   string
	SourceID   string
	BrokenRefs []Ref
}

// RefUpdate is one file rewritten by Rename.
type RefUpdate struct {
	FilePath  string
	Occurrences int
}

// SyntaxIssue is one problem found by ValidateSyntax.
type SyntaxIssue struct {
	Position   int
	Length     int
	Message    string
	Suggestion string
}

// RefStats is the aggregate cross-reference report (§4.5 stats()).
type RefStats struct {
	TotalRefs     int
	UniqueTargets int
	BrokenRefs    int
	TopReferenced  []RefCount
	TopReferencing []RefCount
}

// RefCount is one entry in a RefStats leaderboard.
type RefCount struct {
	ID    string
	Count int
}
