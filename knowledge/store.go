package knowledge

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/processd/processd/errs"
	"gopkg.in/yaml.v3"
)

const goalFileName = "GOAL.md"

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// fileRef is one entry's location on disk, found while walking status folders.
type fileRef struct {
	path   string
	status Status
}

// Store is the Knowledge Store (C5). A single mutex serializes ID minting
// and cross-store mutations, the same guard shape as the teacher's
// kanban.State protecting its filePath (kanban/state.go).
type Store struct {
	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Store rooted at root, creating the status subdirectories
// if they don't already exist.
func New(root string, logger *slog.Logger) (*Store, error) {
	s := &Store{root: root, logger: logger}
	for _, folder := range StatusFolders {
		if err := os.MkdirAll(filepath.Join(root, folder), 0755); err != nil {
			return nil, fmt.Errorf("failed to create knowledge folder %s: %w", folder, err)
		}
	}
	return s, nil
}

// Create mints an id (or resolves to the milestone singleton), validates
// required fields and tag format, and writes the entry atomically into the
// folder matching its initial status.
func (s *Store) Create(req CreateRequest) (Entry, error) {
	if req.Content == "" {
		return Entry{}, errs.New(errs.KindInvalidRequest, "content is required")
	}
	for _, tag := range req.Tags {
		if !tagPattern.MatchString(tag) {
			return Entry{}, errs.New(errs.KindInvalidRequest, fmt.Sprintf("invalid tag %q", tag))
		}
	}

	status := req.Status
	if status == "" {
		status = StatusOpen
	}

	now := time.Now()
	entry := Entry{
		Status:      status,
		Timestamp:   now,
		LastUpdated: now,
		Tags:        req.Tags,
		Metadata:    req.Metadata,
		Content:     req.Content,
		Priority:    req.Priority,
		Assignee:    req.Assignee,
		DueDate:     req.DueDate,
		RelatedIDs:  req.RelatedIDs,
		Title:       req.Title,
		TargetDate:  req.TargetDate,
		Progress:    req.Progress,
		RelatedIssueIDs: req.RelatedIssueIDs,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Type == TypeMilestone {
		entry.Type = TypeMilestone
		entry.ID = "GOAL"
		if err := s.writeFile(filepath.Join(s.root, goalFileName), entry); err != nil {
			return Entry{}, err
		}
		return entry, nil
	}

	entry.Type = TypeIssue
	id, err := s.nextIDLocked(TypeIssue)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id

	path := filepath.Join(s.root, StatusFolders[status], id+".md")
	if err := s.writeFile(path, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// nextIDLocked scans all status folders for issue filenames and returns
// prefix+(max+1). Caller holds s.mu.
func (s *Store) nextIDLocked(t EntryType) (string, error) {
	prefix := issuePrefix
	max := 0
	for _, folder := range StatusFolders {
		dir := filepath.Join(s.root, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".md")
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
			if err != nil {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	return fmt.Sprintf("%s%d", prefix, max+1), nil
}

// Get searches the four status folders in order and the milestone
// singleton, returning the first match.
func (s *Store) Get(id string) (Entry, bool, error) {
	if id == "GOAL" {
		path := filepath.Join(s.root, goalFileName)
		if _, err := os.Stat(path); err != nil {
			return Entry{}, false, nil
		}
		e, err := s.readFile(path)
		if err != nil {
			return Entry{}, false, err
		}
		return e, true, nil
	}

	for _, status := range []Status{StatusOpen, StatusInProgress, StatusCompleted, StatusArchived} {
		path := filepath.Join(s.root, StatusFolders[status], id+".md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		e, err := s.readFile(path)
		if err != nil {
			return Entry{}, false, err
		}
		return e, true, nil
	}
	return Entry{}, false, nil
}

// Update loads the entry, applies patch, sets lastUpdated=now, and moves
// the file between status folders if status changed. The milestone never
// moves; it stays at GOAL.md.
func (s *Store) Update(id string, patch Patch) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldPath, entry, err := s.locateLocked(id)
	if err != nil {
		return Entry{}, err
	}

	applyPatch(&entry, patch)
	entry.LastUpdated = time.Now()

	if entry.Type == TypeMilestone {
		if err := s.writeFile(oldPath, entry); err != nil {
			return Entry{}, err
		}
		return entry, nil
	}

	newPath := filepath.Join(s.root, StatusFolders[entry.Status], id+".md")
	if newPath == oldPath {
		if err := s.writeFile(oldPath, entry); err != nil {
			return Entry{}, err
		}
		return entry, nil
	}

	if err := s.writeFile(newPath, entry); err != nil {
		return Entry{}, err
	}
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return Entry{}, fmt.Errorf("failed to remove old location %s: %w", oldPath, err)
	}
	return entry, nil
}

func applyPatch(e *Entry, p Patch) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Tags != nil {
		e.Tags = p.Tags
	}
	if p.Metadata != nil {
		e.Metadata = p.Metadata
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.Assignee != nil {
		e.Assignee = *p.Assignee
	}
	if p.DueDate != nil {
		e.DueDate = p.DueDate
	}
	if p.RelatedIDs != nil {
		e.RelatedIDs = p.RelatedIDs
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.TargetDate != nil {
		e.TargetDate = p.TargetDate
	}
	if p.Progress != nil {
		e.Progress = *p.Progress
	}
	if p.RelatedIssueIDs != nil {
		e.RelatedIssueIDs = p.RelatedIssueIDs
	}
}

// locateLocked finds an entry's current file path and parsed contents.
// Caller holds s.mu.
func (s *Store) locateLocked(id string) (string, Entry, error) {
	if id == "GOAL" {
		path := filepath.Join(s.root, goalFileName)
		e, err := s.readFile(path)
		if err != nil {
			return "", Entry{}, errs.New(errs.KindNotFound, "milestone not found")
		}
		return path, e, nil
	}
	for _, status := range []Status{StatusOpen, StatusInProgress, StatusCompleted, StatusArchived} {
		path := filepath.Join(s.root, StatusFolders[status], id+".md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		e, err := s.readFile(path)
		if err != nil {
			return "", Entry{}, err
		}
		return path, e, nil
	}
	return "", Entry{}, errs.New(errs.KindNotFound, fmt.Sprintf("entry %s not found", id))
}

// Delete removes the entry's file. Deleting an entry referenced elsewhere
// is allowed; references become broken (surfaced by FindBroken).
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, _, err := s.locateLocked(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Search streams all files, parses frontmatter, and filters/sorts/paginates.
func (s *Store) Search(q SearchQuery) ([]Entry, error) {
	all, err := s.allFiles()
	if err != nil {
		return nil, err
	}

	var results []Entry
	for _, f := range all {
		e, err := s.readFile(f.path)
		if err != nil {
			continue
		}
		if !matchesQuery(e, q) {
			continue
		}
		results = append(results, e)
	}

	sortField := q.SortBy
	if sortField == "" {
		sortField = SortTimestamp
	}
	sort.Slice(results, func(i, j int) bool {
		less := lessBy(results[i], results[j], sortField)
		if q.Descending {
			return !less
		}
		return less
	})

	if q.Offset > 0 {
		if q.Offset >= len(results) {
			return []Entry{}, nil
		}
		results = results[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(results) {
		results = results[:q.Limit]
	}
	return results, nil
}

func matchesQuery(e Entry, q SearchQuery) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if q.Priority != "" && e.Priority != q.Priority {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
		for _, want := range q.Tags {
			for _, have := range e.Tags {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	if q.FullText != "" && !strings.Contains(strings.ToLower(e.Content), strings.ToLower(q.FullText)) {
		return false
	}
	return true
}

func lessBy(a, b Entry, field SortField) bool {
	switch field {
	case SortLastUpdated:
		return a.LastUpdated.Before(b.LastUpdated)
	case SortType:
		return a.Type < b.Type
	case SortPriority:
		return priorityRank(a.Priority) < priorityRank(b.Priority)
	default:
		return a.Timestamp.Before(b.Timestamp)
	}
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// allFiles walks every status folder plus the milestone singleton.
func (s *Store) allFiles() ([]fileRef, error) {
	var all []fileRef
	for status, folder := range StatusFolders {
		dir := filepath.Join(s.root, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			all = append(all, fileRef{path: filepath.Join(dir, e.Name()), status: status})
		}
	}
	if _, err := os.Stat(filepath.Join(s.root, goalFileName)); err == nil {
		all = append(all, fileRef{path: filepath.Join(s.root, goalFileName)})
	}
	return all, nil
}

// readFile parses a YAML-frontmatter+markdown file into an Entry.
func (s *Store) readFile(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return parseEntry(data)
}

func parseEntry(data []byte) (Entry, error) {
	const delim = "---"
	text := string(data)
	if !strings.HasPrefix(text, delim) {
		return Entry{}, fmt.Errorf("missing frontmatter delimiter")
	}
	rest := text[len(delim):]
	end := strings.Index(rest, "\n"+delim)
	if end == -1 {
		return Entry{}, fmt.Errorf("unterminated frontmatter")
	}
	frontmatter := rest[:end]
	body := strings.TrimPrefix(rest[end+len(delim)+1:], "\n")

	var e Entry
	if err := yaml.Unmarshal([]byte(frontmatter), &e); err != nil {
		return Entry{}, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	e.Content = strings.TrimPrefix(body, "\n")
	return e, nil
}

// writeFile serializes an Entry to YAML-frontmatter+markdown and writes it
// atomically (temp+rename), the teacher's kanban/state.go Save() idiom.
func (s *Store) writeFile(path string, e Entry) error {
	fm, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(e.Content)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s into place: %w", path, err)
	}
	return nil
}
