package process

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/processd/processd/errs"
)

// Filter narrows Query results. Zero values mean "no constraint" for that field.
type Filter struct {
	Status        map[Status]bool
	IDIn          map[string]bool
	TitleContains string
	After         time.Time
	Before        time.Time
}

func (f Filter) matches(r Record) bool {
	if f.Status != nil && !f.Status[r.Status] {
		return false
	}
	if f.IDIn != nil && !f.IDIn[r.ID] {
		return false
	}
	if f.TitleContains != "" && !strings.Contains(strings.ToLower(r.Title), strings.ToLower(f.TitleContains)) {
		return false
	}
	if !f.After.IsZero() && r.StartTime.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && r.StartTime.After(f.Before) {
		return false
	}
	return true
}

// SortField is one of the columns Query can order by.
type SortField string

const (
	SortByStartTime SortField = "startTime"
	SortByTitle     SortField = "title"
	SortByStatus    SortField = "status"
	SortByPriority  SortField = "priority"
)

// Page bounds a Query result.
type Page struct {
	Offset int
	Limit  int
}

// Mutator is a pure function applied to the current record to produce the
// next record; Registry.Update validates the resulting state transition
// before committing it.
type Mutator func(Record) Record

// Registry is the in-memory process table (C1). All reads return deep
// copies; no caller can mutate stored state through a returned Record. This
// mirrors the teacher's StateStore contract (kanban/store.go) of owning
// mutation behind a narrow method set rather than exposing the map.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Add inserts a new record. It is an error to add a record whose ID already exists.
func (r *Registry) Add(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return errs.New(errs.KindConflict, "process id already registered: "+rec.ID)
	}
	r.records[rec.ID] = rec.clone()
	return nil
}

// Get returns a deep copy of the record, or false if not found.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Update applies mutator to the current record atomically, validates the
// resulting status transition (no-op transitions where status is unchanged
// are always allowed), and commits on success.
func (r *Registry) Update(id string, mutator Mutator) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[id]
	if !ok {
		return Record{}, errs.New(errs.KindNotFound, "no such process: "+id)
	}

	next := mutator(cur.clone())
	if next.Status != cur.Status && !CanTransition(cur.Status, next.Status) {
		return Record{}, errs.New(errs.KindInvalidTransition,
			string(cur.Status)+" -> "+string(next.Status)+" is not a valid transition")
	}
	r.records[id] = next.clone()
	return next.clone(), nil
}

// Remove deletes a record from the table. Idempotent: removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Count returns the number of records matching filter.
func (r *Registry) Count(filter Filter) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if filter.matches(rec) {
			n++
		}
	}
	return n
}

// Query returns records matching filter, sorted by sortBy, paginated by page.
func (r *Registry) Query(filter Filter, sortBy SortField, descending bool, page Page) []Record {
	r.mu.RLock()
	matched := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if filter.matches(rec) {
			matched = append(matched, rec.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		less := lessBy(matched[i], matched[j], sortBy)
		if descending {
			return !less && matched[i].ID != matched[j].ID
		}
		return less
	})

	start := page.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	return matched[start:end]
}

func lessBy(a, b Record, field SortField) bool {
	switch field {
	case SortByTitle:
		return a.Title < b.Title
	case SortByStatus:
		return a.Status < b.Status
	case SortByPriority:
		return a.Priority < b.Priority
	default:
		return a.StartTime.Before(b.StartTime)
	}
}
