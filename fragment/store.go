package fragment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/processd/processd/errs"
)

// Store is the Fragment Store (C6): a modernc.org/sqlite table storing the
// embedding as a JSON float array plus an FTS5 virtual table for the
// keyword fallback path, almost verbatim from the teacher's
// agents/rag/store.go VectorStore, generalized from RAG chunks to typed
// Fragments with links.
type Store struct {
	db       *sql.DB
	embedder *Embedder
}

// NewStore opens (or creates) the sqlite file at path and runs migrations.
func NewStore(path string, embedder *Embedder) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open fragment store: %w", err)
	}

	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate fragment store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		type TEXT NOT NULL,
		created DATETIME NOT NULL,
		updated DATETIME NOT NULL,
		tags TEXT NOT NULL,
		metadata TEXT NOT NULL,
		related_ids TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		vector TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fragments_status ON fragments(status);
	CREATE INDEX IF NOT EXISTS idx_fragments_type ON fragments(type);

	CREATE VIRTUAL TABLE IF NOT EXISTS fragments_fts USING fts5(
		id, title, body,
		content='fragments', content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS fragments_ai AFTER INSERT ON fragments BEGIN
		INSERT INTO fragments_fts(id, title, body) VALUES (new.id, new.title, new.body);
	END;
	CREATE TRIGGER IF NOT EXISTS fragments_ad AFTER DELETE ON fragments BEGIN
		DELETE FROM fragments_fts WHERE id = old.id;
	END;
	CREATE TRIGGER IF NOT EXISTS fragments_au AFTER UPDATE ON fragments BEGIN
		DELETE FROM fragments_fts WHERE id = old.id;
		INSERT INTO fragments_fts(id, title, body) VALUES (new.id, new.title, new.body);
	END;

	CREATE TABLE IF NOT EXISTS fragment_links (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		link_type TEXT NOT NULL,
		created DATETIME NOT NULL,
		metadata TEXT,
		UNIQUE(source_id, target_id, link_type)
	);
	CREATE INDEX IF NOT EXISTS idx_links_source ON fragment_links(source_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON fragment_links(target_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRequest is the input to Store.Create.
type CreateRequest struct {
	Title      string
	Body       string
	Type       Kind
	Tags       []string
	Metadata   map[string]string
	RelatedIDs []string
	Priority   int
	Status     Status
}

// Create validates, embeds (title, body), and inserts a new Fragment.
func (s *Store) Create(ctx context.Context, req CreateRequest) (Fragment, error) {
	if req.Title == "" || req.Body == "" {
		return Fragment{}, errs.New(errs.KindInvalidRequest, "title and body are required")
	}
	status := req.Status
	if status == "" {
		status = StatusActive
	}

	vec, err := s.embedWithRetry(ctx, req.Title, req.Body)
	if err != nil {
		return Fragment{}, errs.Wrap(errs.KindInternal, "embedding failed", err)
	}

	now := time.Now()
	f := Fragment{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Body:       req.Body,
		Type:       req.Type,
		Created:    now,
		Updated:    now,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		RelatedIDs: req.RelatedIDs,
		Priority:   req.Priority,
		Status:     status,
		Vector:     vec,
	}

	if err := s.insert(ctx, f); err != nil {
		return Fragment{}, err
	}
	return f, nil
}

// embedWithRetry retries embedding failures with linear backoff up to 3
// attempts; on final failure no partial row is ever inserted (§4.6).
func (s *Store) embedWithRetry(ctx context.Context, title, body string) ([]float32, error) {
	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		vec, err := s.embedder.Embed(ctx, title, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (s *Store) insert(ctx context.Context, f Fragment) error {
	vecJSON, err := json.Marshal(f.Vector)
	if err != nil {
		return err
	}
	tagsJSON, err := json.Marshal(f.Tags)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return err
	}
	relJSON, err := json.Marshal(f.RelatedIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO fragments
		(id, title, body, type, created, updated, tags, metadata, related_ids, priority, status, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Title, f.Body, string(f.Type), f.Created, f.Updated,
		string(tagsJSON), string(metaJSON), string(relJSON), f.Priority, string(f.Status), string(vecJSON))
	return err
}

// Get returns a Fragment by id.
func (s *Store) Get(ctx context.Context, id string) (Fragment, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, body, type, created, updated, tags, metadata, related_ids, priority, status, vector FROM fragments WHERE id = ?`, id)
	f, err := scanFragment(row)
	if err == sql.ErrNoRows {
		return Fragment{}, false, nil
	}
	if err != nil {
		return Fragment{}, false, err
	}
	return f, true, nil
}

// Patch is a partial update to a Fragment; nil fields are unchanged.
type Patch struct {
	Title      *string
	Body       *string
	Type       *Kind
	Tags       []string
	Metadata   map[string]string
	RelatedIDs []string
	Priority   *int
	Status     *Status
}

// Update loads the fragment, applies patch, re-embeds iff title or body
// changed, and persists.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Fragment, error) {
	f, ok, err := s.Get(ctx, id)
	if err != nil {
		return Fragment{}, err
	}
	if !ok {
		return Fragment{}, errs.New(errs.KindNotFound, fmt.Sprintf("fragment %s not found", id))
	}

	reembed := false
	if patch.Title != nil && *patch.Title != f.Title {
		f.Title = *patch.Title
		reembed = true
	}
	if patch.Body != nil && *patch.Body != f.Body {
		f.Body = *patch.Body
		reembed = true
	}
	if patch.Type != nil {
		f.Type = *patch.Type
	}
	if patch.Tags != nil {
		f.Tags = patch.Tags
	}
	if patch.Metadata != nil {
		f.Metadata = patch.Metadata
	}
	if patch.RelatedIDs != nil {
		f.RelatedIDs = patch.RelatedIDs
	}
	if patch.Priority != nil {
		f.Priority = *patch.Priority
	}
	if patch.Status != nil {
		f.Status = *patch.Status
	}

	f.Updated = time.Now()
	if reembed {
		vec, err := s.embedWithRetry(ctx, f.Title, f.Body)
		if err != nil {
			return Fragment{}, errs.Wrap(errs.KindInternal, "re-embedding failed", err)
		}
		f.Vector = vec
	}

	if err := s.insert(ctx, f); err != nil {
		return Fragment{}, err
	}
	return f, nil
}

// Delete removes a fragment by id. Returns false if it didn't exist.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetAll returns up to limit fragments (0 = unbounded), newest updated first.
func (s *Store) GetAll(ctx context.Context, limit int) ([]Fragment, error) {
	query := `SELECT id, title, body, type, created, updated, tags, metadata, related_ids, priority, status, vector FROM fragments ORDER BY updated DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

// Count returns the total number of fragments.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fragments`).Scan(&n)
	return n, err
}

// StoreStats is a breakdown of fragment counts by type and status, the
// summary surfaced by the Tool Surface's fragment stats operation.
type StoreStats struct {
	Total      int
	ByType     map[Kind]int
	ByStatus   map[Status]int
}

// Stats computes a breakdown of fragment counts by type and status.
func (s *Store) Stats(ctx context.Context) (StoreStats, error) {
	all, err := s.GetAll(ctx, 0)
	if err != nil {
		return StoreStats{}, err
	}
	stats := StoreStats{Total: len(all), ByType: make(map[Kind]int), ByStatus: make(map[Status]int)}
	for _, f := range all {
		stats.ByType[f.Type]++
		stats.ByStatus[f.Status]++
	}
	return stats, nil
}

// TimeFilter narrows Search/SearchAdvanced by created/updated instants
// (§4.6's time filter semantics).
type TimeFilter struct {
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
	LastNDays     int
}

func (tf TimeFilter) matches(f Fragment, now time.Time) bool {
	if tf.CreatedAfter != nil && f.Created.Before(*tf.CreatedAfter) {
		return false
	}
	if tf.CreatedBefore != nil && !f.Created.Before(*tf.CreatedBefore) {
		return false
	}
	if tf.UpdatedAfter != nil && f.Updated.Before(*tf.UpdatedAfter) {
		return false
	}
	if tf.UpdatedBefore != nil && !f.Updated.Before(*tf.UpdatedBefore) {
		return false
	}
	if tf.LastNDays > 0 {
		cutoff := now.AddDate(0, 0, -tf.LastNDays)
		if f.Updated.Before(cutoff) {
			return false
		}
	}
	return true
}

// Query is the input to Search: metadata filters AND tag-all AND a full-text
// FTS5 phrase match over {title, body}, which matches whole tokens rather
// than arbitrary substrings.
type Query struct {
	Type       Kind
	Status     Status
	Tags       []string
	FullText   string
	TimeFilter *TimeFilter
	Offset     int
	Limit      int
}

// ftsPhrase quotes query as an FTS5 phrase so arbitrary user text (hyphens,
// colons, etc.) never trips the MATCH expression parser.
func ftsPhrase(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

// fullTextMatchIDs runs query against the fragments_fts virtual table
// (§4.6's keyword path), the teacher's agents/rag/store.go SearchKeyword
// MATCH idiom, and returns the matching fragment ids.
func (s *Store) fullTextMatchIDs(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM fragments_fts WHERE fragments_fts MATCH ?`, ftsPhrase(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Search applies metadata/tag/time filters in memory and pushes full-text
// down to the fragments_fts MATCH index (§4.6).
func (s *Store) Search(ctx context.Context, q Query) ([]Fragment, error) {
	var matchIDs map[string]bool
	if q.FullText != "" {
		ids, err := s.fullTextMatchIDs(ctx, q.FullText)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "full-text search failed", err)
		}
		matchIDs = ids
	}

	all, err := s.GetAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []Fragment
	for _, f := range all {
		if matchIDs != nil && !matchIDs[f.ID] {
			continue
		}
		if !matchesQuery(f, q, now) {
			continue
		}
		out = append(out, f)
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Fragment{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func matchesQuery(f Fragment, q Query, now time.Time) bool {
	if q.Type != "" && f.Type != q.Type {
		return false
	}
	if q.Status != "" && f.Status != q.Status {
		return false
	}
	if len(q.Tags) > 0 {
		for _, want := range q.Tags {
			found := false
			for _, have := range f.Tags {
				if want == have {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if q.TimeFilter != nil && !q.TimeFilter.matches(f, now) {
		return false
	}
	return true
}

// SimilarQuery is the input to SearchSimilar.
type SimilarQuery struct {
	Text      string
	Limit     int
	Threshold float64
	Tags      []string
}

// SearchSimilar embeds query.Text, scores every fragment by cosine
// similarity rescaled to [0,1] (§4.6's resolved Open Question: s =
// (cos+1)/2), applies the threshold (default 0.1), then an in-memory tag
// filter, and returns the best Limit matches.
func (s *Store) SearchSimilar(ctx context.Context, q SimilarQuery) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, "", q.Text)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "query embedding failed", err)
	}

	all, err := s.GetAll(ctx, 0)
	if err != nil {
		return nil, err
	}

	threshold := q.Threshold
	if threshold == 0 {
		threshold = 0.1
	}

	var results []SearchResult
	for _, f := range all {
		if len(q.Tags) > 0 && !hasAnyTag(f.Tags, q.Tags) {
			continue
		}
		sim := similarity(vec, f.Vector)
		if sim >= threshold {
			results = append(results, SearchResult{Fragment: f, Similarity: sim})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	limit := q.Limit
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results, nil
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// AdvancedQuery composes vector search, text search, metadata filters, and
// a time filter (§4.6's searchAdvanced).
type AdvancedQuery struct {
	Text       string
	FullText   string
	Type       Kind
	Status     Status
	Tags       []string
	TimeFilter *TimeFilter
	FilterMode string // "pre" or "post"; pre may be downgraded to post.
	Limit      int
}

// AdvancedResult reports both the matches and the filter strategy actually
// used, since "pre" may be downgraded to "post" (§4.6).
type AdvancedResult struct {
	Results        []SearchResult
	StrategyUsed   string
}

// SearchAdvanced runs the vector search with a multiplier on limit, then
// applies the remaining filters in memory — the two-phase fallback plan
// §4.6 specifies for substrates (like this one) that can't combine
// vector+filter+time in a single pass.
func (s *Store) SearchAdvanced(ctx context.Context, q AdvancedQuery) (AdvancedResult, error) {
	strategy := "post"
	if q.FilterMode == "pre" {
		strategy = "post" // this substrate cannot pre-filter in the vector pass; always downgraded.
	}

	multiplier := 4
	vecLimit := q.Limit * multiplier
	if vecLimit == 0 {
		vecLimit = 40
	}

	vecResults, err := s.SearchSimilar(ctx, SimilarQuery{Text: q.Text, Limit: vecLimit, Tags: q.Tags})
	if err != nil {
		return AdvancedResult{}, err
	}

	var matchIDs map[string]bool
	if q.FullText != "" {
		ids, err := s.fullTextMatchIDs(ctx, q.FullText)
		if err != nil {
			return AdvancedResult{}, errs.Wrap(errs.KindInternal, "full-text search failed", err)
		}
		matchIDs = ids
	}

	now := time.Now()
	var out []SearchResult
	for _, r := range vecResults {
		if q.Type != "" && r.Fragment.Type != q.Type {
			continue
		}
		if q.Status != "" && r.Fragment.Status != q.Status {
			continue
		}
		if matchIDs != nil && !matchIDs[r.Fragment.ID] {
			continue
		}
		if q.TimeFilter != nil && !q.TimeFilter.matches(r.Fragment, now) {
			continue
		}
		out = append(out, r)
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return AdvancedResult{Results: out, StrategyUsed: strategy}, nil
}

// similarity computes cosine similarity and rescales it to [0,1] via
// (cos+1)/2, clamped — the resolved mapping decision (§4.6). Formula
// itself is the teacher's cosineSimilarity in agents/rag/store.go.
func similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	s := (cos + 1) / 2
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFragment(row scanner) (Fragment, error) {
	var f Fragment
	var typ, status, tagsJSON, metaJSON, relJSON, vecJSON string
	err := row.Scan(&f.ID, &f.Title, &f.Body, &typ, &f.Created, &f.Updated, &tagsJSON, &metaJSON, &relJSON, &f.Priority, &status, &vecJSON)
	if err != nil {
		return Fragment{}, err
	}
	f.Type = Kind(typ)
	f.Status = Status(status)
	_ = json.Unmarshal([]byte(tagsJSON), &f.Tags)
	_ = json.Unmarshal([]byte(metaJSON), &f.Metadata)
	_ = json.Unmarshal([]byte(relJSON), &f.RelatedIDs)
	if err := json.Unmarshal([]byte(vecJSON), &f.Vector); err != nil {
		return Fragment{}, fmt.Errorf("corrupt vector for fragment %s: %w", f.ID, err)
	}
	return f, nil
}

func scanFragments(rows *sql.Rows) ([]Fragment, error) {
	var out []Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
