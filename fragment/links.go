package fragment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/processd/processd/errs"
)

// Direction narrows link queries/traversal relative to a fragment.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

func linkID(sourceID, targetID string, t LinkType) string {
	return fmt.Sprintf("link_%s_%s_%s", sourceID, targetID, t)
}

// CreateLink inserts a FragmentLink. Self-links are forbidden; the
// (source,target,type) triple must be unique (§3.6).
func (s *Store) CreateLink(ctx context.Context, sourceID, targetID string, t LinkType, metadata map[string]string) (Link, error) {
	if sourceID == targetID {
		return Link{}, errs.New(errs.KindInvalidRequest, "self-links are forbidden")
	}

	id := linkID(sourceID, targetID, t)
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return Link{}, err
	}

	link := Link{ID: id, SourceID: sourceID, TargetID: targetID, Type: t, Created: time.Now(), Metadata: metadata}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fragment_links (id, source_id, target_id, link_type, created, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, link.ID, link.SourceID, link.TargetID, string(link.Type), link.Created, string(metaJSON))
	if err != nil {
		return Link{}, errs.Wrap(errs.KindConflict, fmt.Sprintf("link %s already exists", id), err)
	}
	return link, nil
}

// DeleteLink removes a link by id.
func (s *Store) DeleteLink(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragment_links WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetLink returns a Link by id.
func (s *Store) GetLink(ctx context.Context, id string) (Link, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source_id, target_id, link_type, created, metadata FROM fragment_links WHERE id = ?`, id)
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, err
	}
	return link, true, nil
}

// LinkQuery narrows QueryLinks.
type LinkQuery struct {
	FragmentID string
	SourceID   string
	TargetID   string
	LinkType   LinkType
	Direction  Direction
	Offset     int
	Limit      int
}

// QueryLinks returns links matching the given criteria.
func (s *Store) QueryLinks(ctx context.Context, q LinkQuery) ([]Link, error) {
	var clauses []string
	var args []any

	if q.SourceID != "" {
		clauses = append(clauses, "source_id = ?")
		args = append(args, q.SourceID)
	}
	if q.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, q.TargetID)
	}
	if q.LinkType != "" {
		clauses = append(clauses, "link_type = ?")
		args = append(args, string(q.LinkType))
	}
	if q.FragmentID != "" {
		switch q.Direction {
		case DirectionOutgoing:
			clauses = append(clauses, "source_id = ?")
			args = append(args, q.FragmentID)
		case DirectionIncoming:
			clauses = append(clauses, "target_id = ?")
			args = append(args, q.FragmentID)
		default:
			clauses = append(clauses, "(source_id = ? OR target_id = ?)")
			args = append(args, q.FragmentID, q.FragmentID)
		}
	}

	query := `SELECT id, source_id, target_id, link_type, created, metadata FROM fragment_links`
	if len(clauses) > 0 {
		query += " WHERE " + joinAnd(clauses)
	}
	query += " ORDER BY created ASC"
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// GetLinksForFragment is QueryLinks narrowed to one fragment and direction.
func (s *Store) GetLinksForFragment(ctx context.Context, id string, direction Direction) ([]Link, error) {
	return s.QueryLinks(ctx, LinkQuery{FragmentID: id, Direction: direction})
}

// DeleteLinksForFragment removes every link touching id and returns the count removed.
func (s *Store) DeleteLinksForFragment(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragment_links WHERE source_id = ? OR target_id = ?`, id, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FindOrphaned classifies links whose source or target no longer exists
// according to existsFn (§4.6's integrity model: the link store never
// promises consistency with the fragment table; this is the reconciler).
func (s *Store) FindOrphaned(ctx context.Context, existsFn func(id string) bool) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, target_id, link_type, created, metadata FROM fragment_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphaned []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			continue
		}
		if !existsFn(l.SourceID) || !existsFn(l.TargetID) {
			orphaned = append(orphaned, l)
		}
	}
	return orphaned, rows.Err()
}

// IntegrityReport counts all links and lists dangling links by side. It does
// not look for duplicate (source,target,type) triples; the UNIQUE constraint
// on fragment_links rejects those on insert.
func (s *Store) IntegrityReport(ctx context.Context, existsFn func(id string) bool) (IntegrityReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, target_id, link_type, created, metadata FROM fragment_links`)
	if err != nil {
		return IntegrityReport{}, err
	}
	defer rows.Close()

	var report IntegrityReport
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			continue
		}
		report.TotalLinks++
		srcOK := existsFn(l.SourceID)
		dstOK := existsFn(l.TargetID)
		if !srcOK {
			report.DanglingSrc = append(report.DanglingSrc, l)
		}
		if !dstOK {
			report.DanglingDst = append(report.DanglingDst, l)
		}
	}
	return report, rows.Err()
}

// TraversalNode is one fragment reached during Traverse.
type TraversalNode struct {
	Fragment Fragment
	Depth    int
	LinkPath []string
}

// TraversalResult is the output of Traverse (§4.6).
type TraversalResult struct {
	StartFragmentID string
	Nodes           map[string]TraversalNode
	TotalNodes      int
	MaxDepthReached int
	CyclesDetected  int
}

// TraverseOptions configures Traverse.
type TraverseOptions struct {
	MaxDepth         int
	LinkTypes        []LinkType
	Direction        Direction
	IncludeFragments bool
}

// Traverse performs a breadth-first walk from startID, following links up
// to MaxDepth (1..10, default 3). A visited set prevents re-expansion;
// cycles are counted but do not abort the walk (§4.6).
func (s *Store) Traverse(ctx context.Context, startID string, opts TraverseOptions) (TraversalResult, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if maxDepth > 10 {
		maxDepth = 10
	}
	direction := opts.Direction
	if direction == "" {
		direction = DirectionBoth
	}

	result := TraversalResult{StartFragmentID: startID, Nodes: make(map[string]TraversalNode)}

	type queueItem struct {
		id       string
		depth    int
		linkPath []string
	}

	visited := map[string]bool{startID: true}
	queue := []queueItem{{id: startID, depth: 0}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		frag, ok, err := s.Get(ctx, item.id)
		if err != nil {
			return result, err
		}
		node := TraversalNode{Depth: item.depth, LinkPath: item.linkPath}
		if ok && opts.IncludeFragments {
			node.Fragment = frag
		}
		result.Nodes[item.id] = node
		if item.depth > result.MaxDepthReached {
			result.MaxDepthReached = item.depth
		}

		if item.depth >= maxDepth {
			continue
		}

		links, err := s.GetLinksForFragment(ctx, item.id, direction)
		if err != nil {
			return result, err
		}
		for _, l := range links {
			if len(opts.LinkTypes) > 0 && !containsLinkType(opts.LinkTypes, l.Type) {
				continue
			}
			next := l.TargetID
			if next == item.id {
				next = l.SourceID
			}
			if visited[next] {
				result.CyclesDetected++
				continue
			}
			visited[next] = true
			queue = append(queue, queueItem{id: next, depth: item.depth + 1, linkPath: append(append([]string{}, item.linkPath...), l.ID)})
		}
	}

	result.TotalNodes = len(result.Nodes)
	return result, nil
}

func containsLinkType(types []LinkType, t LinkType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

func scanLink(row scanner) (Link, error) {
	var l Link
	var linkType, metaJSON sql.NullString
	err := row.Scan(&l.ID, &l.SourceID, &l.TargetID, &linkType, &l.Created, &metaJSON)
	if err != nil {
		return Link{}, err
	}
	l.Type = LinkType(linkType.String)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &l.Metadata)
	}
	return l, nil
}
