package knowledge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// refPattern is the single canonical cross-reference scanner (SPEC_FULL.md
// §9's "regex-heavy cross-reference tooling" redesign flag): every other
// helper in this file consumes its output rather than re-scanning text.
var refPattern = regexp.MustCompile(`\[\[([A-Z]+_\d+)\]\]`)

const issuePrefix = "ISSUE_"

func refType(id string) EntryType {
	if strings.HasPrefix(id, issuePrefix) {
		return TypeIssue
	}
	return TypeIssue
}

// parseRefs scans text for well-formed [[ID]] tokens and returns each with
// its byte position and length (§4.5).
func parseRefs(text string) []Ref {
	matches := refPattern.FindAllStringSubmatchIndex(text, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		start, end := m[0], m[1]
		id := text[m[2]:m[3]]
		refs = append(refs, Ref{ID: id, Type: refType(id), Position: start, Length: end - start})
	}
	return refs
}

// ResolveRefs batches unique ids across all refs in text and looks each one
// up once (§4.5).
func (s *Store) ResolveRefs(text string) ([]ResolvedRef, error) {
	refs := parseRefs(text)
	cache := make(map[string]*Entry)
	out := make([]ResolvedRef, 0, len(refs))
	for _, r := range refs {
		entry, ok := cache[r.ID]
		if !ok {
			e, found, err := s.Get(r.ID)
			if err != nil {
				return nil, err
			}
			if found {
				entry = &e
			}
			cache[r.ID] = entry
		}
		out = append(out, ResolvedRef{Ref: r, Exists: entry != nil, Entry: entry})
	}
	return out, nil
}

// FindBroken scans every entry on disk for [[ID]] tokens that do not
// resolve to an existing entry (§4.5). Broken references are a warning
// condition, not an error: deleting a referenced entry remains allowed.
func (s *Store) FindBroken() ([]BrokenRefReport, error) {
	all, err := s.allFiles()
	if err != nil {
		return nil, err
	}

	var reports []BrokenRefReport
	for _, f := range all {
		entry, err := s.readFile(f.path)
		if err != nil {
			continue
		}
		refs := parseRefs(entry.Content)
		var broken []Ref
		for _, r := range refs {
			if r.ID == entry.ID {
				continue
			}
			if _, found, _ := s.Get(r.ID); !found {
				broken = append(broken, r)
			}
		}
		if len(broken) > 0 {
			reports = append(reports, BrokenRefReport{FilePath: f.path, SourceID: entry.ID, BrokenRefs: broken})
		}
	}
	return reports, nil
}

// Rename rewrites every [[oldID]] occurrence across every file to
// [[newID]]. The id of the entry named oldID is never touched by this
// operation — only references to it (§4.5). When dryRun is true no file is
// modified; the would-be updates are still returned.
func (s *Store) Rename(oldID, newID string, dryRun bool) ([]RefUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.allFiles()
	if err != nil {
		return nil, err
	}

	token := "[[" + oldID + "]]"
	replacement := "[[" + newID + "]]"

	var updates []RefUpdate
	for _, f := range all {
		entry, err := s.readFile(f.path)
		if err != nil {
			continue
		}
		count := strings.Count(entry.Content, token)
		if count == 0 {
			continue
		}
		updates = append(updates, RefUpdate{FilePath: f.path, Occurrences: count})
		if dryRun {
			continue
		}
		entry.Content = strings.ReplaceAll(entry.Content, token, replacement)
		if err := s.writeFile(f.path, entry); err != nil {
			return updates, fmt.Errorf("failed to rewrite references in %s: %w", f.path, err)
		}
	}
	return updates, nil
}

// ValidateSyntax flags common [[ID]] authoring mistakes without false
// positives on valid spans (§4.5): an unmatched single bracket, one
// missing bracket, a lowercase prefix, or a missing underscore between
// prefix and number.
func ValidateSyntax(text string) []SyntaxIssue {
	var issues []SyntaxIssue

	validSpans := refPattern.FindAllStringIndex(text, -1)
	isInsideValid := func(pos int) bool {
		for _, span := range validSpans {
			if pos >= span[0] && pos < span[1] {
				return true
			}
		}
		return false
	}

	malformed := regexp.MustCompile(`\[{1,2}[A-Za-z]+_?\d+\]{0,2}`)
	for _, m := range malformed.FindAllStringIndex(text, -1) {
		if isInsideValid(m[0]) {
			continue
		}
		frag := text[m[0]:m[1]]
		issues = append(issues, classifyMalformed(frag, m[0], m[1]-m[0]))
	}

	sort.Slice(issues, func(i, j int) bool { return issues[i].Position < issues[j].Position })
	return issues
}

func classifyMalformed(frag string, pos, length int) SyntaxIssue {
	switch {
	case strings.HasPrefix(frag, "[[") && !strings.HasSuffix(frag, "]]"):
		return SyntaxIssue{Position: pos, Length: length, Message: "missing closing bracket", Suggestion: frag + "]]"}
	case !strings.HasPrefix(frag, "[[") && strings.HasSuffix(frag, "]]"):
		return SyntaxIssue{Position: pos, Length: length, Message: "missing opening bracket", Suggestion: "[[" + frag}
	case strings.HasPrefix(frag, "[") && !strings.HasPrefix(frag, "[["):
		return SyntaxIssue{Position: pos, Length: length, Message: "single bracket, expected [[ID]]", Suggestion: "[" + frag + "]"}
	case !strings.Contains(frag, "_"):
		return SyntaxIssue{Position: pos, Length: length, Message: "missing underscore between prefix and number", Suggestion: insertUnderscore(frag)}
	default:
		trimmed := strings.Trim(frag, "[]")
		if trimmed != strings.ToUpper(trimmed) {
			return SyntaxIssue{Position: pos, Length: length, Message: "prefix must be uppercase", Suggestion: "[[" + strings.ToUpper(trimmed) + "]]"}
		}
		return SyntaxIssue{Position: pos, Length: length, Message: "malformed cross-reference"}
	}
}

func insertUnderscore(frag string) string {
	trimmed := strings.Trim(frag, "[]")
	loc := regexp.MustCompile(`^([A-Za-z]+)(\d+)$`).FindStringSubmatch(trimmed)
	if loc == nil {
		return "[[" + trimmed + "]]"
	}
	return "[[" + strings.ToUpper(loc[1]) + "_" + loc[2] + "]]"
}

// Stats computes the aggregate cross-reference report (§4.5 stats()).
func (s *Store) Stats() (RefStats, error) {
	all, err := s.allFiles()
	if err != nil {
		return RefStats{}, err
	}

	referencedBy := make(map[string]int)  // target id -> count referenced
	referencing := make(map[string]int)   // source id -> count of refs it makes
	targets := make(map[string]bool)
	total := 0
	broken := 0

	for _, f := range all {
		entry, err := s.readFile(f.path)
		if err != nil {
			continue
		}
		refs := parseRefs(entry.Content)
		for _, r := range refs {
			total++
			targets[r.ID] = true
			referencedBy[r.ID]++
			referencing[entry.ID]++
			if _, found, _ := s.Get(r.ID); !found {
				broken++
			}
		}
	}

	return RefStats{
		TotalRefs:      total,
		UniqueTargets:  len(targets),
		BrokenRefs:     broken,
		TopReferenced:  topN(referencedBy, 10),
		TopReferencing: topN(referencing, 10),
	}, nil
}

func topN(counts map[string]int, n int) []RefCount {
	out := make([]RefCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, RefCount{ID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
