// Package fragment implements the Fragment Store (C6): a sqlite-backed
// vector+metadata substrate for semantically indexed Fragments, typed
// FragmentLinks between them, and hybrid (vector + full-text) search.
// Grounded on the teacher's agents/rag/store.go VectorStore (sqlite +
// FTS5 + manual cosine similarity) and agents/rag/embedder.go's two-tier
// embed pipeline, per SPEC_FULL.md §4.6/§4.10.
package fragment

import "time"

// Kind is a Fragment's content category (§3.5).
type Kind string

const (
	KindQuestion      Kind = "question"
	KindAnswer        Kind = "answer"
	KindNote          Kind = "note"
	KindDocumentation Kind = "documentation"
	KindIssue         Kind = "issue"
	KindSolution      Kind = "solution"
	KindReference     Kind = "reference"
)

// Status is a Fragment's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Fragment is a semantically indexed unit of knowledge (§3.5). Vector has
// fixed length Dimension, set at store creation; (Title, Body) is its
// preimage.
type Fragment struct {
	ID         string
	Title      string
	Body       string
	Type       Kind
	Created    time.Time
	Updated    time.Time
	Tags       []string
	Metadata   map[string]string
	RelatedIDs []string
	Priority   int
	Status     Status
	Vector     []float32
}

// LinkType is the relationship a FragmentLink expresses (§3.6).
type LinkType string

const (
	LinkAnswers    LinkType = "answers"
	LinkReferences LinkType = "references"
	LinkRelated    LinkType = "related"
	LinkSupersedes LinkType = "supersedes"
)

// Link is a FragmentLink: a directed, typed edge between two fragments.
// Id is `link_{sourceId}_{targetId}_{linkType}`; self-links are forbidden
// and (source,target,type) is unique.
type Link struct {
	ID       string
	SourceID string
	TargetID string
	Type     LinkType
	Created  time.Time
	Metadata map[string]string
}

// SearchOptions groups common search knobs (§4.6). Store.Search takes a
// Query and Store.SearchSimilar a SimilarQuery; neither takes SearchOptions.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
	Type          Kind
	Status        Status
	Tags          []string
}

// SearchResult pairs a Fragment with its similarity score (§4.6's
// cosine-rescaled-to-[0,1] mapping).
type SearchResult struct {
	Fragment   Fragment
	Similarity float64
}

// IntegrityReport summarizes FragmentLink consistency: links whose source
// or target no longer exists (§5's "foreign-key integrity verified on
// demand, not enforced by the substrate").
type IntegrityReport struct {
	TotalLinks  int
	DanglingSrc []Link
	DanglingDst []Link
}
