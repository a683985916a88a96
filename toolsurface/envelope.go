// Package toolsurface implements the Tool Surface (C7): a static registry
// of named operations, each validating its JSON arguments before
// dispatching to a domain method and wrapping the result in a transport-
// agnostic response envelope. Grounded on the teacher's internal/web/api.go
// decode-request -> call-domain -> encode-response handler shape,
// generalized from per-route http.HandlerFuncs to a name-keyed registry
// callable from both the HTTP mirror and the stdio loop (SPEC_FULL.md §4.7).
package toolsurface

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/processd/processd/errs"
)

// titleCaser renders a Response's lead summary line in title case, the same
// use the teacher's agents/spawner.go template funcs put golang.org/x/text to
// for ticket titles.
var titleCaser = cases.Title(language.English)

// Content is one block of a Response (§4.7's envelope shape).
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the Tool Surface's uniform success/error envelope.
type Response struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ok wraps a human summary and the JSON-encoded result into the two-block
// content shape every operation returns on success.
func ok(summary string, result any) Response {
	detail, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		detail = []byte(fmt.Sprintf("%v", result))
	}
	return Response{Content: []Content{
		{Type: "text", Text: titleCaser.String(summary)},
		{Type: "text", Text: string(detail)},
	}}
}

// notFoundErr builds a consistent KindNotFound error for "kind id" lookups
// shared across every op*Get-style operation.
func notFoundErr(kind, id string) error {
	return errs.New(errs.KindNotFound, fmt.Sprintf("no such %s: %s", kind, id))
}

// errResponse classifies err per the domain error taxonomy (§7) and wraps
// it as an error envelope.
func errResponse(err error) Response {
	kind := errs.KindOf(err)
	return Response{
		IsError: true,
		Content: []Content{
			{Type: "text", Text: fmt.Sprintf("%s: %v", kind, err)},
		},
	}
}
