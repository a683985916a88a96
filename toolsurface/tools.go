package toolsurface

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/processd/processd/errs"
	"github.com/processd/processd/fragment"
	"github.com/processd/processd/knowledge"
	"github.com/processd/processd/process"
	"github.com/processd/processd/queue"
)

var validate = validator.New()

// validateArgs runs struct-tag validation over args. This is exactly the
// struct-tag validation use case github.com/go-playground/validator/v10 is
// built for (present in the pack's codeready-toolchain-tarsy and
// jordigilh-kubernaut go.mod files); no hand-rolled arg checking here.
func validateArgs(args any) error {
	if err := validate.Struct(args); err != nil {
		return errs.Wrap(errs.KindInvalidRequest, "argument validation failed", err)
	}
	return nil
}

// Surface is the Tool Surface (C7): no business logic lives here, only
// decode -> validate -> dispatch -> envelope wrapping, mirroring the
// teacher's internal/web/api.go handler shape generalized to a name-keyed
// registry instead of per-route http.HandlerFuncs.
type Surface struct {
	registry   *process.Registry
	supervisor *process.Supervisor
	scheduler  *queue.Scheduler
	knowledge  *knowledge.Store
	fragments  *fragment.Store
}

// New builds a Surface wired to the live domain components.
func New(registry *process.Registry, supervisor *process.Supervisor, scheduler *queue.Scheduler, ks *knowledge.Store, fs *fragment.Store) *Surface {
	return &Surface{registry: registry, supervisor: supervisor, scheduler: scheduler, knowledge: ks, fragments: fs}
}

// Operation is one named entry in the registry.
type Operation func(ctx context.Context, s *Surface, args map[string]any) Response

// Operations is the static registry of every named Tool Surface operation
// (§4.7's minimum set).
var Operations = map[string]Operation{
	"process.start": opProcessStart,
	"process.stop":  opProcessStop,
	"process.list":  opProcessList,
	"process.get":   opProcessGet,
	"process.logs":  opProcessLogs,

	"queue.submit": opQueueSubmit,
	"queue.status": opQueueStatus,
	"queue.config": opQueueConfig,
	"queue.pause":  opQueuePause,
	"queue.resume": opQueueResume,
	"queue.cancel": opQueueCancel,

	"issue.create": opIssueCreate,
	"issue.get":    opIssueGet,
	"issue.list":   opIssueList,
	"issue.update": opIssueUpdate,
	"issue.delete": opIssueDelete,

	"milestone.get": opMilestoneGet,
	"milestone.set": opMilestoneSet,

	"fragment.create":         opFragmentCreate,
	"fragment.read":           opFragmentRead,
	"fragment.update":         opFragmentUpdate,
	"fragment.delete":         opFragmentDelete,
	"fragment.list":           opFragmentList,
	"fragment.searchByTitle":  opFragmentSearchByTitle,
	"fragment.searchSimilar":  opFragmentSearchSimilar,
	"fragment.searchAdvanced": opFragmentSearchAdvanced,
	"fragment.stats":          opFragmentStats,

	"link.create":            opLinkCreate,
	"link.delete":            opLinkDelete,
	"link.query":             opLinkQuery,
	"link.traverse":          opLinkTraverse,
	"link.fragmentWithLinks": opFragmentWithLinks,
}

// Dispatch runs the named operation, returning an error-classified
// Response rather than a Go error — every failure mode surfaces through
// the same envelope shape.
func (s *Surface) Dispatch(ctx context.Context, name string, args map[string]any) Response {
	op, ok := Operations[name]
	if !ok {
		return errResponse(errs.New(errs.KindInvalidRequest, fmt.Sprintf("unknown operation %q", name)))
	}
	return op(ctx, s, args)
}
