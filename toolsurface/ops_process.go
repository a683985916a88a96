package toolsurface

import (
	"context"
	"time"

	"github.com/processd/processd/process"
)

type processStartArgs struct {
	Title    string         `json:"title" validate:"required"`
	Command  []string       `json:"command" validate:"required,min=1"`
	Env      map[string]string `json:"env"`
	Cwd      string         `json:"cwd"`
	Priority int            `json:"priority"`
	Metadata map[string]any `json:"metadata"`
}

func opProcessStart(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args processStartArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}

	rec, err := s.supervisor.Start(process.Spec{
		Title:    args.Title,
		Command:  args.Command,
		Env:      args.Env,
		Cwd:      args.Cwd,
		Priority: args.Priority,
		Metadata: args.Metadata,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("process started: "+rec.ID, rec)
}

type processStopArgs struct {
	ID        string `json:"id" validate:"required"`
	Force     bool   `json:"force"`
	TimeoutMs int    `json:"timeoutMs"`
}

func opProcessStop(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args processStopArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	timeout := 5 * time.Second
	if args.TimeoutMs > 0 {
		timeout = time.Duration(args.TimeoutMs) * time.Millisecond
	}
	rec, err := s.supervisor.Stop(args.ID, args.Force, timeout)
	if err != nil {
		return errResponse(err)
	}
	return ok("process stopped: "+rec.ID, rec)
}

type processListArgs struct {
	Status []string `json:"status"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

func opProcessList(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args processListArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}

	filter := process.Filter{}
	if len(args.Status) > 0 {
		filter.Status = make(map[process.Status]bool, len(args.Status))
		for _, st := range args.Status {
			filter.Status[process.Status(st)] = true
		}
	}

	records := s.registry.Query(filter, process.SortByStartTime, true, process.Page{Offset: args.Offset, Limit: args.Limit})
	return ok("processes listed", records)
}

type processGetArgs struct {
	ID string `json:"id" validate:"required"`
}

func opProcessGet(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args processGetArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	rec, found := s.registry.Get(args.ID)
	if !found {
		return errResponse(notFoundErr("process", args.ID))
	}
	return ok("process found", rec)
}

type processLogsArgs struct {
	ID      string `json:"id" validate:"required"`
	Stream  string `json:"stream"`
	SinceID uint64 `json:"sinceId"`
	Limit   int    `json:"limit"`
}

func opProcessLogs(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args processLogsArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	entries, err := s.supervisor.GetLogs(args.ID, process.Stream(args.Stream), args.SinceID, args.Limit)
	if err != nil {
		return errResponse(err)
	}
	return ok("logs retrieved", entries)
}
