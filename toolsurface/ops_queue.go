package toolsurface

import (
	"context"

	"github.com/processd/processd/errs"
	"github.com/processd/processd/process"
	"github.com/processd/processd/queue"
)

type queueSubmitArgs struct {
	Title     string            `json:"title" validate:"required"`
	Command   []string          `json:"command" validate:"required,min=1"`
	Env       map[string]string `json:"env"`
	Cwd       string            `json:"cwd"`
	Priority  int               `json:"priority" validate:"omitempty,min=1,max=10"`
	Immediate bool              `json:"immediate"`
	Metadata  map[string]any    `json:"metadata"`
}

func opQueueSubmit(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args queueSubmitArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}

	logicalID, state, err := s.scheduler.Submit(process.Spec{
		Title:    args.Title,
		Command:  args.Command,
		Env:      args.Env,
		Cwd:      args.Cwd,
		Priority: args.Priority,
		Metadata: args.Metadata,
	}, queue.SubmitOptions{Priority: args.Priority, Immediate: args.Immediate})
	if err != nil {
		return errResponse(err)
	}
	return ok("queue entry "+state+": "+logicalID, map[string]string{"logicalId": logicalID, "state": state})
}

type queueStatusArgs struct {
	IncludeEntries bool `json:"includeEntries"`
}

func opQueueStatus(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args queueStatusArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	return ok("queue status", s.scheduler.Status(args.IncludeEntries))
}

type queueConfigArgs struct {
	MaxConcurrent int `json:"maxConcurrent" validate:"required,min=1"`
	MaxRetries    int `json:"maxRetries" validate:"min=0"`
	BackoffBaseMs int `json:"backoffBaseMs" validate:"min=0"`
	BackoffMaxMs  int `json:"backoffMaxMs" validate:"min=0"`
}

func opQueueConfig(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args queueConfigArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	s.scheduler.SetConfig(queue.Config{
		MaxConcurrent: args.MaxConcurrent,
		MaxRetries:    args.MaxRetries,
		BackoffBaseMs: args.BackoffBaseMs,
		BackoffMaxMs:  args.BackoffMaxMs,
	})
	return ok("queue config updated", s.scheduler.Status(false))
}

func opQueuePause(ctx context.Context, s *Surface, raw map[string]any) Response {
	s.scheduler.Pause()
	return ok("queue paused", s.scheduler.Status(false))
}

func opQueueResume(ctx context.Context, s *Surface, raw map[string]any) Response {
	s.scheduler.Resume()
	return ok("queue resumed", s.scheduler.Status(false))
}

type queueCancelArgs struct {
	LogicalID string `json:"logicalId" validate:"required"`
}

func opQueueCancel(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args queueCancelArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	if !s.scheduler.Cancel(args.LogicalID) {
		return errResponse(errs.New(errs.KindNotFound, "no such queued entry: "+args.LogicalID))
	}
	return ok("queue entry cancelled: "+args.LogicalID, nil)
}
