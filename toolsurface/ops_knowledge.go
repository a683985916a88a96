package toolsurface

import (
	"context"
	"time"

	"github.com/processd/processd/knowledge"
)

type issueCreateArgs struct {
	Content    string            `json:"content" validate:"required"`
	Tags       []string          `json:"tags" validate:"required,min=1"`
	Priority   string            `json:"priority" validate:"omitempty,oneof=low medium high"`
	Assignee   string            `json:"assignee"`
	DueDate    *time.Time        `json:"dueDate"`
	RelatedIDs []string          `json:"relatedIds"`
	Metadata   map[string]string `json:"metadata"`
}

func opIssueCreate(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args issueCreateArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	entry, err := s.knowledge.Create(knowledge.CreateRequest{
		Type:       knowledge.TypeIssue,
		Status:     knowledge.StatusOpen,
		Tags:       args.Tags,
		Metadata:   args.Metadata,
		Content:    args.Content,
		Priority:   knowledge.Priority(args.Priority),
		Assignee:   args.Assignee,
		DueDate:    args.DueDate,
		RelatedIDs: args.RelatedIDs,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("issue created: "+entry.ID, entry)
}

type issueGetArgs struct {
	ID string `json:"id" validate:"required"`
}

func opIssueGet(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args issueGetArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	entry, found, err := s.knowledge.Get(args.ID)
	if err != nil {
		return errResponse(err)
	}
	if !found {
		return errResponse(notFoundErr("issue", args.ID))
	}
	return ok("issue found", entry)
}

type issueListArgs struct {
	Tags       []string `json:"tags"`
	Status     string   `json:"status" validate:"omitempty,oneof=open in-progress completed archived"`
	Priority   string   `json:"priority" validate:"omitempty,oneof=low medium high"`
	FullText   string   `json:"fullText"`
	SortBy     string   `json:"sortBy" validate:"omitempty,oneof=timestamp lastUpdated type priority"`
	Descending bool     `json:"descending"`
	Offset     int      `json:"offset"`
	Limit      int      `json:"limit"`
}

func opIssueList(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args issueListArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	entries, err := s.knowledge.Search(knowledge.SearchQuery{
		Type:       knowledge.TypeIssue,
		Tags:       args.Tags,
		Status:     knowledge.Status(args.Status),
		Priority:   knowledge.Priority(args.Priority),
		FullText:   args.FullText,
		SortBy:     knowledge.SortField(args.SortBy),
		Descending: args.Descending,
		Offset:     args.Offset,
		Limit:      args.Limit,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("issues listed", entries)
}

type issueUpdateArgs struct {
	ID         string            `json:"id" validate:"required"`
	Status     *string           `json:"status" validate:"omitempty,oneof=open in-progress completed archived"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"metadata"`
	Content    *string           `json:"content"`
	Priority   *string           `json:"priority" validate:"omitempty,oneof=low medium high"`
	Assignee   *string           `json:"assignee"`
	DueDate    *time.Time        `json:"dueDate"`
	RelatedIDs []string          `json:"relatedIds"`
}

func opIssueUpdate(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args issueUpdateArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	patch := knowledge.Patch{
		Tags:       args.Tags,
		Metadata:   args.Metadata,
		Content:    args.Content,
		Assignee:   args.Assignee,
		DueDate:    args.DueDate,
		RelatedIDs: args.RelatedIDs,
	}
	if args.Status != nil {
		st := knowledge.Status(*args.Status)
		patch.Status = &st
	}
	if args.Priority != nil {
		p := knowledge.Priority(*args.Priority)
		patch.Priority = &p
	}
	entry, err := s.knowledge.Update(args.ID, patch)
	if err != nil {
		return errResponse(err)
	}
	return ok("issue updated: "+entry.ID, entry)
}

type issueDeleteArgs struct {
	ID string `json:"id" validate:"required"`
}

func opIssueDelete(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args issueDeleteArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	if err := s.knowledge.Delete(args.ID); err != nil {
		return errResponse(err)
	}
	return ok("issue deleted: "+args.ID, nil)
}

func opMilestoneGet(ctx context.Context, s *Surface, raw map[string]any) Response {
	entry, found, err := s.knowledge.Get("GOAL")
	if err != nil {
		return errResponse(err)
	}
	if !found {
		return errResponse(notFoundErr("milestone", "GOAL"))
	}
	return ok("milestone found", entry)
}

type milestoneSetArgs struct {
	Title           string            `json:"title" validate:"required"`
	Content         string            `json:"content" validate:"required"`
	TargetDate      *time.Time        `json:"targetDate"`
	Progress        int               `json:"progress" validate:"min=0,max=100"`
	RelatedIssueIDs []string          `json:"relatedIssueIds"`
	Tags            []string          `json:"tags"`
	Metadata        map[string]string `json:"metadata"`
}

func opMilestoneSet(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args milestoneSetArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}

	_, found, err := s.knowledge.Get("GOAL")
	if err != nil {
		return errResponse(err)
	}
	if !found {
		entry, err := s.knowledge.Create(knowledge.CreateRequest{
			Type:            knowledge.TypeMilestone,
			Status:          knowledge.StatusOpen,
			Tags:            args.Tags,
			Metadata:        args.Metadata,
			Content:         args.Content,
			Title:           args.Title,
			TargetDate:      args.TargetDate,
			Progress:        args.Progress,
			RelatedIssueIDs: args.RelatedIssueIDs,
		})
		if err != nil {
			return errResponse(err)
		}
		return ok("milestone created", entry)
	}

	content := args.Content
	title := args.Title
	progress := args.Progress
	entry, err := s.knowledge.Update("GOAL", knowledge.Patch{
		Title:           &title,
		Content:         &content,
		TargetDate:      args.TargetDate,
		Progress:        &progress,
		RelatedIssueIDs: args.RelatedIssueIDs,
		Tags:            args.Tags,
		Metadata:        args.Metadata,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("milestone updated", entry)
}
