package toolsurface

import (
	"context"

	"github.com/processd/processd/fragment"
)

type fragmentCreateArgs struct {
	Title      string            `json:"title" validate:"required"`
	Body       string            `json:"body" validate:"required"`
	Type       string            `json:"type" validate:"omitempty,oneof=question answer note documentation issue solution reference"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"metadata"`
	RelatedIDs []string          `json:"relatedIds"`
	Priority   int               `json:"priority"`
	Status     string            `json:"status" validate:"omitempty,oneof=active archived draft"`
}

func opFragmentCreate(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentCreateArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	f, err := s.fragments.Create(ctx, fragment.CreateRequest{
		Title:      args.Title,
		Body:       args.Body,
		Type:       fragment.Kind(args.Type),
		Tags:       args.Tags,
		Metadata:   args.Metadata,
		RelatedIDs: args.RelatedIDs,
		Priority:   args.Priority,
		Status:     fragment.Status(args.Status),
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("fragment created: "+f.ID, f)
}

type fragmentReadArgs struct {
	ID string `json:"id" validate:"required"`
}

func opFragmentRead(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentReadArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	f, found, err := s.fragments.Get(ctx, args.ID)
	if err != nil {
		return errResponse(err)
	}
	if !found {
		return errResponse(notFoundErr("fragment", args.ID))
	}
	return ok("fragment found", f)
}

type fragmentUpdateArgs struct {
	ID         string            `json:"id" validate:"required"`
	Title      *string           `json:"title"`
	Body       *string           `json:"body"`
	Type       *string           `json:"type" validate:"omitempty,oneof=question answer note documentation issue solution reference"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"metadata"`
	RelatedIDs []string          `json:"relatedIds"`
	Priority   *int              `json:"priority"`
	Status     *string           `json:"status" validate:"omitempty,oneof=active archived draft"`
}

func opFragmentUpdate(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentUpdateArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	patch := fragment.Patch{
		Title:      args.Title,
		Body:       args.Body,
		Tags:       args.Tags,
		Metadata:   args.Metadata,
		RelatedIDs: args.RelatedIDs,
		Priority:   args.Priority,
	}
	if args.Type != nil {
		t := fragment.Kind(*args.Type)
		patch.Type = &t
	}
	if args.Status != nil {
		st := fragment.Status(*args.Status)
		patch.Status = &st
	}
	f, err := s.fragments.Update(ctx, args.ID, patch)
	if err != nil {
		return errResponse(err)
	}
	return ok("fragment updated: "+f.ID, f)
}

type fragmentDeleteArgs struct {
	ID string `json:"id" validate:"required"`
}

func opFragmentDelete(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentDeleteArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	deleted, err := s.fragments.Delete(ctx, args.ID)
	if err != nil {
		return errResponse(err)
	}
	if !deleted {
		return errResponse(notFoundErr("fragment", args.ID))
	}
	return ok("fragment deleted: "+args.ID, nil)
}

type fragmentListArgs struct {
	Type       string             `json:"type" validate:"omitempty,oneof=question answer note documentation issue solution reference"`
	Status     string             `json:"status" validate:"omitempty,oneof=active archived draft"`
	Tags       []string           `json:"tags"`
	FullText   string             `json:"fullText"`
	TimeFilter *fragmentTimeInput `json:"timeFilter"`
	Offset     int                `json:"offset"`
	Limit      int                `json:"limit"`
}

type fragmentTimeInput struct {
	CreatedAfter  *string `json:"createdAfter"`
	CreatedBefore *string `json:"createdBefore"`
	UpdatedAfter  *string `json:"updatedAfter"`
	UpdatedBefore *string `json:"updatedBefore"`
	LastNDays     int     `json:"lastNDays"`
}

func opFragmentList(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentListArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	entries, err := s.fragments.Search(ctx, fragment.Query{
		Type:       fragment.Kind(args.Type),
		Status:     fragment.Status(args.Status),
		Tags:       args.Tags,
		FullText:   args.FullText,
		TimeFilter: parseTimeFilter(args.TimeFilter),
		Offset:     args.Offset,
		Limit:      args.Limit,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("fragments listed", entries)
}

type fragmentSearchByTitleArgs struct {
	Title string `json:"title" validate:"required"`
	Limit int    `json:"limit"`
}

func opFragmentSearchByTitle(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentSearchByTitleArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	entries, err := s.fragments.Search(ctx, fragment.Query{FullText: args.Title, Limit: args.Limit})
	if err != nil {
		return errResponse(err)
	}
	return ok("fragments matched", entries)
}

type fragmentSearchSimilarArgs struct {
	Text      string   `json:"text" validate:"required"`
	Limit     int      `json:"limit"`
	Threshold float64  `json:"threshold" validate:"omitempty,min=0,max=1"`
	Tags      []string `json:"tags"`
}

func opFragmentSearchSimilar(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentSearchSimilarArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	results, err := s.fragments.SearchSimilar(ctx, fragment.SimilarQuery{
		Text:      args.Text,
		Limit:     args.Limit,
		Threshold: args.Threshold,
		Tags:      args.Tags,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("similar fragments found", results)
}

type fragmentSearchAdvancedArgs struct {
	Text       string             `json:"text"`
	FullText   string             `json:"fullText"`
	Type       string             `json:"type" validate:"omitempty,oneof=question answer note documentation issue solution reference"`
	Status     string             `json:"status" validate:"omitempty,oneof=active archived draft"`
	Tags       []string           `json:"tags"`
	TimeFilter *fragmentTimeInput `json:"timeFilter"`
	FilterMode string             `json:"filterMode" validate:"omitempty,oneof=pre post"`
	Limit      int                `json:"limit"`
}

func opFragmentSearchAdvanced(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentSearchAdvancedArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	result, err := s.fragments.SearchAdvanced(ctx, fragment.AdvancedQuery{
		Text:       args.Text,
		FullText:   args.FullText,
		Type:       fragment.Kind(args.Type),
		Status:     fragment.Status(args.Status),
		Tags:       args.Tags,
		TimeFilter: parseTimeFilter(args.TimeFilter),
		FilterMode: args.FilterMode,
		Limit:      args.Limit,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("advanced search complete, strategy="+result.StrategyUsed, result)
}

func opFragmentStats(ctx context.Context, s *Surface, raw map[string]any) Response {
	stats, err := s.fragments.Stats(ctx)
	if err != nil {
		return errResponse(err)
	}
	return ok("fragment stats", stats)
}
