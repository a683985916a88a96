package toolsurface

import (
	"context"

	"github.com/processd/processd/fragment"
)

type linkCreateArgs struct {
	SourceID string            `json:"sourceId" validate:"required"`
	TargetID string            `json:"targetId" validate:"required"`
	Type     string            `json:"type" validate:"required,oneof=answers references related supersedes"`
	Metadata map[string]string `json:"metadata"`
}

func opLinkCreate(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args linkCreateArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	link, err := s.fragments.CreateLink(ctx, args.SourceID, args.TargetID, fragment.LinkType(args.Type), args.Metadata)
	if err != nil {
		return errResponse(err)
	}
	return ok("link created: "+link.ID, link)
}

type linkDeleteArgs struct {
	ID string `json:"id" validate:"required"`
}

func opLinkDelete(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args linkDeleteArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	deleted, err := s.fragments.DeleteLink(ctx, args.ID)
	if err != nil {
		return errResponse(err)
	}
	if !deleted {
		return errResponse(notFoundErr("link", args.ID))
	}
	return ok("link deleted: "+args.ID, nil)
}

type linkQueryArgs struct {
	FragmentID string `json:"fragmentId"`
	SourceID   string `json:"sourceId"`
	TargetID   string `json:"targetId"`
	LinkType   string `json:"linkType" validate:"omitempty,oneof=answers references related supersedes"`
	Direction  string `json:"direction" validate:"omitempty,oneof=outgoing incoming both"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

func opLinkQuery(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args linkQueryArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	links, err := s.fragments.QueryLinks(ctx, fragment.LinkQuery{
		FragmentID: args.FragmentID,
		SourceID:   args.SourceID,
		TargetID:   args.TargetID,
		LinkType:   fragment.LinkType(args.LinkType),
		Direction:  fragment.Direction(args.Direction),
		Offset:     args.Offset,
		Limit:      args.Limit,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("links queried", links)
}

type linkTraverseArgs struct {
	StartID          string   `json:"startId" validate:"required"`
	MaxDepth         int      `json:"maxDepth" validate:"omitempty,min=1,max=10"`
	LinkTypes        []string `json:"linkTypes"`
	Direction        string   `json:"direction" validate:"omitempty,oneof=outgoing incoming both"`
	IncludeFragments bool     `json:"includeFragments"`
}

func opLinkTraverse(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args linkTraverseArgs
	if err := decode(raw, &args); err != nil {
		return errResponse(err)
	}
	types := make([]fragment.LinkType, 0, len(args.LinkTypes))
	for _, t := range args.LinkTypes {
		types = append(types, fragment.LinkType(t))
	}
	result, err := s.fragments.Traverse(ctx, args.StartID, fragment.TraverseOptions{
		MaxDepth:         args.MaxDepth,
		LinkTypes:        types,
		Direction:        fragment.Direction(args.Direction),
		IncludeFragments: args.IncludeFragments,
	})
	if err != nil {
		return errResponse(err)
	}
	return ok("traversal complete", result)
}

type fragmentWithLinksArgs struct {
	ID        string `json:"id" validate:"required"`
	Direction string `json:"direction" validate:"omitempty,oneof=outgoing incoming both"`
}

func opFragmentWithLinks(ctx context.Context, s *Surface, raw map[string]any) Response {
	var args fragmentWithLinksArgs
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
	links, err := s.fragments.GetLinksForFragment(ctx, args.ID, fragment.Direction(args.Direction))
	if err != nil {
		return errResponse(err)
	}
	return ok("fragment with links", map[string]any{"fragment": f, "links": links})
}
