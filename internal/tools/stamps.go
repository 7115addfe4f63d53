// ABOUTME: Stamp tools: look up a stamp, search stamps, and list recent stamps.

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/registry"
	"github.com/2389/stampchain-mcp/internal/stampchain"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

func (ts *Toolset) stampTools() []Definition {
	return []Definition{
		{
			Category: CategoryStamps,
			Tool: registry.Tool{
				Name:        "get_stamp",
				Description: "Get details of a Bitcoin stamp by stamp number or CPID",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"stamp_id":{"type":["string","integer"],"description":"Stamp number or CPID"}},"required":["stamp_id"]}`),
				Metadata:    metadata(),
				Execute:     ts.GetStamp,
			},
		},
		{
			Category: CategoryStamps,
			Tool: registry.Tool{
				Name:        "search_stamps",
				Description: "Search stamps by creator, collection, or file type",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"creator":{"type":"string"},"collection_id":{"type":"string"},"ident":{"type":"string","enum":["STAMP","SRC-20","SRC-721"]},` + pagingSchema + `}}`),
				Metadata:    metadata(),
				Execute:     ts.SearchStamps,
			},
		},
		{
			Category: CategoryStamps,
			Tool: registry.Tool{
				Name:        "get_recent_stamps",
				Description: "List the most recently created stamps",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":100}}}`),
				Metadata:    metadata(),
				Execute:     ts.GetRecentStamps,
			},
		},
	}
}

type getStampInput struct {
	StampID flexID `json:"stamp_id"`
}

// GetStamp returns one stamp plus a resource item pointing at its content.
func (ts *Toolset) GetStamp(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in getStampInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.StampID == "" {
		return nil, toolerr.New(toolerr.KindValidation, "stamp_id is required")
	}

	api, err := ts.apiFor(ec)
	if err != nil {
		return nil, err
	}
	ts.loggerFor(ec).Debug("fetching stamp", "stamp_id", in.StampID, "session_id", ec.SessionID)

	stamp, err := api.GetStamp(ctx, string(in.StampID))
	if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Stamp #%d (%s) by %s", stamp.Stamp, stamp.CPID, creatorLabel(stamp))
	resource := protocol.ResourceContent(map[string]any{
		"uri":      fmt.Sprintf("stamp://%d", stamp.Stamp),
		"mimeType": stamp.StampMimetype,
		"text":     stamp.StampURL,
	})
	return jsonResponse(summary, stamp, resource)
}

type searchStampsInput struct {
	Creator      string `json:"creator"`
	CollectionID string `json:"collection_id"`
	Ident        string `json:"ident"`
	paging
}

// SearchStamps lists stamps matching the filters.
func (ts *Toolset) SearchStamps(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in searchStampsInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}
	switch in.Ident {
	case "", "STAMP", "SRC-20", "SRC-721":
	default:
		return nil, toolerr.Newf(toolerr.KindValidation, "ident must be STAMP, SRC-20 or SRC-721, got %q", in.Ident)
	}

	api, err := ts.apiFor(ec)
	if err != nil {
		return nil, err
	}
	page, err := api.SearchStamps(ctx, stampchain.StampQuery{
		Page:         in.Page,
		Limit:        in.Limit,
		Creator:      in.Creator,
		CollectionID: in.CollectionID,
		Ident:        in.Ident,
		Sort:         stampchain.SortOrder(in.SortOrder),
	})
	if err != nil {
		return nil, err
	}
	return jsonResponse(pageSummary("stamps", page.Page, page.TotalPages, page.Total, len(page.Data)), page)
}

type recentStampsInput struct {
	Limit int `json:"limit"`
}

// GetRecentStamps lists the newest stamps.
func (ts *Toolset) GetRecentStamps(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in recentStampsInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := checkLimit(&in.Limit); err != nil {
		return nil, err
	}

	api, err := ts.apiFor(ec)
	if err != nil {
		return nil, err
	}
	page, err := api.GetRecentStamps(ctx, in.Limit)
	if err != nil {
		return nil, err
	}
	return jsonResponse(fmt.Sprintf("%d most recent stamps", len(page.Data)), page.Data)
}

func creatorLabel(s *stampchain.Stamp) string {
	if s.CreatorName != "" {
		return s.CreatorName
	}
	if s.Creator == "" {
		return "unknown creator"
	}
	return s.Creator
}
