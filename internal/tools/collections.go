// ABOUTME: Collection tools: look up a stamp collection and search collections.

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

func (ts *Toolset) collectionTools() []Definition {
	return []Definition{
		{
			Category: CategoryCollections,
			Tool: registry.Tool{
				Name:        "get_collection",
				Description: "Get a stamp collection and its stamps",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"collection_id":{"type":"string"}},"required":["collection_id"]}`),
				Metadata:    metadata(),
				Execute:     ts.GetCollection,
			},
		},
		{
			Category: CategoryCollections,
			Tool: registry.Tool{
				Name:        "search_collections",
				Description: "Search stamp collections, optionally by creator",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"creator":{"type":"string"},` + pagingSchema + `}}`),
				Metadata:    metadata(),
				Execute:     ts.SearchCollections,
			},
		},
	}
}

type getCollectionInput struct {
	CollectionID string `json:"collection_id"`
}

// GetCollection returns one collection.
func (ts *Toolset) GetCollection(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in getCollectionInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.CollectionID == "" {
		return nil, toolerr.New(toolerr.KindValidation, "collection_id is required")
	}

	api, err := ts.apiFor(ec)
	if err != nil {
		return nil, err
	}
	col, err := api.GetCollection(ctx, in.CollectionID)
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Collection %q: %d stamps, %d editions", col.CollectionName, col.StampCount, col.TotalEditions)
	return jsonResponse(summary, col)
}

type searchCollectionsInput struct {
	Creator string `json:"creator"`
	paging
}

// SearchCollections lists collections matching the filters.
func (ts *Toolset) SearchCollections(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in searchCollectionsInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	api, err := ts.apiFor(ec)
	if err != nil {
		return nil, err
	}
	page, err := api.SearchCollections(ctx, stampchain.CollectionQuery{
		Page:    in.Page,
		Limit:   in.Limit,
		Creator: in.Creator,
		Sort:    stampchain.SortOrder(in.SortOrder),
	})
	if err != nil {
		return nil, err
	}
	return jsonResponse(pageSummary("collections", page.Page, page.TotalPages, page.Total, len(page.Data)), page)
}
