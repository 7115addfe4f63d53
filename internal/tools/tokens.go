// ABOUTME: SRC-20 token tools: look up a token deployment and search deployments.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/registry"
	"github.com/2389/stampchain-mcp/internal/stampchain"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

const maxTickLength = 5

func (ts *Toolset) tokenTools() []Definition {
	return []Definition{
		{
			Category: CategoryTokens,
			Tool: registry.Tool{
				Name:        "get_token_info",
				Description: "Get an SRC-20 token deployment by ticker",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"tick":{"type":"string","minLength":1,"maxLength":5}},"required":["tick"]}`),
				Metadata:    metadata(),
				Execute:     ts.GetTokenInfo,
			},
		},
		{
			Category: CategoryTokens,
			Tool: registry.Tool{
				Name:        "search_tokens",
				Description: "Search SRC-20 token deployments, optionally by deployer",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"deployer":{"type":"string"},` + pagingSchema + `}}`),
				Metadata:    metadata(),
				Execute:     ts.SearchTokens,
			},
		},
	}
}

type getTokenInput struct {
	Tick string `json:"tick"`
}

// GetTokenInfo returns one SRC-20 deployment.
func (ts *Toolset) GetTokenInfo(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in getTokenInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	tick := strings.TrimSpace(in.Tick)
	if tick == "" {
		return nil, toolerr.New(toolerr.KindValidation, "tick is required")
	}
	if n := utf8.RuneCountInString(tick); n > maxTickLength {
		return nil, toolerr.Newf(toolerr.KindValidation, "tick must be at most %d characters, got %d", maxTickLength, n)
	}

	api, err := ts.apiFor(ec)
	if err != nil {
		return nil, err
	}
	tok, err := api.GetToken(ctx, tick)
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("SRC-20 %s: max supply %s, mint limit %s, %d holders", tok.Tick, tok.Max, tok.Lim, tok.Holders)
	return jsonResponse(summary, tok)
}

type searchTokensInput struct {
	Deployer string `json:"deployer"`
	paging
}

// SearchTokens lists SRC-20 deployments matching the filters.
func (ts *Toolset) SearchTokens(ctx context.Context, params json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, error) {
	var in searchTokensInput
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
	page, err := api.SearchTokens(ctx, stampchain.TokenQuery{
		Page:     in.Page,
		Limit:    in.Limit,
		Deployer: in.Deployer,
		Sort:     stampchain.SortOrder(in.SortOrder),
	})
	if err != nil {
		return nil, err
	}
	return jsonResponse(pageSummary("tokens", page.Page, page.TotalPages, page.Total, len(page.Data)), page)
}
