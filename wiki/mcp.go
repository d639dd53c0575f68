package wiki

import (
	"context"
	"errors"
	"fmt"
)

// MCP Tool wrapper methods
// These methods wrap the client methods with Args/Result types for MCP integration.

// QueryPagesMCP is the MCP wrapper for QueryPages
func (c *Client) QueryPagesMCP(ctx context.Context, args QueryPagesArgs) (QueryPagesResult, error) {
	params, err := toolParams(args.Params)
	if err != nil {
		return QueryPagesResult{}, err
	}
	limit := normalizeLimit(args.Limit, DefaultPageLimit, MaxPageLimit)

	result := QueryPagesResult{Pages: make([]Object, 0)}
	for page, err := range c.QueryPages(ctx, params) {
		if err != nil {
			var conflict *ModificationConflictError
			if !errors.As(err, &conflict) {
				return QueryPagesResult{}, err
			}
			for _, key := range conflict.Pages {
				result.ModifiedPages = append(result.ModifiedPages, key.String())
			}
			result.ModifiedPageIDs = conflict.PageIDs()
			result.Message = fmt.Sprintf("%d page(s) changed during the query and were left out; query them again", len(conflict.Pages))
			break
		}
		if len(result.Pages) == limit {
			result.Truncated = true
			break
		}
		result.Pages = append(result.Pages, page)
	}
	result.Count = len(result.Pages)
	return result, nil
}

// QueryMCP is the MCP wrapper for Iterate
func (c *Client) QueryMCP(ctx context.Context, args QueryArgs) (QueryResult, error) {
	action := args.Action
	if action == "" {
		action = "query"
	}
	if writeActions[action] {
		return QueryResult{}, &InvalidParameterError{Param: "action", Value: action, Reason: "write actions are not available through a read-only tool"}
	}
	params, err := toolParams(args.Params)
	if err != nil {
		return QueryResult{}, err
	}
	limit := normalizeLimit(args.MaxResponses, DefaultResponseLimit, MaxResponseLimit)

	result := QueryResult{Action: action, Results: make([]Object, 0)}
	for res, err := range c.Iterate(ctx, action, params) {
		if err != nil {
			return QueryResult{}, err
		}
		if len(result.Results) == limit {
			result.Truncated = true
			break
		}
		result.Results = append(result.Results, res)
	}
	result.Responses = len(result.Results)
	return result, nil
}

// SiteInfoMCP is the MCP wrapper for a meta=siteinfo lookup
func (c *Client) SiteInfoMCP(ctx context.Context, args SiteInfoArgs) (SiteInfoResult, error) {
	props := args.Props
	if len(props) == 0 {
		props = []string{"general"}
	}

	resp, err := c.Call(ctx, "query", Params{"meta": "siteinfo", "siprop": props})
	if err != nil {
		return SiteInfoResult{}, err
	}
	general := resp.Obj("query", "general")

	result := SiteInfoResult{
		SiteName:       general.Str("sitename"),
		Generator:      general.Str("generator"),
		MainPage:       general.Str("mainpage"),
		Server:         general.Str("server"),
		Language:       general.Str("lang"),
		User:           c.User(),
		CircuitBreaker: c.CircuitBreakerStats().State,
	}
	if len(props) > 1 || props[0] != "general" {
		result.Raw = resp.Obj("query")
	}
	return result, nil
}

// toolParams converts tool arguments into API parameters. Callers pick the
// action through the tool itself, so an action key is rejected.
func toolParams(in map[string]string) (Params, error) {
	params := make(Params, len(in))
	for k, v := range in {
		if k == "action" {
			return nil, &InvalidParameterError{Param: k, Value: v, Reason: "set by the tool"}
		}
		params[k] = v
	}
	return params, nil
}

// normalizeLimit clamps limit to [1, maxVal], using defaultVal when unset.
func normalizeLimit(limit, defaultVal, maxVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > maxVal {
		return maxVal
	}
	return limit
}
