package tools

// AllTools contains all tool specifications for the MediaWiki MCP server.
// Tool descriptions follow a structured format for optimal LLM tool selection:
// - USE WHEN: Natural language triggers
// - NOT FOR: Disambiguation from similar tools
// - PARAMETERS: Key arguments with defaults
// - RETURNS: What the tool returns
var AllTools = []ToolSpec{
	{
		Name:     "mediawiki_query_pages",
		Method:   "QueryPages",
		Title:    "Query Pages",
		Category: "query",
		Description: `Run an action=query request that returns pages and get each page once, with every continued fragment merged in.

USE WHEN: User asks for page properties across many pages: "revisions of these titles", "categories of every page in X", "info for all pages with prefix Y".

NOT FOR: List modules without pages such as list=recentchanges (use mediawiki_query instead).

PARAMETERS:
- params: Query parameters without action, e.g. {"titles": "A|B", "prop": "info|categories"} or a generator (required)
- limit: Max pages to return (default 50, max 500)

RETURNS: Merged page objects in completion order. Pages edited while the query ran are left out and listed in modified_pages.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "mediawiki_query",
		Method:   "Query",
		Title:    "Iterate API Action",
		Category: "query",
		Description: `Run any continuation-style API action and collect the raw result of each response.

USE WHEN: User needs list modules ("all pages with prefix X", "recent changes since Y", "members of category Z") or an action other than query that continues.

NOT FOR: Page property queries whose pages should be merged (use mediawiki_query_pages instead).

PARAMETERS:
- action: API action (default query). Write actions such as edit, delete or move are rejected.
- params: Action parameters, e.g. {"list": "allpages", "aplimit": "max"} (required)
- max_responses: Responses to follow (default 10, max 50)

RETURNS: The action's result object from each response, in order.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
	{
		Name:     "mediawiki_site_info",
		Method:   "SiteInfo",
		Title:    "Site Info",
		Category: "meta",
		Description: `Describe the configured wiki.

USE WHEN: User asks "which wiki is this", "what MediaWiki version", or a connection check is needed.

PARAMETERS:
- props: siprop values (default general)

RETURNS: Site name, generator, main page, server, language, logged-in user and transport health.`,
		ReadOnly:   true,
		Idempotent: true,
		OpenWorld:  true,
	},
}

// ToolsByCategory returns the specs in category.
func ToolsByCategory(category string) []ToolSpec {
	var out []ToolSpec
	for _, spec := range AllTools {
		if spec.Category == category {
			out = append(out, spec)
		}
	}
	return out
}
