package wiki

// Constants for response limits
const (
	DefaultPageLimit     = 50
	MaxPageLimit         = 500
	DefaultResponseLimit = 10
	MaxResponseLimit     = 50
)

// QueryPagesArgs contains parameters for a merged page query
type QueryPagesArgs struct {
	Params map[string]string `json:"params" jsonschema:"Query parameters without action, e.g. {\"prop\":\"info|revisions\",\"generator\":\"allpages\"}. Multiple values are joined with |"`
	Limit  int               `json:"limit,omitempty" jsonschema:"Maximum pages to return (default 50, max 500)"`
}

// QueryPagesResult is the result of a merged page query
type QueryPagesResult struct {
	Pages           []Object `json:"pages"`
	Count           int      `json:"count"`
	Truncated       bool     `json:"truncated,omitempty"`
	ModifiedPages   []string `json:"modified_pages,omitempty"`    // changed mid-query, not included in pages
	ModifiedPageIDs []int64  `json:"modified_page_ids,omitempty"` // numeric subset of ModifiedPages
	Message         string   `json:"message,omitempty"`
}

// QueryArgs contains parameters for a raw continuation query
type QueryArgs struct {
	Action       string            `json:"action,omitempty" jsonschema:"API action to iterate (default query)"`
	Params       map[string]string `json:"params" jsonschema:"Action parameters, e.g. {\"list\":\"allpages\",\"aplimit\":\"50\"}"`
	MaxResponses int               `json:"max_responses,omitempty" jsonschema:"Maximum server responses to follow (default 10, max 50)"`
}

// QueryResult holds the action results of each response, in order
type QueryResult struct {
	Action    string   `json:"action"`
	Results   []Object `json:"results"`
	Responses int      `json:"responses"`
	Truncated bool     `json:"truncated,omitempty"`
}

// SiteInfoArgs contains parameters for the site info lookup
type SiteInfoArgs struct {
	Props []string `json:"props,omitempty" jsonschema:"siprop values (default general)"`
}

// SiteInfoResult describes the wiki behind the configured endpoint
type SiteInfoResult struct {
	SiteName       string `json:"site_name"`
	Generator      string `json:"generator,omitempty"`
	MainPage       string `json:"main_page,omitempty"`
	Server         string `json:"server,omitempty"`
	Language       string `json:"language,omitempty"`
	User           string `json:"user,omitempty"`
	CircuitBreaker string `json:"circuit_breaker"`
	Raw            Object `json:"raw,omitempty"` // full siteinfo for non-general props
}
