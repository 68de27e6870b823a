// internal/mcp/types.go
package mcp

// CommandRequest is the incoming JSON envelope on /api/v1/command.
type CommandRequest struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params"`
}

// SessionParams identifies a platform profile. Site is optional and narrows
// the profile to a specific target site.
type SessionParams struct {
	Platform string `json:"platform"`
	Site     string `json:"site,omitempty"`
}

// SearchParams are the parameters of the "search" command.
type SearchParams struct {
	Platform string `json:"platform"`
	Site     string `json:"site,omitempty"`
	Query    string `json:"query"`
	// MaxPages overrides the configured page bound when > 0.
	MaxPages int `json:"max_pages,omitempty"`
	// MinRelevance overrides the configured score threshold when set.
	MinRelevance *float64 `json:"min_relevance,omitempty"`
}
