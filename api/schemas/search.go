// api/schemas/search.go
package schemas

// SearchResult is one raw result extracted from a results page. Raw results are
// produced page by page and handed straight to the relevance engine; they are
// never persisted.
type SearchResult struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Summary    string `json:"summary,omitempty"`
	Author     string `json:"author,omitempty"`
	Engagement string `json:"engagement,omitempty"`
	// Page is the 1-based results page the entry was found on.
	Page int `json:"page"`
}

// ScoredResult is a SearchResult that survived relevance filtering.
type ScoredResult struct {
	SearchResult
	// Score is the combined relevance score in [0,1].
	Score float64 `json:"score"`
	// Rank is the 1-based position in the final ordering.
	Rank int `json:"rank"`
}

// TerminationReason explains why a search traversal stopped.
type TerminationReason string

const (
	ReasonExhausted TerminationReason = "exhausted"
	ReasonMaxPages  TerminationReason = "max_pages"
	ReasonBlocked   TerminationReason = "blocked"
	ReasonTimeout   TerminationReason = "timeout"
	ReasonCancelled TerminationReason = "cancelled"
	ReasonError     TerminationReason = "error"
)

// SearchOutcome is the result of one search invocation: every raw result that was
// extracted before the traversal stopped, plus why it stopped. Partial results are
// always carried, including on blocked/timeout/cancelled terminations.
type SearchOutcome struct {
	Query        string            `json:"query"`
	PagesVisited int               `json:"pages_visited"`
	Reason       TerminationReason `json:"reason"`
	Results      []SearchResult    `json:"results"`
}

// SearchReport is the caller-facing result of a full search invocation: the
// traversal outcome plus the ranked results that survived relevance filtering.
type SearchReport struct {
	Query        string            `json:"query"`
	Platform     string            `json:"platform"`
	PagesVisited int               `json:"pages_visited"`
	Reason       TerminationReason `json:"reason"`
	// RawCount is how many results were extracted before filtering.
	RawCount int            `json:"raw_count"`
	Results  []ScoredResult `json:"results"`
}

// LoginStatus classifies a session's authentication state.
type LoginStatus string

const (
	StatusLoggedIn      LoginStatus = "logged_in"
	StatusLoggedOut     LoginStatus = "logged_out"
	StatusIndeterminate LoginStatus = "indeterminate"
)

// PageProbe is a point-in-time snapshot of the live page used for login
// detection. It is gathered by the session layer so the detector itself stays a
// pure function.
type PageProbe struct {
	URL         string
	Title       string
	CookieNames []string
	// MarkerHits records, per CSS selector, whether the selector matched at
	// least one element at probe time.
	MarkerHits map[string]bool
}
