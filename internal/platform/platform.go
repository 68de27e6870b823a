// internal/platform/platform.go

// Package platform holds the declarative capability table for each supported
// content platform: where to search, which selectors extract results, and which
// markers reveal login state or a verification wall. Platform differences live
// in these tables, not in type hierarchies, so adding a platform is data work.
package platform

import (
	"fmt"
	"net/url"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// Extraction describes how raw results are pulled out of a results page.
// Selector lists are ordered fallbacks: the first strategy that yields a
// non-empty match wins, which keeps extraction alive across markup drift.
type Extraction struct {
	// ItemSelectors locate one element per search result.
	ItemSelectors []string
	// Field selectors are evaluated relative to each item element.
	TitleSelector      string
	LinkSelector       string
	SummarySelector    string
	AuthorSelector     string
	EngagementSelector string
	// BaseURL resolves protocol-relative and path-relative links.
	BaseURL string
}

// Capabilities is the full per-platform strategy table.
type Capabilities struct {
	Name    schemas.Platform
	HomeURL string

	// SearchURL renders the results URL for a query and 1-based page index.
	SearchURL func(query string, page int) string

	Extract Extraction

	// ResultsMarker appears once a results page has rendered.
	ResultsMarker string
	// EmptyMarkers indicate an explicit end of results.
	EmptyMarkers []string
	// BlockedMarkers indicate a verification wall (captcha, slider, etc.).
	BlockedMarkers []string

	// Login detection inputs (evaluated by internal/login).
	RequiredCookies  []string
	LoggedInMarkers  []string
	LoggedOutMarkers []string
	// BlacklistURLFragments mark redirect targets that mean "human required".
	BlacklistURLFragments []string
}

// registry maps platform names to their capability tables.
var registry = map[schemas.Platform]Capabilities{
	schemas.PlatformWeChat:  wechatCapabilities,
	schemas.PlatformZhihu:   zhihuCapabilities,
	schemas.PlatformGeneral: generalCapabilities,
}

// Lookup returns the capability table for a platform name.
func Lookup(name string) (Capabilities, error) {
	caps, ok := registry[schemas.Platform(name)]
	if !ok {
		return Capabilities{}, fmt.Errorf("unsupported platform %q", name)
	}
	return caps, nil
}

// Names lists the registered platform names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, string(name))
	}
	return names
}

var wechatCapabilities = Capabilities{
	Name:    schemas.PlatformWeChat,
	HomeURL: "https://weixin.sogou.com",
	SearchURL: func(query string, page int) string {
		return fmt.Sprintf("https://weixin.sogou.com/weixin?type=2&query=%s&page=%d",
			url.QueryEscape(query), page)
	},
	Extract: Extraction{
		ItemSelectors:      []string{".txt-box", ".news-box .news-list li"},
		TitleSelector:      "h3 a",
		LinkSelector:       "h3 a",
		SummarySelector:    ".txt-info",
		AuthorSelector:     ".s-p .account",
		EngagementSelector: ".s-p .s3",
		BaseURL:            "https://weixin.sogou.com",
	},
	ResultsMarker: ".txt-box",
	EmptyMarkers:  []string{".no-sosuo", ".results-none"},
	BlockedMarkers: []string{
		".captcha", ".verify-code", ".slider", ".geetest", ".nc-container",
		"#captcha", ".captcha-container", ".sogou-captcha", ".sogou-verify",
	},
	RequiredCookies:       []string{"SNUID", "SUID"},
	LoggedInMarkers:       []string{".news-list"},
	LoggedOutMarkers:      []string{".login-entry"},
	BlacklistURLFragments: []string{"antispider", "/captcha"},
}

var zhihuCapabilities = Capabilities{
	Name:    schemas.PlatformZhihu,
	HomeURL: "https://www.zhihu.com",
	SearchURL: func(query string, page int) string {
		// Zhihu paginates search by result offset, 20 entries per page.
		return fmt.Sprintf("https://www.zhihu.com/search?q=%s&type=content&offset=%d",
			url.QueryEscape(query), (page-1)*20)
	},
	Extract: Extraction{
		ItemSelectors:      []string{".Card .ContentItem", ".Card", ".SearchResult-Card"},
		TitleSelector:      "h2 a, .ContentItem-title a",
		LinkSelector:       "h2 a, .ContentItem-title a",
		SummarySelector:    ".RichContent .RichText, .Highlight",
		AuthorSelector:     ".AuthorInfo-name",
		EngagementSelector: ".VoteButton--up",
		BaseURL:            "https://www.zhihu.com",
	},
	ResultsMarker: ".Card",
	EmptyMarkers:  []string{".SearchEmpty", ".Empty"},
	BlockedMarkers: []string{
		".Captcha", ".SignFlow-captchaContainer", "#captcha", ".geetest",
	},
	RequiredCookies:       []string{"z_c0"},
	LoggedInMarkers:       []string{".AppHeader-profile", `[data-za-detail-view-id="1001"]`},
	LoggedOutMarkers:      []string{".SignFlow", ".AppHeader-login"},
	BlacklistURLFragments: []string{"/account/unhuman", "signin?next="},
}

// generalCapabilities is the no-login fallback used for sites without a
// dedicated table. Its search just navigates to the query as a URL, so it is
// mostly exercised through explicit site arguments.
var generalCapabilities = Capabilities{
	Name:    schemas.PlatformGeneral,
	HomeURL: "about:blank",
	SearchURL: func(query string, page int) string {
		return fmt.Sprintf("https://duckduckgo.com/html/?q=%s&s=%d",
			url.QueryEscape(query), (page-1)*30)
	},
	Extract: Extraction{
		ItemSelectors:   []string{".result", ".web-result"},
		TitleSelector:   ".result__title a",
		LinkSelector:    ".result__title a",
		SummarySelector: ".result__snippet",
		BaseURL:         "https://duckduckgo.com",
	},
	ResultsMarker:  ".result",
	EmptyMarkers:   []string{".no-results"},
	BlockedMarkers: []string{".anomaly-modal"},
}
