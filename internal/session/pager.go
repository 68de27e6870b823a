// internal/session/pager.go
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/platform"
	"github.com/xkilldash9x/scout-cli/internal/search"
)

const markerPollInterval = 250 * time.Millisecond

// Pager is the browser-backed pagination surface for one session. It satisfies
// the search driver's Pager contract.
type Pager struct {
	h     *Handle
	caps  platform.Capabilities
	query string

	extractScript string
	blockedScript string
	emptyScript   string
	resultsScript string
}

// NewPager builds a pager for a live session, pre-rendering the in-page
// scripts its platform needs.
func NewPager(h *Handle) (*Pager, error) {
	caps := h.Capabilities()

	extract, err := caps.ExtractScript()
	if err != nil {
		return nil, err
	}
	blocked, err := platform.MarkerProbeScript(caps.BlockedMarkers)
	if err != nil {
		return nil, err
	}
	empty, err := platform.MarkerProbeScript(caps.EmptyMarkers)
	if err != nil {
		return nil, err
	}
	results, err := platform.MarkerProbeScript([]string{caps.ResultsMarker})
	if err != nil {
		return nil, err
	}

	return &Pager{
		h:             h,
		caps:          caps,
		extractScript: extract,
		blockedScript: blocked,
		emptyScript:   empty,
		resultsScript: results,
	}, nil
}

// OpenSearch navigates to the first results page.
func (p *Pager) OpenSearch(ctx context.Context, query string) error {
	p.query = query
	return p.h.Navigate(ctx, p.caps.SearchURL(query, 1))
}

// NextPage navigates to the given 1-based results page for the open query.
func (p *Pager) NextPage(ctx context.Context, page int) error {
	if p.query == "" {
		return fmt.Errorf("no open search to paginate")
	}
	return p.h.Navigate(ctx, p.caps.SearchURL(p.query, page))
}

// WaitOutcome polls the page until one of the three marker classes appears or
// the timeout elapses. Blocked markers win over everything else: a
// verification wall can render on top of stale result nodes.
func (p *Pager) WaitOutcome(ctx context.Context, timeout time.Duration) (search.MarkerKind, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(markerPollInterval)
	defer ticker.Stop()

	for {
		kind, found, err := p.classify(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				return 0, waitCtx.Err()
			}
			return 0, err
		}
		if found {
			return kind, nil
		}

		select {
		case <-waitCtx.Done():
			return 0, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// classify inspects the page once for blocked/empty/results evidence.
func (p *Pager) classify(ctx context.Context) (search.MarkerKind, bool, error) {
	// A blacklist redirect means the wall fired before any markup did.
	url, _, err := p.h.browser.Location(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, fragment := range p.caps.BlacklistURLFragments {
		if strings.Contains(url, fragment) {
			return search.MarkerBlocked, true, nil
		}
	}

	var hit bool
	if err := p.h.browser.Evaluate(ctx, p.blockedScript, &hit); err != nil {
		return 0, false, err
	}
	if hit {
		return search.MarkerBlocked, true, nil
	}
	if err := p.h.browser.Evaluate(ctx, p.emptyScript, &hit); err != nil {
		return 0, false, err
	}
	if hit {
		return search.MarkerEmpty, true, nil
	}
	if err := p.h.browser.Evaluate(ctx, p.resultsScript, &hit); err != nil {
		return 0, false, err
	}
	if hit {
		return search.MarkerResults, true, nil
	}
	return 0, false, nil
}

// Extract pulls the raw results off the rendered page.
func (p *Pager) Extract(ctx context.Context) ([]schemas.SearchResult, error) {
	var results []schemas.SearchResult
	if err := p.h.browser.Evaluate(ctx, p.extractScript, &results); err != nil {
		return nil, fmt.Errorf("result extraction failed: %w", err)
	}
	return results, nil
}
