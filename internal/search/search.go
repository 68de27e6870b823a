// internal/search/search.go

// Package search implements the pagination driver: it walks a platform's
// results pages one at a time, extracts raw results, and stops within explicit
// bounds when the results run out, a verification wall appears, waits time out,
// or the caller cancels. It never scores or deduplicates; that belongs to the
// relevance engine.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// ErrInvalidArgument flags caller errors (bad query or page bounds) that must
// not be retried.
var ErrInvalidArgument = errors.New("invalid argument")

// MarkerKind is what a page wait resolved to.
type MarkerKind int

const (
	// MarkerResults means the results container rendered.
	MarkerResults MarkerKind = iota
	// MarkerEmpty means the platform said there are no more results.
	MarkerEmpty
	// MarkerBlocked means a verification wall is up.
	MarkerBlocked
)

// Pager is the per-session, per-platform capability the driver traverses
// through. The session package provides the browser-backed implementation;
// tests substitute fakes.
type Pager interface {
	// OpenSearch navigates to the first results page for the query.
	OpenSearch(ctx context.Context, query string) error
	// WaitOutcome blocks until one of the three page markers appears or the
	// timeout elapses (context.DeadlineExceeded).
	WaitOutcome(ctx context.Context, timeout time.Duration) (MarkerKind, error)
	// Extract pulls the raw results off the current page.
	Extract(ctx context.Context) ([]schemas.SearchResult, error)
	// NextPage advances to the given 1-based page.
	NextPage(ctx context.Context, page int) error
}

// Options bound one search invocation.
type Options struct {
	MaxPages       int
	PerPageTimeout time.Duration
	// Retries is how many extra marker waits are attempted per page after a
	// timeout before the search stops with reason timeout.
	Retries int
	// PagesPerMinute throttles page turns; zero disables throttling.
	PagesPerMinute float64
}

// Driver runs bounded search traversals.
type Driver struct {
	log *zap.Logger
}

// NewDriver creates a search driver.
func NewDriver(logger *zap.Logger) *Driver {
	return &Driver{log: logger.Named("search")}
}

// Run executes one search. The returned outcome always carries every result
// extracted before the stop, whatever the termination reason; only an invalid
// argument yields a nil outcome.
func (d *Driver) Run(ctx context.Context, pager Pager, query string, opts Options) (*schemas.SearchOutcome, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidArgument)
	}
	if opts.MaxPages < 1 {
		return nil, fmt.Errorf("%w: maxPages must be at least 1, got %d", ErrInvalidArgument, opts.MaxPages)
	}
	if opts.PerPageTimeout <= 0 {
		return nil, fmt.Errorf("%w: perPageTimeout must be positive", ErrInvalidArgument)
	}

	outcome := &schemas.SearchOutcome{Query: query, Results: []schemas.SearchResult{}}
	log := d.log.With(zap.String("query", query))

	var limiter *rate.Limiter
	if opts.PagesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.PagesPerMinute/60.0), 1)
	}

	if err := pager.OpenSearch(ctx, query); err != nil {
		if ctx.Err() != nil {
			outcome.Reason = schemas.ReasonCancelled
			return outcome, nil
		}
		outcome.Reason = schemas.ReasonError
		return outcome, fmt.Errorf("failed to open search: %w", err)
	}

	for page := 1; page <= opts.MaxPages; page++ {
		outcome.PagesVisited = page

		kind, err := d.waitWithRetries(ctx, pager, opts)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Search cancelled during page wait.", zap.Int("page", page))
				outcome.Reason = schemas.ReasonCancelled
				return outcome, nil
			}
			log.Warn("No page marker observed within bounds.", zap.Int("page", page), zap.Error(err))
			outcome.Reason = schemas.ReasonTimeout
			return outcome, nil
		}

		switch kind {
		case MarkerEmpty:
			log.Debug("End-of-results marker observed.", zap.Int("page", page))
			outcome.Reason = schemas.ReasonExhausted
			return outcome, nil

		case MarkerBlocked:
			// Keep everything gathered so far; the caller decides whether to
			// wait for a human and retry.
			log.Warn("Verification wall encountered mid-search.", zap.Int("page", page))
			outcome.Reason = schemas.ReasonBlocked
			return outcome, nil

		case MarkerResults:
			results, err := d.extractConfirmed(ctx, pager, page)
			if err != nil {
				if ctx.Err() != nil {
					outcome.Reason = schemas.ReasonCancelled
					return outcome, nil
				}
				outcome.Reason = schemas.ReasonError
				return outcome, fmt.Errorf("extraction failed on page %d: %w", page, err)
			}
			if len(results) == 0 {
				// A rendered results container with nothing in it, twice in a
				// row, means the well is dry even without an explicit marker.
				log.Debug("Empty results page confirmed.", zap.Int("page", page))
				outcome.Reason = schemas.ReasonExhausted
				return outcome, nil
			}
			outcome.Results = append(outcome.Results, results...)
			log.Debug("Extracted results page.",
				zap.Int("page", page), zap.Int("results", len(results)))
		}

		if page == opts.MaxPages {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				outcome.Reason = schemas.ReasonCancelled
				return outcome, nil
			}
		}
		if err := pager.NextPage(ctx, page+1); err != nil {
			if ctx.Err() != nil {
				outcome.Reason = schemas.ReasonCancelled
				return outcome, nil
			}
			// No way forward is indistinguishable from no more pages.
			log.Info("Could not advance to next page; stopping.",
				zap.Int("next_page", page+1), zap.Error(err))
			outcome.Reason = schemas.ReasonExhausted
			return outcome, nil
		}
	}

	outcome.Reason = schemas.ReasonMaxPages
	return outcome, nil
}

// waitWithRetries waits for a page marker, retrying a bounded number of times
// on timeout. Context cancellation is surfaced immediately.
func (d *Driver) waitWithRetries(ctx context.Context, pager Pager, opts Options) (MarkerKind, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		kind, err := pager.WaitOutcome(ctx, opts.PerPageTimeout)
		if err == nil {
			return kind, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = err
		d.log.Debug("Marker wait timed out; retrying.",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return 0, lastErr
}

// extractConfirmed extracts the page and, when it comes back empty, re-checks
// once to guard against a transient empty render.
func (d *Driver) extractConfirmed(ctx context.Context, pager Pager, page int) ([]schemas.SearchResult, error) {
	results, err := pager.Extract(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		results, err = pager.Extract(ctx)
		if err != nil {
			return nil, err
		}
	}
	for i := range results {
		results[i].Page = page
	}
	return results, nil
}
