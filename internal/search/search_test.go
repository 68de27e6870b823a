package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// pageScript is what the fake pager replays for one results page.
type pageScript struct {
	marker  MarkerKind
	waitErr error
	results []schemas.SearchResult
	nextErr error
}

// fakePager replays a fixed sequence of pages.
type fakePager struct {
	pages        []pageScript
	current      int
	openErr      error
	waitAttempts int // WaitOutcome calls that returned an error
	extractions  int
}

func (f *fakePager) OpenSearch(ctx context.Context, query string) error {
	f.current = 0
	return f.openErr
}

func (f *fakePager) WaitOutcome(ctx context.Context, timeout time.Duration) (MarkerKind, error) {
	if f.current >= len(f.pages) {
		return 0, context.DeadlineExceeded
	}
	p := f.pages[f.current]
	if p.waitErr != nil {
		f.waitAttempts++
		return 0, p.waitErr
	}
	return p.marker, nil
}

func (f *fakePager) Extract(ctx context.Context) ([]schemas.SearchResult, error) {
	f.extractions++
	return f.pages[f.current].results, nil
}

func (f *fakePager) NextPage(ctx context.Context, page int) error {
	if err := f.pages[f.current].nextErr; err != nil {
		return err
	}
	f.current++
	return nil
}

func makeResults(page, n int) []schemas.SearchResult {
	out := make([]schemas.SearchResult, n)
	for i := range out {
		out[i] = schemas.SearchResult{
			Title: fmt.Sprintf("result %d-%d", page, i),
			Link:  fmt.Sprintf("https://example.com/p%d/r%d", page, i),
		}
	}
	return out
}

func testOptions() Options {
	return Options{MaxPages: 5, PerPageTimeout: 50 * time.Millisecond, Retries: 2}
}

func newTestDriver(t *testing.T) *Driver {
	return NewDriver(zaptest.NewLogger(t))
}

func TestRunInvalidArguments(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{}

	_, err := d.Run(context.Background(), pager, "", testOptions())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	opts := testOptions()
	opts.MaxPages = 0
	_, err = d.Run(context.Background(), pager, "q", opts)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	opts = testOptions()
	opts.PerPageTimeout = 0
	_, err = d.Run(context.Background(), pager, "q", opts)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRunStopsAtMaxPages(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: makeResults(1, 10)},
		{marker: MarkerResults, results: makeResults(2, 10)},
		{marker: MarkerResults, results: makeResults(3, 10)},
	}}

	opts := testOptions()
	opts.MaxPages = 3
	outcome, err := d.Run(context.Background(), pager, "q", opts)
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonMaxPages, outcome.Reason)
	assert.Equal(t, 3, outcome.PagesVisited)
	assert.Len(t, outcome.Results, 30)
	// Page numbers are stamped during extraction.
	assert.Equal(t, 1, outcome.Results[0].Page)
	assert.Equal(t, 3, outcome.Results[29].Page)
}

func TestRunExhaustedOnEmptyMarker(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: makeResults(1, 10)},
		{marker: MarkerEmpty},
	}}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonExhausted, outcome.Reason)
	assert.Equal(t, 2, outcome.PagesVisited)
	assert.Len(t, outcome.Results, 10)
}

func TestRunBlockedKeepsPartialResults(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: makeResults(1, 10)},
		{marker: MarkerBlocked},
	}}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonBlocked, outcome.Reason)
	assert.Len(t, outcome.Results, 10)
	assert.Equal(t, 2, outcome.PagesVisited)
}

func TestRunEmptyResultsPageConfirmedThenExhausted(t *testing.T) {
	d := newTestDriver(t)
	// Results marker present but the extractor finds nothing, twice.
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: nil},
	}}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonExhausted, outcome.Reason)
	assert.Empty(t, outcome.Results)
	// One extraction plus the confirmation re-check.
	assert.Equal(t, 2, pager.extractions)
}

func TestRunTimeoutAfterBoundedRetries(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{waitErr: context.DeadlineExceeded},
	}}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonTimeout, outcome.Reason)
	// Initial attempt plus Retries.
	assert.Equal(t, 3, pager.waitAttempts)
}

func TestRunTimeoutOnLaterPageKeepsEarlierResults(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: makeResults(1, 5)},
		{waitErr: context.DeadlineExceeded},
	}}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonTimeout, outcome.Reason)
	assert.Len(t, outcome.Results, 5)
}

func TestRunCancellationReturnsPartialResults(t *testing.T) {
	d := newTestDriver(t)
	ctx, cancel := context.WithCancel(context.Background())

	pager := &cancellingPager{
		fakePager: fakePager{pages: []pageScript{
			{marker: MarkerResults, results: makeResults(1, 5)},
			{marker: MarkerResults, results: makeResults(2, 5)},
		}},
		cancelAfterPage: 1,
		cancel:          cancel,
	}

	outcome, err := d.Run(ctx, pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonCancelled, outcome.Reason)
	assert.Len(t, outcome.Results, 5)
}

// cancellingPager cancels the context once the given number of pages has been
// consumed, simulating a caller giving up mid-traversal.
type cancellingPager struct {
	fakePager
	cancelAfterPage int
	cancel          context.CancelFunc
}

func (c *cancellingPager) NextPage(ctx context.Context, page int) error {
	if c.current+1 >= c.cancelAfterPage {
		c.cancel()
		return ctx.Err()
	}
	return c.fakePager.NextPage(ctx, page)
}

func TestRunNextPageFailureEndsTraversal(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: makeResults(1, 5), nextErr: errors.New("no next link")},
	}}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonExhausted, outcome.Reason)
	assert.Len(t, outcome.Results, 5)
}

func TestRunOpenSearchFailure(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{openErr: errors.New("dns failure")}

	outcome, err := d.Run(context.Background(), pager, "q", testOptions())
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, schemas.ReasonError, outcome.Reason)
	assert.Empty(t, outcome.Results)
}

func TestRunSinglePageBound(t *testing.T) {
	d := newTestDriver(t)
	pager := &fakePager{pages: []pageScript{
		{marker: MarkerResults, results: makeResults(1, 10)},
		{marker: MarkerResults, results: makeResults(2, 10)},
	}}

	opts := testOptions()
	opts.MaxPages = 1
	outcome, err := d.Run(context.Background(), pager, "q", opts)
	require.NoError(t, err)

	assert.Equal(t, schemas.ReasonMaxPages, outcome.Reason)
	assert.Equal(t, 1, outcome.PagesVisited)
	assert.Len(t, outcome.Results, 10)
}
