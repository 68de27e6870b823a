package session

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/statestore"
)

// fakeBrowser is an in-memory Browser: cookies and storage live in maps, and
// Evaluate dispatches on the script shape the session layer renders.
type fakeBrowser struct {
	mu sync.Mutex

	cookies        []schemas.Cookie
	localStorage   map[string]string
	sessionStorage map[string]string

	navigations []string
	currentURL  string
	title       string

	// markerHits answers marker probes by selector substring.
	markerHits map[string]bool
	results    []schemas.SearchResult

	injected []string
	closed   bool

	// cookieDelay slows Cookies so overlapping snapshot reads become
	// observable; the counters track how many run at once.
	cookieDelay      time.Duration
	readsInFlight    int32
	maxReadsInFlight int32

	closeDelay time.Duration
	onClose    func()
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		localStorage:   map[string]string{},
		sessionStorage: map[string]string{},
		markerHits:     map[string]bool{},
	}
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	f.currentURL = url
	return nil
}

func (f *fakeBrowser) Evaluate(ctx context.Context, script string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.Contains(script, "window.localStorage"):
		*(out.(*map[string]string)) = f.localStorage
	case strings.Contains(script, "window.sessionStorage"):
		*(out.(*map[string]string)) = f.sessionStorage
	case strings.Contains(script, "(function(selectors)"):
		hit := false
		for sel, present := range f.markerHits {
			if present && strings.Contains(script, sel) {
				hit = true
				break
			}
		}
		*(out.(*bool)) = hit
	case strings.Contains(script, "(function(cfg)"):
		*(out.(*[]schemas.SearchResult)) = f.results
	default:
		// Storage injection and other fire-and-forget scripts.
		f.injected = append(f.injected, script)
	}
	return nil
}

func (f *fakeBrowser) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	f.mu.Lock()
	delay := f.cookieDelay
	f.mu.Unlock()
	if delay > 0 {
		cur := atomic.AddInt32(&f.readsInFlight, 1)
		for {
			max := atomic.LoadInt32(&f.maxReadsInFlight)
			if cur <= max || atomic.CompareAndSwapInt32(&f.maxReadsInFlight, max, cur) {
				break
			}
		}
		time.Sleep(delay)
		atomic.AddInt32(&f.readsInFlight, -1)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.Cookie(nil), f.cookies...), nil
}

func (f *fakeBrowser) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies = append(f.cookies, cookies...)
	return nil
}

func (f *fakeBrowser) Location(ctx context.Context) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, f.title, nil
}

func (f *fakeBrowser) Close(ctx context.Context) error {
	if f.closeDelay > 0 {
		time.Sleep(f.closeDelay)
	}
	f.mu.Lock()
	already := f.closed
	f.closed = true
	onClose := f.onClose
	f.mu.Unlock()
	if !already && onClose != nil {
		onClose()
	}
	return nil
}

// fakeLauncher hands out fakeBrowsers, counting launches and how many
// browsers are open at once.
type fakeLauncher struct {
	mu       sync.Mutex
	launched []*fakeBrowser
	delay    time.Duration

	closeDelay time.Duration
	open       int32
	maxOpen    int32
}

func (l *fakeLauncher) Launch(ctx context.Context, profileDir string) (Browser, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	b := newFakeBrowser()
	b.closeDelay = l.closeDelay
	b.onClose = func() { atomic.AddInt32(&l.open, -1) }

	cur := atomic.AddInt32(&l.open, 1)
	for {
		max := atomic.LoadInt32(&l.maxOpen)
		if cur <= max || atomic.CompareAndSwapInt32(&l.maxOpen, max, cur) {
			break
		}
	}

	l.mu.Lock()
	l.launched = append(l.launched, b)
	l.mu.Unlock()
	return b, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func (l *fakeLauncher) last() *fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return nil
	}
	return l.launched[len(l.launched)-1]
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func newTestManager(t *testing.T) (*Manager, *fakeLauncher, *statestore.Store) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.State.Dir = t.TempDir()
	cfg.State.AutosaveInterval = 20 * time.Millisecond

	logger := zaptest.NewLogger(t)
	store, err := statestore.New(cfg.State.Dir, logger)
	require.NoError(t, err)

	launcher := &fakeLauncher{}
	return NewManager(cfg, store, launcher, logger), launcher, store
}

func TestSetupFreshProfile(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	ctx := context.Background()

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	defer mgr.Shutdown(ctx)

	assert.Equal(t, PhaseReady, h.Phase())
	assert.Equal(t, statestore.ProfileID("wechat", ""), h.ProfileID())

	// A fresh profile still lands on the platform home page.
	b := launcher.last()
	require.NotNil(t, b)
	require.NotEmpty(t, b.navigations)
	assert.Equal(t, "https://weixin.sogou.com", b.navigations[0])
	assert.Empty(t, b.cookies)
}

func TestSetupRestoresPersistedState(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, store := newTestManager(t)
	ctx := context.Background()

	profileID := statestore.ProfileID("wechat", "")
	state := schemas.NewSessionState("wechat", "")
	state.Cookies = []schemas.Cookie{{Name: "SNUID", Value: "persisted", Domain: ".sogou.com", Path: "/"}}
	state.LocalStorage["key"] = "value"
	statestore.Touch(state)
	require.NoError(t, store.Save(profileID, state))

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	defer mgr.Shutdown(ctx)

	assert.Equal(t, PhaseReady, h.Phase())

	b := launcher.last()
	require.Len(t, b.cookies, 1)
	assert.Equal(t, "persisted", b.cookies[0].Value)
	// Storage is injected after navigation.
	require.Len(t, b.injected, 1)
	assert.Contains(t, b.injected[0], `"key":"value"`)
}

func TestSetupCorruptStateDegradesToFresh(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, store := newTestManager(t)
	ctx := context.Background()

	profileID := statestore.ProfileID("wechat", "")
	require.NoError(t, store.Save(profileID, schemas.NewSessionState("wechat", "")))
	// Truncate the file behind the store's back.
	require.NoError(t, writeFile(store.StatePath(profileID), `{"cookies": [`))

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	defer mgr.Shutdown(ctx)

	assert.Equal(t, PhaseReady, h.Phase())
	assert.Empty(t, launcher.last().cookies)
}

func TestSetupUnreadableStateFileDegradesToFresh(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, store := newTestManager(t)
	ctx := context.Background()

	// A directory where the state file should be makes the read fail with
	// something other than not-found or corrupt.
	profileID := statestore.ProfileID("wechat", "")
	require.NoError(t, os.Mkdir(store.StatePath(profileID), 0o755))

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	defer mgr.Shutdown(ctx)

	assert.Equal(t, PhaseReady, h.Phase())
	assert.Empty(t, launcher.last().cookies)
}

func TestSetupConcurrentCallsShareOneLaunch(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	launcher.delay = 20 * time.Millisecond
	ctx := context.Background()
	defer mgr.Shutdown(ctx)

	const callers = 8
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := mgr.Setup(ctx, "wechat", "")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.count())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}
}

func TestDistinctProfilesGetDistinctBrowsers(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	ctx := context.Background()
	defer mgr.Shutdown(ctx)

	h1, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	h2, err := mgr.Setup(ctx, "zhihu", "")
	require.NoError(t, err)

	assert.NotEqual(t, h1.ProfileID(), h2.ProfileID())
	assert.Equal(t, 2, launcher.count())
}

func TestSaveNowPersistsSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, store := newTestManager(t)
	ctx := context.Background()
	defer mgr.Shutdown(ctx)

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)

	b := launcher.last()
	b.cookies = []schemas.Cookie{{Name: "SNUID", Value: "live", Domain: ".sogou.com", Path: "/"}}
	b.localStorage["k"] = "v"

	require.NoError(t, h.SaveNow(ctx))

	loaded, err := store.Load(h.ProfileID())
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "live", loaded.Cookies[0].Value)
	assert.Equal(t, "v", loaded.LocalStorage["k"])
	assert.Equal(t, "wechat", loaded.Platform)
	assert.False(t, loaded.SavedAt.IsZero())
}

func TestAutosavePersistsDirtyState(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, store := newTestManager(t)
	ctx := context.Background()
	defer mgr.Shutdown(ctx)

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)

	launcher.last().cookies = []schemas.Cookie{{Name: "SNUID", Value: "auto"}}
	h.MarkDirty()

	assert.Eventually(t, func() bool {
		loaded, err := store.Load(h.ProfileID())
		return err == nil && len(loaded.Cookies) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPersistTriggersNeverOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	ctx := context.Background()
	defer mgr.Shutdown(ctx)

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)

	// Slow snapshots plus a 20ms autosave tick: without serialization the
	// tick would read the browser mid-SaveNow.
	b := launcher.last()
	b.mu.Lock()
	b.cookieDelay = 60 * time.Millisecond
	b.mu.Unlock()
	h.MarkDirty()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.SaveNow(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&b.maxReadsInFlight))
}

func TestTeardownHoldsProfileUntilBrowserExits(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	launcher.closeDelay = 80 * time.Millisecond
	ctx := context.Background()

	h1, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- mgr.Teardown(ctx, "wechat", "") }()
	require.Eventually(t, func() bool {
		return h1.Phase() != PhaseReady
	}, time.Second, time.Millisecond)

	// Re-setup while the first browser is still closing must wait for the
	// profile directory to be released, not launch over it.
	h2, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	require.NoError(t, <-done)
	defer mgr.Shutdown(ctx)

	assert.NotSame(t, h1, h2)
	assert.Equal(t, PhaseReady, h2.Phase())
	assert.Equal(t, 2, launcher.count())
	assert.Equal(t, int32(1), atomic.LoadInt32(&launcher.maxOpen))
}

func TestTeardownPersistsFinalSnapshotAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, store := newTestManager(t)
	ctx := context.Background()

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)

	launcher.last().cookies = []schemas.Cookie{{Name: "SNUID", Value: "final"}}

	require.NoError(t, mgr.Teardown(ctx, "wechat", ""))
	assert.Equal(t, PhaseClosed, h.Phase())
	assert.True(t, launcher.last().closed)

	loaded, err := store.Load(h.ProfileID())
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "final", loaded.Cookies[0].Value)

	// Tearing down again is a no-op.
	require.NoError(t, mgr.Teardown(ctx, "wechat", ""))
	require.NoError(t, h.Close(ctx))
}

func TestOperationsRequireReadySession(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Get("wechat", "")
	assert.ErrorIs(t, err, ErrSessionNotReady)

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	require.NoError(t, mgr.Teardown(ctx, "wechat", ""))

	// Closed handles refuse work.
	assert.ErrorIs(t, h.SaveNow(ctx), ErrSessionNotReady)
	_, err = h.Probe(ctx)
	assert.ErrorIs(t, err, ErrSessionNotReady)
	_, err = h.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrSessionNotReady)
}

func TestSetupUnknownPlatform(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Setup(context.Background(), "myspace", "")
	require.Error(t, err)
}

func TestProbeCollectsMarkersAndCookies(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	ctx := context.Background()
	defer mgr.Shutdown(ctx)

	h, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)

	b := launcher.last()
	b.cookies = []schemas.Cookie{{Name: "SNUID", Value: "x"}, {Name: "SUID", Value: "y"}}
	b.markerHits[".news-list"] = true

	probe, err := h.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://weixin.sogou.com", probe.URL)
	assert.ElementsMatch(t, []string{"SNUID", "SUID"}, probe.CookieNames)
	assert.True(t, probe.MarkerHits[".news-list"])
	assert.False(t, probe.MarkerHits[".login-entry"])
}

func TestManagerShutdownClosesEverything(t *testing.T) {
	defer goleak.VerifyNone(t)
	mgr, launcher, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Setup(ctx, "wechat", "")
	require.NoError(t, err)
	_, err = mgr.Setup(ctx, "zhihu", "")
	require.NoError(t, err)

	require.NoError(t, mgr.Shutdown(ctx))
	for _, b := range launcher.launched {
		assert.True(t, b.closed)
	}
	_, err = mgr.Get("wechat", "")
	assert.ErrorIs(t, err, ErrSessionNotReady)
}
