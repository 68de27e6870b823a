// internal/session/handle.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/platform"
	"github.com/xkilldash9x/scout-cli/internal/statestore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSessionNotReady is returned when an operation needs a live session but the
// handle has not finished initializing or is already closing.
var ErrSessionNotReady = errors.New("session not ready")

// Phase is a handle's lifecycle position. Transitions only move forward.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Handle is one live persistent session: a running browser bound to a profile
// directory plus the durable state that outlives it. All exported methods are
// safe for concurrent use.
type Handle struct {
	profileID string
	caps      platform.Capabilities
	site      string

	browser Browser
	store   *statestore.Store
	persist bool

	autosaveInterval time.Duration
	stopAutosave     chan struct{}
	autosaveDone     chan struct{}
	// closed is closed once Close has fully released the browser process and
	// its profile directory.
	closed chan struct{}

	// persistMu serializes the snapshot+write cycle across its three triggers:
	// the autosave tick, foreground SaveNow, and the final save during Close.
	persistMu sync.Mutex

	mu    sync.Mutex
	phase Phase
	dirty bool

	log *zap.Logger
}

func newHandle(profileID string, caps platform.Capabilities, site string, store *statestore.Store, persist bool, autosave time.Duration, logger *zap.Logger) *Handle {
	return &Handle{
		profileID:        profileID,
		caps:             caps,
		site:             site,
		store:            store,
		persist:          persist,
		autosaveInterval: autosave,
		stopAutosave:     make(chan struct{}),
		autosaveDone:     make(chan struct{}),
		closed:           make(chan struct{}),
		phase:            PhaseUninitialized,
		log:              logger.Named("session").With(zap.String("profile_id", profileID)),
	}
}

// ProfileID returns the stable identity of this session.
func (h *Handle) ProfileID() string { return h.profileID }

// Capabilities returns the platform strategy table the session operates under.
func (h *Handle) Capabilities() platform.Capabilities { return h.caps }

// Done returns a channel closed once the browser has fully released the
// profile directory. Callers that want to relaunch over the same profile must
// wait on it.
func (h *Handle) Done() <-chan struct{} { return h.closed }

// Phase returns the current lifecycle phase.
func (h *Handle) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// setPhase moves the handle forward. Backward transitions are a programming
// error and are refused.
func (h *Handle) setPhase(p Phase) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p < h.phase {
		return false
	}
	h.phase = p
	return true
}

// requireReady fails unless the session is usable.
func (h *Handle) requireReady() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseReady {
		return fmt.Errorf("%w: session %s is %s", ErrSessionNotReady, h.profileID, h.phase)
	}
	return nil
}

// initialize launches the browser, restores persisted state into it, navigates
// to the platform home page, and starts the autosave loop.
func (h *Handle) initialize(ctx context.Context, launcher Launcher) error {
	h.setPhase(PhaseInitializing)

	browser, err := launcher.Launch(ctx, h.store.ProfileDir(h.profileID))
	if err != nil {
		h.setPhase(PhaseClosed)
		return err
	}
	h.browser = browser

	if err := h.restoreState(ctx); err != nil {
		// A restore failure must not strand the browser process.
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = browser.Close(closeCtx)
		h.setPhase(PhaseClosed)
		return err
	}

	h.setPhase(PhaseReady)
	go h.autosaveLoop()

	h.log.Info("Session ready.", zap.String("platform", string(h.caps.Name)))
	return nil
}

// restoreState replays the persisted snapshot into the fresh browser: cookies
// first (they must precede navigation), then the home page, then web storage
// (which needs an origin to attach to). A missing or corrupt state file
// degrades to a fresh session, never to a failed one.
func (h *Handle) restoreState(ctx context.Context) error {
	var state *schemas.SessionState
	if h.persist {
		loaded, err := h.store.Load(h.profileID)
		switch {
		case err == nil:
			state = loaded
		case errors.Is(err, statestore.ErrNotFound):
			h.log.Debug("No persisted state; starting fresh.")
		case errors.Is(err, statestore.ErrCorruptState):
			h.log.Warn("Persisted state is corrupt; starting fresh.", zap.Error(err))
		default:
			// Read failures beyond missing/corrupt still must not kill the
			// session; run in-memory for this launch and let the next save
			// repair the file.
			h.log.Warn("Could not read persisted state; starting fresh.", zap.Error(err))
		}
	}

	if state != nil && len(state.Cookies) > 0 {
		if err := h.browser.SetCookies(ctx, state.Cookies); err != nil {
			return fmt.Errorf("failed to restore cookies: %w", err)
		}
	}

	if err := h.browser.Navigate(ctx, h.caps.HomeURL); err != nil {
		return err
	}

	if state != nil && (len(state.LocalStorage) > 0 || len(state.SessionStorage) > 0) {
		script, err := storageInjectionScript(state.LocalStorage, state.SessionStorage)
		if err != nil {
			return err
		}
		if err := h.browser.Evaluate(ctx, script, nil); err != nil {
			h.log.Warn("Could not restore web storage.", zap.Error(err))
		}
	}

	if state != nil {
		h.log.Info("Session state restored.",
			zap.Int("cookies", len(state.Cookies)),
			zap.Time("saved_at", state.SavedAt))
	}
	return nil
}

// Snapshot captures the live browser state as a durable SessionState.
func (h *Handle) Snapshot(ctx context.Context) (*schemas.SessionState, error) {
	if err := h.requireReady(); err != nil {
		return nil, err
	}
	h.persistMu.Lock()
	defer h.persistMu.Unlock()
	return h.snapshot(ctx)
}

// snapshot captures state without the readiness check so the final save during
// Close can still run. Callers hold persistMu.
func (h *Handle) snapshot(ctx context.Context) (*schemas.SessionState, error) {
	state := schemas.NewSessionState(string(h.caps.Name), h.site)

	cookies, err := h.browser.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	state.Cookies = cookies

	if err := h.browser.Evaluate(ctx, storageCaptureScript("localStorage"), &state.LocalStorage); err != nil {
		h.log.Warn("Could not capture localStorage.", zap.Error(err))
	}
	if err := h.browser.Evaluate(ctx, storageCaptureScript("sessionStorage"), &state.SessionStorage); err != nil {
		h.log.Warn("Could not capture sessionStorage.", zap.Error(err))
	}
	if state.LocalStorage == nil {
		state.LocalStorage = map[string]string{}
	}
	if state.SessionStorage == nil {
		state.SessionStorage = map[string]string{}
	}

	statestore.Touch(state)
	return state, nil
}

// MarkDirty flags that browser state changed since the last persist. The
// autosave loop only writes when this is set.
func (h *Handle) MarkDirty() {
	h.mu.Lock()
	h.dirty = true
	h.mu.Unlock()
}

// SaveNow snapshots and persists immediately, regardless of the dirty flag.
func (h *Handle) SaveNow(ctx context.Context) error {
	if err := h.requireReady(); err != nil {
		return err
	}
	return h.persistNow(ctx)
}

func (h *Handle) persistNow(ctx context.Context) error {
	if !h.persist {
		return nil
	}
	h.persistMu.Lock()
	defer h.persistMu.Unlock()
	state, err := h.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot session: %w", err)
	}
	if err := h.store.Save(h.profileID, state); err != nil {
		return err
	}
	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()
	return nil
}

// persistIfDirty writes only when changes accumulated, unless forced.
func (h *Handle) persistIfDirty(ctx context.Context, force bool) error {
	h.mu.Lock()
	dirty := h.dirty
	h.mu.Unlock()
	if !dirty && !force {
		return nil
	}
	return h.persistNow(ctx)
}

func (h *Handle) autosaveLoop() {
	defer close(h.autosaveDone)
	if !h.persist || h.autosaveInterval <= 0 {
		<-h.stopAutosave
		return
	}
	ticker := time.NewTicker(h.autosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			if err := h.persistIfDirty(ctx, false); err != nil {
				h.log.Warn("Autosave failed.", zap.Error(err))
			}
			cancel()
		case <-h.stopAutosave:
			return
		}
	}
}

// Navigate drives the session to a URL and marks state dirty.
func (h *Handle) Navigate(ctx context.Context, url string) error {
	if err := h.requireReady(); err != nil {
		return err
	}
	if err := h.browser.Navigate(ctx, url); err != nil {
		return err
	}
	h.MarkDirty()
	return nil
}

// Probe gathers the page facts the login detector needs: current URL, title,
// cookie names, and which login/blocked markers are present right now.
func (h *Handle) Probe(ctx context.Context) (schemas.PageProbe, error) {
	if err := h.requireReady(); err != nil {
		return schemas.PageProbe{}, err
	}

	url, title, err := h.browser.Location(ctx)
	if err != nil {
		return schemas.PageProbe{}, err
	}
	cookies, err := h.browser.Cookies(ctx)
	if err != nil {
		return schemas.PageProbe{}, err
	}
	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}

	probe := schemas.PageProbe{
		URL:         url,
		Title:       title,
		CookieNames: names,
		MarkerHits:  map[string]bool{},
	}

	var selectors []string
	selectors = append(selectors, h.caps.LoggedInMarkers...)
	selectors = append(selectors, h.caps.LoggedOutMarkers...)
	selectors = append(selectors, h.caps.BlockedMarkers...)
	for _, sel := range selectors {
		script, err := platform.MarkerProbeScript([]string{sel})
		if err != nil {
			return schemas.PageProbe{}, err
		}
		var hit bool
		if err := h.browser.Evaluate(ctx, script, &hit); err != nil {
			return schemas.PageProbe{}, fmt.Errorf("marker probe %q failed: %w", sel, err)
		}
		probe.MarkerHits[sel] = hit
	}
	return probe, nil
}

// Close tears the session down: autosave stops, a final snapshot is persisted
// best-effort, and the browser process exits. Close is idempotent; concurrent
// callers block until the first close has finished.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.phase == PhaseClosing || h.phase == PhaseClosed {
		h.mu.Unlock()
		// Another caller is already closing; wait it out so every Close
		// returns with the profile directory actually released.
		select {
		case <-h.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	started := h.phase == PhaseReady
	h.phase = PhaseClosing
	h.mu.Unlock()

	defer close(h.closed)

	if started {
		close(h.stopAutosave)
		<-h.autosaveDone

		if h.persist {
			if err := h.persistNow(ctx); err != nil {
				h.log.Warn("Final state save failed during teardown.", zap.Error(err))
			}
		}
	}

	var closeErr error
	if h.browser != nil {
		closeErr = h.browser.Close(ctx)
	}
	h.setPhase(PhaseClosed)
	h.log.Info("Session closed.")
	return closeErr
}

// -- in-page scripts --

// storageCaptureScript reads every key of the named storage area into a map.
func storageCaptureScript(storageType string) string {
	return fmt.Sprintf(`(function() {
        let items = {};
        try {
            const s = window.%s;
            if (s) {
                for (let i = 0; i < s.length; i++) {
                    const k = s.key(i);
                    if (k) { items[k] = s.getItem(k); }
                }
            }
        } catch (e) { /* SecurityError or storage disabled */ }
        return items;
    })()`, storageType)
}

// storageInjectionScript writes both storage areas from captured maps. It runs
// after navigation so the origin exists.
func storageInjectionScript(local, session map[string]string) (string, error) {
	localJSON, err := json.Marshal(local)
	if err != nil {
		return "", fmt.Errorf("failed to encode localStorage payload: %w", err)
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("failed to encode sessionStorage payload: %w", err)
	}
	return fmt.Sprintf(`(function(local, session) {
        try {
            for (const [k, v] of Object.entries(local)) { localStorage.setItem(k, v); }
        } catch (e) { /* storage disabled */ }
        try {
            for (const [k, v] of Object.entries(session)) { sessionStorage.setItem(k, v); }
        } catch (e) { /* storage disabled */ }
    })(%s, %s)`, string(localJSON), string(sessionJSON)), nil
}
