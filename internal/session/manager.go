// internal/session/manager.go

// Package session owns the lifecycle of persistent browser sessions: one
// browser process per platform profile, durable state restored on launch and
// snapshotted back to disk while the session runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/platform"
	"github.com/xkilldash9x/scout-cli/internal/statestore"
)

// ErrLaunchFailure wraps browser startup errors.
var ErrLaunchFailure = errors.New("browser launch failure")

const teardownGracePeriod = 15 * time.Second

// Manager keeps at most one live Handle per profile and serializes concurrent
// setup requests for the same profile.
type Manager struct {
	cfg      *config.Config
	store    *statestore.Store
	launcher Launcher
	log      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Handle

	// setup deduplicates concurrent launches of the same profile. Two browser
	// processes must never share a profile directory.
	setup singleflight.Group
}

// NewManager creates a session manager backed by the given state store.
func NewManager(cfg *config.Config, store *statestore.Store, launcher Launcher, logger *zap.Logger) *Manager {
	if launcher == nil {
		launcher = NewChromeLauncher(&cfg.Browser, logger)
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		launcher: launcher,
		log:      logger.Named("session_manager"),
		sessions: make(map[string]*Handle),
	}
}

// Setup returns the live session for (platform, site), launching and restoring
// it if needed. Calls for an already-live profile return the existing handle.
func (m *Manager) Setup(ctx context.Context, platformName, site string) (*Handle, error) {
	caps, err := platform.Lookup(platformName)
	if err != nil {
		return nil, err
	}
	profileID := statestore.ProfileID(platformName, site)

	if h := m.lookup(profileID); h != nil {
		return h, nil
	}

	v, err, _ := m.setup.Do(profileID, func() (interface{}, error) {
		// Re-check under the flight: a previous caller may have just finished,
		// or a teardown may still be releasing the profile directory. Two
		// browser processes must never overlap on one directory.
		m.mu.RLock()
		prev := m.sessions[profileID]
		m.mu.RUnlock()
		if prev != nil {
			if prev.Phase() == PhaseReady {
				return prev, nil
			}
			select {
			case <-prev.Done():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		h := newHandle(profileID, caps, site, m.store, m.cfg.State.Persistence, m.cfg.State.AutosaveInterval, m.log)
		if err := h.initialize(ctx, m.launcher); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailure, profileID, err)
		}

		m.mu.Lock()
		m.sessions[profileID] = h
		m.mu.Unlock()

		m.log.Info("Session registered.",
			zap.String("profile_id", profileID),
			zap.String("platform", platformName))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Get returns the live session for a profile, or ErrSessionNotReady when none
// is running.
func (m *Manager) Get(platformName, site string) (*Handle, error) {
	profileID := statestore.ProfileID(platformName, site)
	if h := m.lookup(profileID); h != nil {
		return h, nil
	}
	return nil, fmt.Errorf("%w: no session for profile %s", ErrSessionNotReady, profileID)
}

func (m *Manager) lookup(profileID string) *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[profileID]
	if !ok || h.Phase() != PhaseReady {
		return nil
	}
	return h
}

// Teardown closes the session for a profile and forgets it. Closing a profile
// with no live session is a no-op.
func (m *Manager) Teardown(ctx context.Context, platformName, site string) error {
	profileID := statestore.ProfileID(platformName, site)

	m.mu.Lock()
	h, ok := m.sessions[profileID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// The arena entry stays until the browser has released the profile
	// directory; a concurrent Setup waits on the closing handle instead of
	// relaunching over it.
	err := h.Close(ctx)

	m.mu.Lock()
	if m.sessions[profileID] == h {
		delete(m.sessions, profileID)
	}
	m.mu.Unlock()
	return err
}

// Shutdown closes every live session, bounded by the context deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	if len(handles) == 0 {
		return nil
	}
	m.log.Info("Closing all sessions.", zap.Int("count", len(handles)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(handles))
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, teardownGracePeriod)
			defer cancel()
			if err := h.Close(closeCtx); err != nil {
				errCh <- fmt.Errorf("close %s: %w", h.ProfileID(), err)
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn("Timeout waiting for sessions to close.", zap.Error(ctx.Err()))
		return ctx.Err()
	}

	close(errCh)
	for err := range errCh {
		m.log.Warn("Error during session close.", zap.Error(err))
	}

	// Drop the entries only now that their browsers are gone.
	m.mu.Lock()
	for _, h := range handles {
		if m.sessions[h.ProfileID()] == h {
			delete(m.sessions, h.ProfileID())
		}
	}
	m.mu.Unlock()

	m.log.Info("All sessions closed.")
	return nil
}
