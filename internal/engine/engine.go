// internal/engine/engine.go

// Package engine wires the session manager, search driver, and relevance
// ranker into the operations callers actually invoke. Both the CLI and the
// control-plane server sit on top of it.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/login"
	"github.com/xkilldash9x/scout-cli/internal/relevance"
	"github.com/xkilldash9x/scout-cli/internal/search"
	"github.com/xkilldash9x/scout-cli/internal/session"
	"github.com/xkilldash9x/scout-cli/internal/statestore"
)

// Event is a progress notification published while operations run. The
// control-plane server streams these to websocket subscribers.
type Event struct {
	Type      string         `json:"type"`
	ProfileID string         `json:"profile_id,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	EventSessionReady  = "session_ready"
	EventSessionClosed = "session_closed"
	EventStateSaved    = "state_saved"
	EventSearchDone    = "search_done"
	EventBlocked       = "blocked"
)

const eventBufferSize = 64

const (
	// verificationPollInterval paces re-probes while a human clears a
	// verification wall.
	verificationPollInterval = 3 * time.Second
	// verificationWaitMax bounds the whole wait even under a background
	// context.
	verificationWaitMax = 3 * time.Minute
)

// Engine owns the long-lived services and exposes the operation surface.
type Engine struct {
	cfg    *config.Config
	store  *statestore.Store
	mgr    *session.Manager
	driver *search.Driver
	log    *zap.Logger

	events     chan Event
	verifyPoll time.Duration
}

// New builds a fully wired engine. A nil launcher selects the production
// Chrome launcher; tests pass fakes.
func New(cfg *config.Config, launcher session.Launcher, logger *zap.Logger) (*Engine, error) {
	store, err := statestore.New(cfg.State.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		mgr:        session.NewManager(cfg, store, launcher, logger),
		driver:     search.NewDriver(logger),
		log:        logger.Named("engine"),
		events:     make(chan Event, eventBufferSize),
		verifyPoll: verificationPollInterval,
	}, nil
}

// Events exposes the progress stream. Slow consumers lose events rather than
// blocking operations.
func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) publish(eventType, profileID, message string, data map[string]any) {
	ev := Event{
		Type:      eventType,
		ProfileID: profileID,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	select {
	case e.events <- ev:
	default:
		e.log.Debug("Event buffer full; dropping event.", zap.String("type", eventType))
	}
}

// SetupBrowser launches (or reuses) the persistent session for a platform
// profile, restoring its durable state.
func (e *Engine) SetupBrowser(ctx context.Context, platformName, site string) (*session.Handle, error) {
	h, err := e.mgr.Setup(ctx, platformName, site)
	if err != nil {
		return nil, err
	}
	e.publish(EventSessionReady, h.ProfileID(), "Session is ready.", nil)
	return h, nil
}

// CheckLogin probes the live page and classifies the session's login state.
func (e *Engine) CheckLogin(ctx context.Context, platformName, site string) (login.Verdict, error) {
	h, err := e.mgr.Get(platformName, site)
	if err != nil {
		return login.Verdict{}, err
	}
	probe, err := h.Probe(ctx)
	if err != nil {
		return login.Verdict{}, err
	}
	verdict := login.Detect(h.Capabilities(), probe)
	if verdict.VerificationRequired {
		e.publish(EventBlocked, h.ProfileID(), "Verification wall detected.", nil)
		if e.cfg.Search.WaitForVerification {
			return e.awaitVerification(ctx, h)
		}
	}
	return verdict, nil
}

// awaitVerification re-probes the page until a human clears the verification
// wall or the wait expires. The last verdict observed is returned either way.
func (e *Engine) awaitVerification(ctx context.Context, h *session.Handle) (login.Verdict, error) {
	e.log.Info("Waiting for manual verification.", zap.String("profile_id", h.ProfileID()))
	waitCtx, cancel := context.WithTimeout(ctx, verificationWaitMax)
	defer cancel()

	ticker := time.NewTicker(e.verifyPoll)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			return login.Verdict{
				Status:               schemas.StatusIndeterminate,
				Reason:               "verification wall not cleared before the wait expired",
				VerificationRequired: true,
			}, nil
		case <-ticker.C:
			probe, err := h.Probe(waitCtx)
			if err != nil {
				return login.Verdict{}, err
			}
			verdict := login.Detect(h.Capabilities(), probe)
			if verdict.VerificationRequired {
				continue
			}
			e.log.Info("Verification wall cleared.", zap.String("profile_id", h.ProfileID()))
			h.MarkDirty()
			return verdict, nil
		}
	}
}

// SearchParams bound one search invocation. Zero values fall back to the
// configured defaults.
type SearchParams struct {
	Platform     string
	Site         string
	Query        string
	MaxPages     int
	MinRelevance *float64
}

// Search runs the full pipeline: paginate, extract, dedup, score, rank. The
// session must already be set up. Partial results survive blocked/timeout
// terminations.
func (e *Engine) Search(ctx context.Context, params SearchParams) (*schemas.SearchReport, error) {
	h, err := e.mgr.Get(params.Platform, params.Site)
	if err != nil {
		return nil, err
	}

	maxPages := params.MaxPages
	if maxPages == 0 {
		maxPages = e.cfg.Search.MaxPages
	}
	minRelevance := e.cfg.Search.MinRelevance
	if params.MinRelevance != nil {
		minRelevance = *params.MinRelevance
	}

	pager, err := session.NewPager(h)
	if err != nil {
		return nil, err
	}

	outcome, err := e.driver.Run(ctx, pager, params.Query, search.Options{
		MaxPages:       maxPages,
		PerPageTimeout: e.cfg.Search.PerPageTimeout,
		Retries:        e.cfg.Search.PageRetries,
		PagesPerMinute: e.cfg.Search.PagesPerMinute,
	})
	if err != nil {
		return nil, err
	}

	ranker := relevance.NewRanker(e.cfg.Search.Weights)
	scored := ranker.Rank(outcome.Results, params.Query, minRelevance)

	report := &schemas.SearchReport{
		Query:        params.Query,
		Platform:     params.Platform,
		PagesVisited: outcome.PagesVisited,
		Reason:       outcome.Reason,
		RawCount:     len(outcome.Results),
		Results:      scored,
	}

	if outcome.Reason == schemas.ReasonBlocked {
		e.publish(EventBlocked, h.ProfileID(), "Search stopped by a verification wall.",
			map[string]any{"pages_visited": outcome.PagesVisited})
	}
	e.publish(EventSearchDone, h.ProfileID(), "Search finished.", map[string]any{
		"query":  params.Query,
		"reason": string(outcome.Reason),
		"raw":    len(outcome.Results),
		"ranked": len(scored),
	})

	// Search activity changes cookies; persist opportunistically.
	h.MarkDirty()
	return report, nil
}

// SaveState snapshots and persists the live session immediately.
func (e *Engine) SaveState(ctx context.Context, platformName, site string) error {
	h, err := e.mgr.Get(platformName, site)
	if err != nil {
		return err
	}
	if err := h.SaveNow(ctx); err != nil {
		return err
	}
	e.publish(EventStateSaved, h.ProfileID(), "Session state saved.", nil)
	return nil
}

// ListStates enumerates every persisted profile state on disk.
func (e *Engine) ListStates() ([]schemas.StateSummary, error) {
	return e.store.List()
}

// ClearState tears down any live session for the profile and deletes its
// persisted state and profile directory.
func (e *Engine) ClearState(ctx context.Context, platformName, site string) error {
	if err := e.mgr.Teardown(ctx, platformName, site); err != nil {
		e.log.Warn("Session close failed before clearing state.", zap.Error(err))
	}
	return e.store.Clear(statestore.ProfileID(platformName, site))
}

// Teardown closes the session for a profile, persisting a final snapshot.
func (e *Engine) Teardown(ctx context.Context, platformName, site string) error {
	profileID := statestore.ProfileID(platformName, site)
	if err := e.mgr.Teardown(ctx, platformName, site); err != nil {
		return err
	}
	e.publish(EventSessionClosed, profileID, "Session closed.", nil)
	return nil
}

// TeardownAll closes every live session, persisting final snapshots.
func (e *Engine) TeardownAll(ctx context.Context) error {
	if err := e.mgr.Shutdown(ctx); err != nil {
		return err
	}
	e.publish(EventSessionClosed, "", "All sessions closed.", nil)
	return nil
}

// Shutdown closes every live session and stops the event stream.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.mgr.Shutdown(ctx)
	close(e.events)
	return err
}
