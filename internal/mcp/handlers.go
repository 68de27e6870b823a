// internal/mcp/handlers.go
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/engine"
	"github.com/xkilldash9x/scout-cli/internal/search"
	"github.com/xkilldash9x/scout-cli/internal/session"
	"github.com/xkilldash9x/scout-cli/internal/statestore"
)

// Handlers routes control-plane commands to the engine.
type Handlers struct {
	log    *zap.Logger
	engine *engine.Engine
}

// NewHandlers creates the command handler set.
func NewHandlers(logger *zap.Logger, eng *engine.Engine) *Handlers {
	return &Handlers{
		log:    logger.Named("mcp_handlers"),
		engine: eng,
	}
}

// RegisterRoutes mounts the HTTP API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/command", h.HandleCommand)
		r.Get("/states", h.HandleListStates)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleListStates enumerates persisted profile states.
func (h *Handlers) HandleListStates(w http.ResponseWriter, r *http.Request) {
	states, err := h.engine.ListStates()
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, "Failed to list persisted states.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":  len(states),
		"states": states,
	})
}

// HandleCommand is the single command entry point.
func (h *Handlers) HandleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	h.log.Info("Received command", zap.String("command", req.Command))

	switch strings.ToLower(req.Command) {
	case "setup_browser":
		h.handleSetupBrowser(w, r, req.Params)
	case "check_login":
		h.handleCheckLogin(w, r, req.Params)
	case "search":
		h.handleSearch(w, r, req.Params)
	case "save_state":
		h.handleSaveState(w, r, req.Params)
	case "list_states":
		h.HandleListStates(w, r)
	case "clear_state":
		h.handleClearState(w, r, req.Params)
	case "teardown":
		h.handleTeardown(w, r, req.Params)
	case "ping":
		h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "pong"})
	default:
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (h *Handlers) handleSetupBrowser(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[SessionParams](paramsMap)
	if err != nil || params.Platform == "" {
		h.respondWithError(w, http.StatusBadRequest, "setup_browser requires a 'platform' parameter.")
		return
	}

	handle, err := h.engine.SetupBrowser(r.Context(), params.Platform, params.Site)
	if err != nil {
		h.respondWithEngineError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{
		"profile_id": handle.ProfileID(),
		"platform":   params.Platform,
	})
}

func (h *Handlers) handleCheckLogin(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[SessionParams](paramsMap)
	if err != nil || params.Platform == "" {
		h.respondWithError(w, http.StatusBadRequest, "check_login requires a 'platform' parameter.")
		return
	}

	verdict, err := h.engine.CheckLogin(r.Context(), params.Platform, params.Site)
	if err != nil {
		h.respondWithEngineError(w, err)
		return
	}

	data := map[string]interface{}{
		"status": string(verdict.Status),
		"reason": verdict.Reason,
	}
	if verdict.VerificationRequired {
		h.respondWithStatus(w, http.StatusOK, schemas.ResponseBlocked, data)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, data)
}

func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[SearchParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid parameters for search: %v", err))
		return
	}
	if params.Platform == "" || params.Query == "" {
		h.respondWithError(w, http.StatusBadRequest, "search requires 'platform' and 'query' parameters.")
		return
	}

	report, err := h.engine.Search(r.Context(), engine.SearchParams{
		Platform:     params.Platform,
		Site:         params.Site,
		Query:        params.Query,
		MaxPages:     params.MaxPages,
		MinRelevance: params.MinRelevance,
	})
	if err != nil {
		h.respondWithEngineError(w, err)
		return
	}

	// A blocked traversal still carries the partial results; the status tells
	// the caller a human needs to clear the wall before retrying.
	if report.Reason == schemas.ReasonBlocked {
		h.respondWithStatus(w, http.StatusOK, schemas.ResponseBlocked, report)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, report)
}

func (h *Handlers) handleSaveState(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[SessionParams](paramsMap)
	if err != nil || params.Platform == "" {
		h.respondWithError(w, http.StatusBadRequest, "save_state requires a 'platform' parameter.")
		return
	}
	if err := h.engine.SaveState(r.Context(), params.Platform, params.Site); err != nil {
		h.respondWithEngineError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "state saved"})
}

func (h *Handlers) handleClearState(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[SessionParams](paramsMap)
	if err != nil || params.Platform == "" {
		h.respondWithError(w, http.StatusBadRequest, "clear_state requires a 'platform' parameter.")
		return
	}
	if err := h.engine.ClearState(r.Context(), params.Platform, params.Site); err != nil {
		h.respondWithEngineError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "state cleared"})
}

func (h *Handlers) handleTeardown(w http.ResponseWriter, r *http.Request, paramsMap map[string]interface{}) {
	params, err := mapToStruct[SessionParams](paramsMap)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid parameters for teardown: %v", err))
		return
	}

	// No platform means close everything.
	if params.Platform == "" {
		if err := h.engine.TeardownAll(r.Context()); err != nil {
			h.respondWithEngineError(w, err)
			return
		}
		h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "all sessions closed"})
		return
	}

	if err := h.engine.Teardown(r.Context(), params.Platform, params.Site); err != nil {
		h.respondWithEngineError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"message": "session closed"})
}

// respondWithEngineError maps engine error classes onto HTTP statuses.
func (h *Handlers) respondWithEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrInvalidArgument):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotReady):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, statestore.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrLaunchFailure):
		h.respondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("Command failed", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// mapToStruct converts the generic params map into a typed struct via JSON.
func mapToStruct[T any](m map[string]interface{}) (T, error) {
	var result T
	if m == nil {
		return result, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(data, &result)
	return result, err
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithStatus(w, statusCode, schemas.ResponseError, map[string]string{"error": message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, schemas.ResponseSuccess, data)
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := schemas.CommandResponse{Status: status}

	if errMap, ok := data.(map[string]string); ok && errMap["error"] != "" {
		resp.Error = errMap["error"]
	} else {
		resp.Data = data
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
