// Package v1 contains the request/response HTTP handlers for the session
// API under /api/sessions.
package v1

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sketchroom/sketchroom/pkg/board"
	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/session"
	"github.com/sketchroom/sketchroom/pkg/storage"
)

// SessionsRoutes defines the routes for session and element management.
type SessionsRoutes struct {
	registry *session.Registry
	store    storage.BoardStore
}

// SessionsRouter creates the router serving /api/sessions.
func SessionsRouter(registry *session.Registry, store storage.BoardStore) http.Handler {
	routes := &SessionsRoutes{registry: registry, store: store}

	r := chi.NewRouter()
	r.Get("/", routes.listSessions)
	r.Get("/{id}", routes.getSession)
	r.Get("/{id}/elements", routes.listElements)
	r.Post("/{id}/elements", routes.createElement)
	r.Delete("/{id}/elements", routes.clearElements)
	r.Post("/{id}/elements/batch", routes.createElementBatch)
	r.Get("/{id}/elements/{elementID}", routes.getElement)
	r.Put("/{id}/elements/{elementID}", routes.updateElement)
	r.Delete("/{id}/elements/{elementID}", routes.deleteElement)

	return r
}

// listSessions
//
//	@Summary		List sessions
//	@Description	Get every persisted session with its element count
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{array}	sessionSummary
//	@Router			/api/sessions [get]
func (s *SessionsRoutes) listSessions(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		logger.Errorf("Failed to list sessions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, sessionSummary{
			ID:           rec.ID,
			CreatedAt:    rec.CreatedAt,
			ElementCount: len(rec.Elements),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// getSession
//
//	@Summary		Get session details
//	@Description	Get a session's elements, subscriber count, and creation time
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session identifier"
//	@Success		200	{object}	sessionInfo
//	@Failure		404	{object}	errorResponse
//	@Router			/api/sessions/{id} [get]
func (s *SessionsRoutes) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	elements, userCount := sess.Snapshot()
	writeJSON(w, http.StatusOK, sessionInfo{
		ID:           sess.ID(),
		ElementCount: len(elements),
		Elements:     elements,
		UserCount:    userCount,
		CreatedAt:    sess.CreatedAt(),
	})
}

// listElements
//
//	@Summary		List elements
//	@Description	Get the session's elements in Z-order (index 0 bottom)
//	@Tags			elements
//	@Produce		json
//	@Param			id	path		string	true	"Session identifier"
//	@Success		200	{array}		board.Element
//	@Failure		404	{object}	errorResponse
//	@Router			/api/sessions/{id}/elements [get]
func (s *SessionsRoutes) listElements(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	elements, _ := sess.Snapshot()
	writeJSON(w, http.StatusOK, elements)
}

// getElement
//
//	@Summary		Get one element
//	@Tags			elements
//	@Produce		json
//	@Param			id			path		string	true	"Session identifier"
//	@Param			elementID	path		string	true	"Element identifier"
//	@Success		200			{object}	board.Element
//	@Failure		404			{object}	errorResponse
//	@Router			/api/sessions/{id}/elements/{elementID} [get]
func (s *SessionsRoutes) getElement(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	el, err := sess.Element(chi.URLParam(r, "elementID"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

// createElement
//
//	@Summary		Create an element
//	@Description	Append an element to the session, creating the session if needed
//	@Tags			elements
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session identifier"
//	@Param			element	body		board.Element	true	"Element body"
//	@Success		201		{object}	board.Element
//	@Failure		400		{object}	errorResponse
//	@Router			/api/sessions/{id}/elements [post]
func (s *SessionsRoutes) createElement(w http.ResponseWriter, r *http.Request) {
	var el board.Element
	if err := json.NewDecoder(r.Body).Decode(&el); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := board.Validate(el); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.registry.GetOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	stored, err := sess.ApplyCreate(r.Context(), el, nil)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// createElementBatch
//
//	@Summary		Create elements in bulk
//	@Description	Append elements in input order; an invalid element rejects the whole batch
//	@Tags			elements
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Session identifier"
//	@Param			elements	body		[]board.Element	true	"Element array"
//	@Success		201			{array}		board.Element
//	@Failure		400			{object}	errorResponse
//	@Router			/api/sessions/{id}/elements/batch [post]
func (s *SessionsRoutes) createElementBatch(w http.ResponseWriter, r *http.Request) {
	var list []board.Element
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be an element array")
		return
	}
	if err := board.ValidateBatch(list); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.registry.GetOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	stored, err := sess.ApplyCreateBatch(r.Context(), list, nil)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// updateElement
//
//	@Summary		Update an element
//	@Description	Overlay a partial element onto the stored one. The change is
//	announced to subscribers as a move frame regardless of which fields changed.
//	@Tags			elements
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string			true	"Session identifier"
//	@Param			elementID	path		string			true	"Element identifier"
//	@Param			patch		body		board.Element	true	"Partial element"
//	@Success		200			{object}	board.Element
//	@Failure		404			{object}	errorResponse
//	@Router			/api/sessions/{id}/elements/{elementID} [put]
func (s *SessionsRoutes) updateElement(w http.ResponseWriter, r *http.Request) {
	var patch board.Element
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.registry.GetOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	updated, err := sess.ApplyUpdate(r.Context(), chi.URLParam(r, "elementID"), patch, nil)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// deleteElement
//
//	@Summary		Delete an element
//	@Tags			elements
//	@Param			id			path	string	true	"Session identifier"
//	@Param			elementID	path	string	true	"Element identifier"
//	@Success		204			{string}	string	"No Content"
//	@Failure		404			{object}	errorResponse
//	@Router			/api/sessions/{id}/elements/{elementID} [delete]
func (s *SessionsRoutes) deleteElement(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	if err := sess.ApplyDelete(r.Context(), chi.URLParam(r, "elementID"), nil); err != nil {
		s.writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clearElements
//
//	@Summary		Clear the session
//	@Description	Remove every element from the session
//	@Tags			elements
//	@Param			id	path	string	true	"Session identifier"
//	@Success		204	{string}	string	"No Content"
//	@Router			/api/sessions/{id}/elements [delete]
func (s *SessionsRoutes) clearElements(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	if err := sess.ApplyClear(r.Context(), nil); err != nil {
		s.writeOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeOpError maps session and storage errors onto the API error contract.
func (*SessionsRoutes) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrElementNotFound):
		writeError(w, http.StatusNotFound, "element not found")
	case errors.Is(err, board.ErrInvalidElement):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Errorf("Session operation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// Response types

type errorResponse struct {
	// Human-readable failure description
	Error string `json:"error"`
}

type sessionSummary struct {
	// Session identifier
	ID string `json:"id"`
	// Creation time in millisecond Unix time
	CreatedAt int64 `json:"createdAt"`
	// Number of persisted elements
	ElementCount int `json:"elementCount"`
}

type sessionInfo struct {
	// Session identifier
	ID string `json:"id"`
	// Number of elements in the session
	ElementCount int `json:"elementCount"`
	// Elements in Z-order
	Elements []board.Element `json:"elements"`
	// Number of attached socket subscribers
	UserCount int `json:"userCount"`
	// Creation time in millisecond Unix time
	CreatedAt int64 `json:"createdAt"`
}
