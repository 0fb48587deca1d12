package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/storage"
)

// HealthRoutes defines the health probe backed by the element store.
type HealthRoutes struct {
	store storage.BoardStore
}

// HealthRouter creates the router for the health endpoint.
func HealthRouter(store storage.BoardStore) http.Handler {
	routes := &HealthRoutes{store: store}

	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

// getHealthcheck
//
//	@Summary		Health check
//	@Description	Check that the server and its store are reachable
//	@Tags			system
//	@Success		204	{string}	string	"No Content"
//	@Failure		503	{string}	string	"Service Unavailable"
//	@Router			/health [get]
func (h *HealthRoutes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		logger.Errorf("Health check failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
