// Package api contains the HTTP surface of the whiteboard server: the REST
// API, the socket endpoint, the health and metrics probes, and the embedded
// browser client.
package api

// The OpenAPI spec is generated using "github.com/swaggo/swag/v2/cmd/swag@v2.0.0-rc4"
// To update the OpenAPI spec, run:
// install swag:
//	go install github.com/swaggo/swag/v2/cmd/swag@v2.0.0-rc4
// generate the spec:
//	swag init -g pkg/api/server.go --v3.1 -o docs/server

// @title           Sketchroom API
// @version         1.0
// @description     This is the Sketchroom whiteboard server.

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/sketchroom/sketchroom/pkg/api/v1"
	"github.com/sketchroom/sketchroom/pkg/identifiers"
	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/session"
	"github.com/sketchroom/sketchroom/pkg/storage"
	"github.com/sketchroom/sketchroom/pkg/telemetry"
	"github.com/sketchroom/sketchroom/pkg/ws"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

//go:embed assets/index.html
var clientPage []byte

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Router assembles the complete HTTP handler tree over the given registry
// and store.
func Router(registry *session.Registry, store storage.BoardStore) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		headersMiddleware,
	)

	// The socket endpoint is mounted outside the timeout middleware; a
	// connection lives far longer than any request deadline.
	r.Handle("/ws", ws.NewHandler(registry))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(middlewareTimeout))

		r.Mount("/api/sessions", v1.SessionsRouter(registry, store))
		r.Mount("/health", v1.HealthRouter(store))
		r.Handle("/metrics", telemetry.Handler())

		r.Get("/", newSessionRedirect(registry))
		r.Get("/{id}", serveClient)
	})

	return r
}

// newSessionRedirect mints a fresh session identifier, brings the session
// into existence, and sends the browser to its page.
func newSessionRedirect(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identifiers.NewSessionID()
		if _, err := registry.GetOrCreate(r.Context(), id); err != nil {
			logger.Errorf("Failed to create session %s: %v", id, err)
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		// Nobody is attached yet; make sure the empty session does not stay
		// resident forever if the browser never connects.
		registry.ScheduleEviction(id)
		http.Redirect(w, r, "/"+id, http.StatusFound)
	}
}

// serveClient returns the embedded single-page whiteboard client. The page
// reads the session identifier from its own path.
func serveClient(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clientPage)
}

// Serve starts the server on the given address and blocks until ctx is
// cancelled, then shuts down gracefully. It is assumed that the caller sets
// up appropriate signal handling.
func Serve(ctx context.Context, address string, registry *session.Registry, store storage.BoardStore) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              address,
		Handler:           Router(registry, store),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	logger.Infof("starting HTTP server on %s", address)

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Panicf("server stopped with error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infof("HTTP server stopped")
	return nil
}
