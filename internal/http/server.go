package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"groovecast/internal/core"
)

// Routes are the handlers the server mounts. Nil members are skipped.
type Routes struct {
	API     *API
	Hub     *Hub
	Metrics *Metrics
	// Ready reports whether the service can take commands.
	Ready func() error
}

type Server struct {
	config *core.ServerConfig
	logger *zap.Logger
	server *http.Server
}

func NewServer(config *core.ServerConfig, routes Routes, logger *zap.Logger) *Server {
	return &Server{
		config: config,
		logger: logger,
		server: createHTTPServer(config, setupRoutes(routes, logger)),
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(routes Routes, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "groovecast"})
	}).Methods(http.MethodGet)

	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if routes.Ready != nil {
			if err := routes.Ready(); err != nil {
				logger.Debug("Readiness check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable,
					map[string]string{"status": "unavailable", "service": "groovecast", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "groovecast"})
	}).Methods(http.MethodGet)

	if routes.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(routes.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	if routes.Hub != nil {
		router.Handle("/ws/events", routes.Hub)
	}
	if routes.API != nil {
		routes.API.Register(router)
	}

	router.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(indexPage))
	}).Methods(http.MethodGet)

	return router
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
    <title>groovecast</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .endpoint { margin: 10px 0; font-family: monospace; }
    </style>
</head>
<body>
    <h1>🎵 groovecast</h1>
    <p>Playback orchestration for voice chats</p>

    <h2>Endpoints</h2>
    <div class="endpoint">POST /chats/{chat}/play {"query": "...", "user": "..."}</div>
    <div class="endpoint">POST /chats/{chat}/pause | resume | skip | stop</div>
    <div class="endpoint">PUT  /chats/{chat}/loop {"mode": "off|track|queue"}</div>
    <div class="endpoint">GET  /chats/{chat} | /chats/{chat}/queue</div>
    <div class="endpoint">GET  /ws/events?chat={chat}</div>
    <div class="endpoint"><a href="/metrics">/metrics</a> <a href="/healthz">/healthz</a> <a href="/readyz">/readyz</a></div>
</body>
</html>`

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}
