// Package apihttp is the HTTP edge of the stream gateway: stream creation,
// status polling, playlist/segment delivery and the status WebSocket.
package apihttp

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"streamgate/internal/domain"
)

// StreamService is the coordinator surface the HTTP layer drives.
type StreamService interface {
	NewStream(magnetURI string) (domain.Stream, error)
	Cleanup(id domain.StreamID)
}

// StreamIndex is the read side of the registry.
type StreamIndex interface {
	Get(id domain.StreamID) (domain.Stream, error)
	KeepAlive(id domain.StreamID) error
	Snapshot() []domain.Stream
}

// PathResolver maps stream IDs to their on-disk HLS artifacts.
type PathResolver interface {
	HLSDir(id domain.StreamID) string
	PlaylistPath(id domain.StreamID) string
}

type Server struct {
	streams        StreamService
	index          StreamIndex
	paths          PathResolver
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(streams StreamService, index StreamIndex, paths PathResolver, opts ...ServerOption) *Server {
	s := &Server{
		streams: streams,
		index:   index,
		paths:   paths,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /stream", s.handleCreateStream)
	mux.HandleFunc("GET /stream/{id}/status", s.handleStreamStatus)
	mux.HandleFunc("GET /stream/{id}", s.handleStreamPlaylist)
	mux.HandleFunc("DELETE /stream/{id}", s.handleDeleteStream)
	mux.HandleFunc("GET /hls/{id}/{file}", s.handleHLSFile)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "streamgate",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && !strings.HasPrefix(p, "/hls/")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastStreams pushes the current stream list to every WebSocket client.
func (s *Server) BroadcastStreams() {
	if s.wsHub == nil {
		return
	}
	streams := s.index.Snapshot()
	views := make([]streamStatusResponse, 0, len(streams))
	for _, st := range streams {
		views = append(views, statusView(st))
	}
	s.wsHub.Broadcast("streams", views)
}

// Close shuts the WebSocket hub down, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
