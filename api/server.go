package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wricardo/spacerelay/relay/protocol"
	"github.com/wricardo/spacerelay/relay/service"
	"github.com/wricardo/spacerelay/relay/session"
)

// Server represents the admin HTTP API server
type Server struct {
	service service.RelayService
	ws      http.Handler
	metrics http.Handler
	origins []string
	router  *mux.Router
}

// Option configures a Server
type Option func(*Server)

// WithWebSocket mounts the relay WebSocket endpoint at /ws
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// WithMetrics mounts a metrics handler at /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithCORS allows cross-origin requests from origins ("*" for any)
func WithCORS(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates a new API server
func NewServer(relayService service.RelayService, opts ...Option) *Server {
	s := &Server{
		service: relayService,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Spaces (reload must be before {space_id} patterns)
	api.HandleFunc("/spaces", s.handleListSpaces).Methods("GET")
	api.HandleFunc("/spaces/reload", s.handleReloadSpaces).Methods("POST")
	api.HandleFunc("/spaces/{space_id}/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/spaces/{space_id}/announce", s.handleAnnounce).Methods("POST")

	// Sessions
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")

	if s.ws != nil {
		s.router.Handle("/ws", s.ws)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler returns the API wrapped in CORS handling when origins are set
func (s *Server) Handler() http.Handler {
	if len(s.origins) == 0 {
		return s
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors to status codes
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrInvalidSpace), errors.Is(err, service.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Space Handlers

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.service.ListSpaces(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  len(spaces),
		"spaces": spaces,
	})
}

func (s *Server) handleReloadSpaces(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ReloadSpaces(r.Context()); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Space catalog reloaded",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	spaceID := mux.Vars(r)["space_id"]

	sessions, err := s.service.ListSessions(r.Context(), spaceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"space_id": spaceID,
		"total":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	spaceID := mux.Vars(r)["space_id"]

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.service.Announce(r.Context(), spaceID, req.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Session Handlers

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["id"]

	info, err := s.service.GetSession(r.Context(), identity)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}
