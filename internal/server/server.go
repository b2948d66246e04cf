package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playmesh-dev/playmesh/go/internal/notify"
	"github.com/playmesh-dev/playmesh/go/internal/pipeline"
	"github.com/playmesh-dev/playmesh/go/internal/session"
	"github.com/playmesh-dev/playmesh/go/internal/state"
)

// Server exposes the inbound API surface over HTTP: session lifecycle, action
// submission, state reads, the notification log and the in-app WebSocket feed.
type Server struct {
	router      *mux.Router
	store       *session.Store
	pipeline    *pipeline.Pipeline
	hub         *notify.Hub
	notifyStore *notify.Store
	logger      logr.Logger
}

// New creates a server and registers its routes. gatherer may be nil to skip
// the metrics endpoint; hub and notifyStore may be nil when notifications are
// disabled.
func New(
	store *session.Store,
	pl *pipeline.Pipeline,
	hub *notify.Hub,
	notifyStore *notify.Store,
	gatherer prometheus.Gatherer,
	logger logr.Logger,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		store:       store,
		pipeline:    pl,
		hub:         hub,
		notifyStore: notifyStore,
		logger:      logger.WithName("http"),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/sessions", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/api/sessions/{id}", s.handleRemoveSession).Methods("DELETE")
	s.router.HandleFunc("/api/sessions/{id}/join", s.handleJoinSession).Methods("POST")
	s.router.HandleFunc("/api/sessions/{id}/state", s.handleGetState).Methods("GET")
	s.router.HandleFunc("/api/actions", s.handleSubmitAction).Methods("POST")
	if notifyStore != nil {
		s.router.HandleFunc("/api/notifications/{userID}", s.handleListNotifications).Methods("GET")
	}
	if hub != nil {
		s.router.HandleFunc("/ws/notifications", s.handleNotificationSocket).Methods("GET")
	}
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

type createSessionRequest struct {
	PlayerID     string          `json:"player_id"`
	Username     string          `json:"username"`
	DeviceID     string          `json:"device_id"`
	InitialState state.GameState `json:"initial_state,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayerID == "" {
		s.writeError(w, http.StatusBadRequest, "player_id is required")
		return
	}

	info := s.store.Create(req.PlayerID, req.Username, req.DeviceID, req.InitialState)
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	s.store.Remove(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

type joinSessionRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := s.store.Join(mux.Vars(r)["id"], req.DeviceID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.store.Snapshot(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.ActionType == "" {
		s.writeError(w, http.StatusBadRequest, "session_id and action_type are required")
		return
	}

	outcome := s.pipeline.Submit(r.Context(), req)
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	recs, err := s.notifyStore.ListByRecipient(mux.Vars(r)["userID"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.hub.ServeWS(w, r, userID); err != nil {
		// Upgrade already wrote its own response.
		s.logger.V(1).Info("websocket upgrade failed", "error", err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.Error(err, "failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
