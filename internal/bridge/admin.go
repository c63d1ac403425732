package bridge

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danmuck/bandbridge/internal/auth"
	"github.com/danmuck/bandbridge/internal/logging"
	"github.com/danmuck/bandbridge/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type healthResponse struct {
	Status        string `json:"status"`
	Devices       int    `json:"devices"`
	ActiveClients int64  `json:"active_clients"`
	Dropped       uint64 `json:"dropped_readings"`
}

// AdminHandler serves read-only session state and metrics over HTTP.
func (s *Service) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestMetrics)
	r.Use(observability.RequestLogger(logging.Logger))

	r.Get("/health", s.handleHealth)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/{name}", s.handleGetSession)
	})
	r.Group(func(r chi.Router) {
		if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
			r.Use(auth.Require(auth.StaticToken{Token: token}))
		}
		r.Post("/discovery/sweep", s.handleSweep)
	})
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Devices:       len(s.reg.Names()),
		ActiveClients: s.ActiveClients(),
		Dropped:       s.reg.Dropped(),
	})
}

func (s *Service) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.reg.Sessions())
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, view := range s.reg.Sessions() {
		if view.Name == name {
			respondJSON(w, http.StatusOK, view)
			return
		}
	}
	respondError(w, http.StatusNotFound, "device not found")
}

func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := s.Sweep(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"devices": s.reg.Names()})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warnf("bridge.respondJSON encode err=%v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
