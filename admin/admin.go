// Package admin serves a read-only JSON view of the relay for operators.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/relay"
)

// StatusSource is the relay state exposed by the admin endpoint.
type StatusSource interface {
	Status(username string) (relay.UserStatus, bool)
	Statuses() []relay.UserStatus
	SessionCount() int
}

// Health is the body of GET /healthz.
type Health struct {
	Status   string `json:"status"`
	Users    int    `json:"users"`
	Online   int    `json:"online"`
	Sessions int    `json:"sessions"`
}

// NewRouter registers the admin routes for src.
func NewRouter(src StatusSource) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler(src)).Methods(http.MethodGet)
	r.HandleFunc("/users", usersHandler(src)).Methods(http.MethodGet)
	r.HandleFunc("/users/{name}", userHandler(src)).Methods(http.MethodGet)
	return r
}

func healthHandler(src StatusSource) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := src.Statuses()
		health := Health{Status: "ok", Users: len(statuses), Sessions: src.SessionCount()}
		for _, s := range statuses {
			if s.Online {
				health.Online++
			}
		}
		writeJSON(w, http.StatusOK, health)
	}
}

func usersHandler(src StatusSource) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Statuses())
	}
}

func userHandler(src StatusSource) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := mux.Vars(r)["name"]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		status, ok := src.Status(name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown user"})
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeJSON",
			"error":    err.Error(),
		}).Debug("Failed to write admin response")
	}
}

// Server is the admin HTTP server.
type Server struct {
	http *http.Server
}

// NewServer creates an admin server for src on addr.
func NewServer(addr string, src StatusSource) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(src),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve accepts admin requests on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"addr":     l.Addr().String(),
	}).Info("Admin endpoint listening")

	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
