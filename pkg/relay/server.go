// Package relay exposes the Conversation Store and Agent Bridge over HTTP:
// plain JSON endpoints for session browsing, and one Server-Sent-Events
// endpoint that re-emits Agent Bridge chunks as the converse protocol.
package relay

import (
	"errors"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"reduck/pkg/config"
	"reduck/pkg/converser"
	"reduck/pkg/convo"
	"reduck/pkg/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server wires the Conversation Store and Agent Bridge to the HTTP surface
// described by the converse protocol.
type Server struct {
	Store      *convo.Store
	Converser  *converser.Converser
	AppCfg     *config.Config
	SysCfg     *config.SystemConfig
	ProjectCWD string
}

// NewServer constructs a relay Server bound to a store, converser, and config.
func NewServer(store *convo.Store, conv *converser.Converser, appCfg *config.Config, sysCfg *config.SystemConfig, projectCWD string) *Server {
	return &Server{Store: store, Converser: conv, AppCfg: appCfg, SysCfg: sysCfg, ProjectCWD: projectCWD}
}

// Routes returns the HTTP handler exposing every endpoint in §4.3.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/leaves", s.handleLeaves)
	mux.HandleFunc("GET /api/sessions/{id}/path", s.handlePath)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/converse", s.handleConverse)
	return mux
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"config_dir":  s.SysCfg.AgentConfigDir,
		"project_cwd": s.ProjectCWD,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	previews, err := s.Store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, previews)
}

func (s *Server) handleLeaves(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	leaves, err := s.Store.Leaves(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaves)
}

func (s *Server) handlePath(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	leaf := r.URL.Query().Get("leaf")
	filter := r.URL.Query().Get("filter")

	entries, err := s.Store.LoadPath(id, leaf)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if filter == "messages" {
		var filtered []convo.Entry
		for _, e := range entries {
			if e.Type == convo.EntryUser || e.Type == convo.EntryAssistant {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.Store.LoadMessages(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("relay: failed to encode response", "error", err)
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, errs.NotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
