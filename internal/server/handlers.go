package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"termbridge/internal/session"
	"termbridge/internal/webui"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps session errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrRunActive),
		errors.Is(err, session.ErrAlreadyAttached):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  "termbridge",
		"sessions": s.store.Len(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Create()
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.store.List(),
		"count":    s.store.Len(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *session.Session {
	sess, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return nil
	}
	return sess
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess := s.lookup(w, r); sess != nil {
		writeJSON(w, http.StatusOK, sess.Info())
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runRequest struct {
	Source string `json:"source"`
}

// handleRun submits a program and blocks until it finishes; the reply
// carries how the run ended. The terminal output goes over the WebSocket,
// not over this response.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "source is empty")
		return
	}

	reply, err := sess.Run(r.Context(), req.Source)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	sess.Cancel()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	if err := sess.Reset(); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := webui.RenderConsole(webui.ConsoleData{
		Title:         "termbridge playground",
		HeaderTitle:   "termbridge",
		InitialStatus: "disconnected",
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render console page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}
