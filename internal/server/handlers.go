package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"neonhub/internal/usecase"
)

type sendRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return s.logger.With("correlation_id", CorrelationID(r.Context()))
}

// handleIndex opens a fresh conversation.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.NewSession(r.Context())
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	http.Redirect(w, r, "/c/"+session.ID, http.StatusSeeOther)
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)
	session, err := s.svc.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorNotFound {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.writePageError(w, r, err)
		return
	}

	var buf bytes.Buffer
	data := pageData{Session: s.sessionView(session, log), Version: Version}
	if err := s.page.ExecuteTemplate(&buf, "page.html", data); err != nil {
		log.Error("render page", "session_id", session.ID, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.NewSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.sessionView(session, s.requestLogger(r)))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView(session, s.requestLogger(r)))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	session, err := s.svc.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView(session, s.requestLogger(r)))
}

// handleSend streams one turn as Server-Sent Events. Failures detected
// before the first event are answered with a JSON error instead.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)
	sessionID := mux.Vars(r)["id"]

	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		return
	}

	stream := newSSEStream(w)
	out, err := s.svc.Send(r.Context(), usecase.SendInput{SessionID: sessionID, Text: req.Text}, func(ev usecase.Event) error {
		return stream.send(string(ev.Type), s.eventView(ev, log))
	})
	if err != nil {
		if !stream.started {
			s.writeError(w, r, err)
			return
		}
		log.Warn("turn finished with error", "session_id", sessionID, "err", err)
		return
	}
	log.Info("turn complete", "session_id", out.SessionID, "reply_chars", len(out.Reply.Content))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHighlightCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.highlightCSS)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := usecase.HTTPStatus(err)
	resp := errorResponse{Error: string(code), CorrelationID: CorrelationID(r.Context())}

	var ucErr *usecase.Error
	if errors.As(err, &ucErr) && code != usecase.ErrorInternal {
		resp.Reason = ucErr.Reason
	}
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) writePageError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := usecase.HTTPStatus(err)
	s.requestLogger(r).Error("page failed", "status", status, "err", err)
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
