package server

import (
	"html/template"
	"log/slog"
	"time"

	"neonhub/internal/domain"
	"neonhub/internal/render"
	"neonhub/internal/usecase"
)

type messageView struct {
	ID        string               `json:"id"`
	Role      domain.Role          `json:"role"`
	Content   string               `json:"content"`
	Status    domain.MessageStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
	HTML      template.HTML        `json:"html"`
}

// Waiting reports an empty placeholder; the page shows loading dots for it.
func (m messageView) Waiting() bool {
	return m.Role == domain.RoleModel && m.Status == domain.StatusStreaming && m.Content == ""
}

type sessionView struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Generation int           `json:"generation"`
	Loading    bool          `json:"loading"`
	Messages   []messageView `json:"messages"`
}

type eventView struct {
	Message messageView `json:"message"`
	Delta   string      `json:"delta,omitempty"`
}

type pageData struct {
	Session sessionView
	Version string
}

// Version is shown in the sidebar footer.
const Version = "v2.5.0 • Stable Build"

func (s *Server) sessionView(session domain.Session, log *slog.Logger) sessionView {
	view := sessionView{
		ID:         session.ID,
		Title:      session.Title,
		Generation: session.Generation,
		Loading:    session.Loading,
		Messages:   make([]messageView, 0, len(session.Messages)),
	}
	for _, m := range session.Messages {
		view.Messages = append(view.Messages, s.messageView(m, log))
	}
	return view
}

func (s *Server) messageView(m domain.Message, log *slog.Logger) messageView {
	html, err := render.HTML(m.ID, m.Content)
	if err != nil {
		log.Warn("markdown render failed, falling back to text", "message_id", m.ID, "err", err)
		html = template.HTML("<p>" + template.HTMLEscapeString(m.Content) + "</p>")
	}
	return messageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Status:    m.Status,
		Timestamp: m.Timestamp,
		HTML:      html,
	}
}

func (s *Server) eventView(ev usecase.Event, log *slog.Logger) eventView {
	return eventView{Message: s.messageView(ev.Message, log), Delta: ev.Delta}
}
