// Package handler exposes the chat service behind API Gateway. Replies are
// buffered: each send returns once the model has finished.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"neonhub/internal/domain"
	"neonhub/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatService interface {
	NewSession(ctx context.Context) (domain.Session, error)
	Session(ctx context.Context, sessionID string) (domain.Session, error)
	Send(ctx context.Context, in usecase.SendInput, emit func(usecase.Event) error) (usecase.SendOutput, error)
	Reset(ctx context.Context, sessionID string) (domain.Session, error)
}

type Handler struct {
	svc ChatService
}

type sendRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	ID        string               `json:"id"`
	Role      domain.Role          `json:"role"`
	Content   string               `json:"content"`
	Status    domain.MessageStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

type sessionResponse struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Generation int               `json:"generation"`
	Loading    bool              `json:"loading"`
	Messages   []messageResponse `json:"messages"`
}

type sendResponse struct {
	SessionID string          `json:"sessionId"`
	User      messageResponse `json:"user"`
	Reply     messageResponse `json:"reply"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func NewHandler(svc ChatService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

// Handle routes an API Gateway proxy request. Both /sessions/... and
// /api/sessions/... are accepted so the same paths work behind a stage.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := slog.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	parts := splitPath(req.Path)
	switch {
	case len(parts) == 1 && parts[0] == "sessions" && req.HTTPMethod == http.MethodPost:
		session, err := h.svc.NewSession(ctx)
		if err != nil {
			return errorResult(log, correlationID, err), nil
		}
		return jsonResponse(http.StatusCreated, correlationID, toSessionResponse(session)), nil

	case len(parts) == 2 && parts[0] == "sessions" && req.HTTPMethod == http.MethodGet:
		session, err := h.svc.Session(ctx, parts[1])
		if err != nil {
			return errorResult(log, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, toSessionResponse(session)), nil

	case len(parts) == 3 && parts[0] == "sessions" && parts[2] == "messages" && req.HTTPMethod == http.MethodPost:
		return h.send(ctx, log, correlationID, parts[1], req), nil

	case len(parts) == 3 && parts[0] == "sessions" && parts[2] == "reset" && req.HTTPMethod == http.MethodPost:
		session, err := h.svc.Reset(ctx, parts[1])
		if err != nil {
			return errorResult(log, correlationID, err), nil
		}
		return jsonResponse(http.StatusOK, correlationID, toSessionResponse(session)), nil
	}

	return jsonResponse(http.StatusNotFound, correlationID, errorResponse{
		Error:         string(usecase.ErrorNotFound),
		Reason:        "route_not_found",
		CorrelationID: correlationID,
	}), nil
}

func (h *Handler) send(ctx context.Context, log *slog.Logger, correlationID, sessionID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errorResult(log, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		}
		body = string(decoded)
	}

	var in sendRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return errorResult(log, correlationID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}

	out, err := h.svc.Send(ctx, usecase.SendInput{SessionID: sessionID, Text: in.Text}, nil)
	if err != nil {
		return errorResult(log, correlationID, err)
	}
	log.Info("turn complete", "session_id", out.SessionID, "reply_chars", len(out.Reply.Content))
	return jsonResponse(http.StatusOK, correlationID, sendResponse{
		SessionID: out.SessionID,
		User:      toMessageResponse(out.User),
		Reply:     toMessageResponse(out.Reply),
	})
}

func errorResult(log *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	status, code := usecase.HTTPStatus(err)
	resp := errorResponse{Error: string(code), CorrelationID: correlationID}

	var ucErr *usecase.Error
	if errors.As(err, &ucErr) && code != usecase.ErrorInternal {
		resp.Reason = ucErr.Reason
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Warn("request rejected", "status", status, "err", err)
	}
	return jsonResponse(status, correlationID, resp)
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func toSessionResponse(s domain.Session) sessionResponse {
	out := sessionResponse{
		ID:         s.ID,
		Title:      s.Title,
		Generation: s.Generation,
		Loading:    s.Loading,
		Messages:   make([]messageResponse, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	return out
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Status:    m.Status,
		Timestamp: m.Timestamp,
	}
}

// headerValue looks a header up case-insensitively; API Gateway passes
// headers through with whatever casing the client used.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	path = strings.TrimPrefix(path, "api/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
