package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"neonhub/internal/domain"
	"neonhub/internal/integrations/paramstore"
)

const (
	DefaultModel           = "gemini-3-flash-preview"
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 8192

	defaultMaxContext = 20
	defaultMaxMessage = 8000
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// LLMClient streams a chat completion, calling onDelta for every text
// fragment in arrival order. An error returned by onDelta aborts the stream.
type LLMClient interface {
	StreamChat(ctx context.Context, req domain.ChatRequest, onDelta func(string) error) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	ResetSession(ctx context.Context, sessionID string, greeting domain.Message) (domain.Session, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Options struct {
	// ParamPrefix enables loading the system prompt and model from SSM on
	// every turn. Missing parameters fall back to Model and SystemPrompt.
	ParamPrefix      string
	Model            string
	SystemPrompt     string
	// Temperature is sent as is; only a negative value selects the default.
	Temperature      float32
	MaxOutputTokens  int
	MaxContextItems  int
	MaxMessageLength int
}

type EventType string

const (
	EventUser        EventType = "user"
	EventPlaceholder EventType = "placeholder"
	EventDelta       EventType = "delta"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// Event is emitted while a turn progresses. Message always carries the
// latest state of the message the event is about.
type Event struct {
	Type    EventType
	Message domain.Message
	Delta   string
}

type SendInput struct {
	SessionID string
	Text      string
}

type SendOutput struct {
	SessionID string
	User      domain.Message
	Reply     domain.Message
}

type inflightTurn struct {
	user  domain.Message
	reply domain.Message
}

type ChatService struct {
	llm    LLMClient
	store  SessionStore
	params ParamGetter
	opts   Options

	loadingMu sync.Mutex
	inflight  map[string]*inflightTurn
}

func NewChatService(llm LLMClient, store SessionStore, params ParamGetter, opts Options) (*ChatService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	opts.ParamPrefix = strings.TrimRight(strings.TrimSpace(opts.ParamPrefix), "/")
	if opts.ParamPrefix != "" && params == nil {
		return nil, errors.New("usecase: param getter must not be nil when a parameter prefix is set")
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt()
	}
	if opts.Temperature < 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if opts.MaxContextItems <= 0 {
		opts.MaxContextItems = defaultMaxContext
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaultMaxMessage
	}
	return &ChatService{
		llm:      llm,
		store:    store,
		params:   params,
		opts:     opts,
		inflight: make(map[string]*inflightTurn),
	}, nil
}

// NewSession starts a conversation whose only message is the welcome greeting.
func (s *ChatService) NewSession(ctx context.Context) (domain.Session, error) {
	now := nowUTC()
	session := domain.Session{
		ID:        newUUID(),
		Messages:  []domain.Message{greeting(welcomeGreeting, now)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return domain.Session{}, newError(ErrorInternal, "store_create_error", err)
	}
	return session, nil
}

// Session returns the stored conversation plus the turn currently streaming.
func (s *ChatService) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}

	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()
	if t, ok := s.inflight[session.ID]; ok {
		session.Messages = append(session.Messages, t.user, t.reply)
		session.Loading = true
	}
	return session, nil
}

// Send runs one turn. Progress is reported through emit, which may be nil.
// When err is an upstream error the returned output is still valid: the
// reply holds FailureNotice and the turn has been persisted.
func (s *ChatService) Send(ctx context.Context, in SendInput, emit func(Event) error) (SendOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.opts.MaxMessageLength {
		return SendOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	systemPrompt, model, err := s.turnConfig(ctx)
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}
	session, err := s.getSession(ctx, in.SessionID)
	if err != nil {
		return SendOutput{}, err
	}

	now := nowUTC()
	user := domain.Message{
		ID:        newUUID(),
		Role:      domain.RoleUser,
		Content:   in.Text,
		Status:    domain.StatusComplete,
		Timestamp: now,
	}
	reply := domain.Message{
		ID:        newUUID(),
		Role:      domain.RoleModel,
		Status:    domain.StatusStreaming,
		Timestamp: now,
	}
	if !s.begin(session.ID, user, reply) {
		return SendOutput{}, newError(ErrorBusy, "turn_in_progress", nil)
	}
	defer s.finish(session.ID)

	var emitErr error
	publish := func(ev Event) {
		if emit == nil || emitErr != nil {
			return
		}
		if err := emit(ev); err != nil {
			emitErr = fmt.Errorf("usecase: emit %s event: %w", ev.Type, err)
		}
	}
	publish(Event{Type: EventUser, Message: user})
	publish(Event{Type: EventPlaceholder, Message: reply})

	req := s.buildRequest(systemPrompt, model, session.Messages, text)
	var content strings.Builder
	streamErr := s.llm.StreamChat(ctx, req, func(delta string) error {
		if delta == "" {
			return nil
		}
		content.WriteString(delta)
		reply.Content = content.String()
		s.update(session.ID, reply)
		publish(Event{Type: EventDelta, Message: reply, Delta: delta})
		return emitErr
	})
	if streamErr == nil && emitErr != nil {
		streamErr = emitErr
	}

	var outErr error
	switch {
	case streamErr == nil:
		reply.Status = domain.StatusComplete
	case (emitErr != nil || ctx.Err() != nil) && content.Len() > 0:
		// The reader went away mid-stream; keep what already arrived.
		reply.Status = domain.StatusComplete
		outErr = newError(ErrorUpstream, "stream_interrupted", streamErr)
	default:
		reply.Content = FailureNotice
		reply.Status = domain.StatusFailed
		if status, ok := upstreamStatusCode(streamErr); ok && status == 429 {
			outErr = newError(ErrorRateLimited, "llm_rate_limited", streamErr)
		} else {
			outErr = newError(ErrorUpstream, "llm_error", streamErr)
		}
	}

	title := session.Title
	if title == "" {
		title = domain.TitleFrom(text)
	}
	saveCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveTurn(saveCtx, session.ID, domain.Turn{User: user, Reply: reply, Title: title}); err != nil && outErr == nil {
		outErr = newError(ErrorInternal, "store_write_error", err)
	}

	if reply.Status == domain.StatusFailed {
		publish(Event{Type: EventError, Message: reply})
	} else {
		publish(Event{Type: EventDone, Message: reply})
	}

	return SendOutput{SessionID: session.ID, User: user, Reply: reply}, outErr
}

// Reset drops the conversation history and greets the user again.
func (s *ChatService) Reset(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if s.Loading(sessionID) {
		return domain.Session{}, newError(ErrorBusy, "turn_in_progress", nil)
	}
	session, err := s.store.ResetSession(ctx, sessionID, greeting(resetGreeting, nowUTC()))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Session{}, newError(ErrorNotFound, "session_not_found", err)
		}
		return domain.Session{}, newError(ErrorInternal, "store_reset_error", err)
	}
	return session, nil
}

// Loading reports whether a turn is streaming for the session.
func (s *ChatService) Loading(sessionID string) bool {
	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()
	_, ok := s.inflight[sessionID]
	return ok
}

func (s *ChatService) getSession(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Session{}, newError(ErrorNotFound, "session_not_found", err)
		}
		return domain.Session{}, newError(ErrorInternal, "store_read_error", err)
	}
	return session, nil
}

func (s *ChatService) buildRequest(systemPrompt, model string, history []domain.Message, question string) domain.ChatRequest {
	return domain.ChatRequest{
		Model:           model,
		SystemPrompt:    systemPrompt,
		Messages:        buildPromptMessages(history, question, s.opts.MaxContextItems),
		Temperature:     s.opts.Temperature,
		MaxOutputTokens: s.opts.MaxOutputTokens,
	}
}

func (s *ChatService) begin(sessionID string, user, reply domain.Message) bool {
	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return false
	}
	s.inflight[sessionID] = &inflightTurn{user: user, reply: reply}
	return true
}

func (s *ChatService) update(sessionID string, reply domain.Message) {
	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()
	if t, ok := s.inflight[sessionID]; ok {
		t.reply = reply
	}
}

func (s *ChatService) finish(sessionID string) {
	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()
	delete(s.inflight, sessionID)
}

// turnConfig returns the system prompt and model for one turn. With a
// parameter prefix they are read through the getter each time, so its cache
// TTL decides how fast an SSM edit reaches the chat.
func (s *ChatService) turnConfig(ctx context.Context) (systemPrompt, model string, err error) {
	if s.opts.ParamPrefix == "" {
		return s.opts.SystemPrompt, s.opts.Model, nil
	}
	prefix := s.opts.ParamPrefix

	systemPrompt, err = s.optionalParam(ctx, prefix+"/system_prompt")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load system prompt: %w", err)
	}
	model, err = s.optionalParam(ctx, prefix+"/config/model")
	if err != nil {
		return "", "", fmt.Errorf("usecase: load model: %w", err)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = s.opts.SystemPrompt
	}
	if strings.TrimSpace(model) == "" {
		model = s.opts.Model
	}
	return systemPrompt, strings.TrimSpace(model), nil
}

// optionalParam treats a missing parameter as empty.
func (s *ChatService) optionalParam(ctx context.Context, name string) (string, error) {
	v, err := s.params.GetParameter(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func greeting(content string, ts time.Time) domain.Message {
	return domain.Message{
		ID:        newUUID(),
		Role:      domain.RoleModel,
		Content:   content,
		Status:    domain.StatusComplete,
		Timestamp: ts,
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

var nowUTC = func() time.Time {
	return time.Now().UTC()
}
