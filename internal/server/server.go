// Package server serves the chat page and its JSON/SSE API.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"neonhub/internal/domain"
	"neonhub/internal/render"
	"neonhub/internal/usecase"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	maxBodyBytes           = 256 << 10
)

//go:embed web
var webFS embed.FS

// ChatService is the conversation service behind the HTTP API.
type ChatService interface {
	NewSession(ctx context.Context) (domain.Session, error)
	Session(ctx context.Context, sessionID string) (domain.Session, error)
	Send(ctx context.Context, in usecase.SendInput, emit func(usecase.Event) error) (usecase.SendOutput, error)
	Reset(ctx context.Context, sessionID string) (domain.Session, error)
}

type Options struct {
	Logger          *slog.Logger
	RateLimit       float64 // sends per second per client IP; zero disables limiting
	RateBurst       int
	HighlightStyle  string
	ShutdownTimeout time.Duration
}

type Server struct {
	svc          ChatService
	logger       *slog.Logger
	limiter      *ipLimiter
	page         *template.Template
	highlightCSS []byte
	static       http.Handler
	shutdown     time.Duration
	router       *mux.Router
}

func New(svc ChatService, opts Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("server: chat service must not be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HighlightStyle == "" {
		opts.HighlightStyle = render.DefaultStyle
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	page, err := template.ParseFS(webFS, "web/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("server: parse templates: %w", err)
	}
	css, err := render.CSS(opts.HighlightStyle)
	if err != nil {
		return nil, fmt.Errorf("server: highlight css: %w", err)
	}
	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		return nil, fmt.Errorf("server: static assets: %w", err)
	}

	s := &Server{
		svc:          svc,
		logger:       opts.Logger,
		limiter:      newIPLimiter(opts.RateLimit, opts.RateBurst),
		page:         page,
		highlightCSS: []byte(css),
		static:       http.StripPrefix("/static/", http.FileServer(http.FS(static))),
		shutdown:     opts.ShutdownTimeout,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withCorrelation, s.withLogging)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/c/{id}", s.handleChatPage).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/static/highlight.css", s.handleHighlightCSS).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(s.static).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.Handle("/sessions/{id}/messages", s.rateLimited(http.HandlerFunc(s.handleSend))).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully,
// letting in-flight streams finish within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})
	return eg.Wait()
}
