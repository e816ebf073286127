// Package web serves a local preview of a profile: the markdown report
// rendered as HTML, the auto-analysis sweep and individual skill runs.
package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/GindaChen/nsys-tui/internal/agent"
	"github.com/GindaChen/nsys-tui/internal/report"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options configures NewServer.
type Options struct {
	Bind          string
	Port          int
	Version       string
	Collaborators report.Collaborators
	Logger        *slog.Logger
}

// NewServer creates the HTTP server for the report preview of a's profile.
// The caller keeps ownership of a and closes it after Run returns.
func NewServer(a *agent.Agent, reg *skills.Registry, opts Options) (*http.Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Collaborators == nil {
		opts.Collaborators = report.Unavailable{}
	}
	logger := opts.Logger.With("component", "web")

	h, err := newHandlers(a, reg, opts.Collaborators, opts.Version, logger)
	if err != nil {
		return nil, err
	}

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/report", http.StatusFound)
	})
	mux.HandleFunc("GET /report", h.HandleReport)
	mux.HandleFunc("GET /analyze", h.HandleAnalyze)
	mux.HandleFunc("GET /skills", h.HandleSkills)
	mux.HandleFunc("GET /skills/{name}", h.HandleSkill)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return &http.Server{
		Addr:              net.JoinHostPort(opts.Bind, strconv.Itoa(opts.Port)),
		Handler:           securityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func newHandlers(a *agent.Agent, reg *skills.Registry, c report.Collaborators, version string, logger *slog.Logger) (*Handlers, error) {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	renderer, err := NewRenderer(templateSub, version, logger)
	if err != nil {
		return nil, err
	}
	return &Handlers{
		agent:    a,
		reg:      reg,
		collab:   c,
		renderer: renderer,
		logger:   logger,
	}, nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("report preview running", "url", "http://"+ln.Addr().String())
	if host, _, _ := net.SplitHostPort(srv.Addr); host == "" || host == "0.0.0.0" || host == "::" {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
