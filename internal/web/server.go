package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Options configures NewServer.
type Options struct {
	Version string
	Bind    string
	Port    int
	Log     *logger.Logger

	// Events feeds the live status websocket. Nil disables pushes; clients
	// still get the status once on connect.
	Events StatusSource
}

// Server is the Eidon HTTP server: JSON API, web UI, screenshots and the
// live status stream.
type Server struct {
	HTTP *http.Server

	hub    *Hub
	events StatusSource
	log    *logger.Logger
}

// NewServer creates and configures the HTTP server.
func NewServer(svc *ops.Services, opts Options) (*Server, error) {
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to create template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static sub-FS: %w", err)
	}

	hub := NewHub(log)
	h := &Handlers{
		svc:      svc,
		renderer: NewRenderer(templateSub, opts.Version, log),
		hub:      hub,
		log:      log,
	}

	return &Server{
		HTTP: &http.Server{
			Addr:              net.JoinHostPort(opts.Bind, strconv.Itoa(opts.Port)),
			Handler:           securityHeaders(h.routes(staticSub)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:    hub,
		events: opts.Events,
		log:    log,
	}, nil
}

func (h *Handlers) routes(static fs.FS) *http.ServeMux {
	mux := http.NewServeMux()

	// JSON API
	mux.HandleFunc("GET /api/status", h.APIStatus)
	mux.HandleFunc("POST /api/capture/toggle", h.APIToggle)
	mux.HandleFunc("POST /api/capture/manual", h.APICaptureNow)
	mux.HandleFunc("GET /api/timeline", h.APITimeline)
	mux.HandleFunc("GET /api/search", h.APISearch)
	mux.HandleFunc("GET /api/settings", h.APIGetSettings)
	mux.HandleFunc("PUT /api/settings", h.APIUpdateSettings)
	mux.HandleFunc("GET /api/rules", h.APIListRules)
	mux.HandleFunc("POST /api/rules", h.APIAddRule)
	mux.HandleFunc("DELETE /api/rules/{id}", h.APIDeleteRule)
	mux.HandleFunc("GET /api/storage", h.APIStorageStats)
	mux.HandleFunc("POST /api/storage/cleanup", h.APICleanup)
	mux.HandleFunc("GET /api/archives", h.APIListArchives)
	mux.HandleFunc("POST /api/archives/{id}/compress", h.APICompressArchive)
	mux.HandleFunc("DELETE /api/archives/{id}", h.APIDeleteArchive)
	mux.HandleFunc("GET /api/entries/{id}", h.APIGetEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", h.APIDeleteEntry)

	// Media and live status
	mux.HandleFunc("GET /screenshots/{id}", h.HandleScreenshot)
	mux.HandleFunc("GET /ws/status", h.HandleStatusSocket)

	// Pages
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/timeline", http.StatusFound)
	})
	mux.HandleFunc("GET /timeline", h.HandleTimeline)
	mux.HandleFunc("GET /search", h.HandleSearch)
	mux.HandleFunc("GET /entries/{id}", h.HandleEntry)
	mux.HandleFunc("DELETE /entries/{id}", h.HandleDeleteEntry)
	mux.HandleFunc("GET /storage", h.HandleStorage)
	mux.HandleFunc("POST /storage/cleanup", h.HandleCleanup)
	mux.HandleFunc("GET /rules", h.HandleRules)
	mux.HandleFunc("POST /rules", h.HandleAddRule)
	mux.HandleFunc("DELETE /rules/{id}", h.HandleDeleteRule)
	mux.HandleFunc("GET /settings", h.HandleSettings)
	mux.HandleFunc("POST /capture/toggle", h.HandleToggle)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self'; connect-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// BaseURL returns the address clients on this machine use to reach the server.
func BaseURL(bind string, port int) string {
	host := bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx, s.events)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.HTTP.ListenAndServe()
	}()

	s.log.Info("Eidon UI running at http://%s", s.HTTP.Addr)
	if strings.HasPrefix(s.HTTP.Addr, "0.0.0.0:") || strings.HasPrefix(s.HTTP.Addr, "[::]:") {
		s.log.Warning("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.HTTP.Shutdown(shutdownCtx)
	}
}
