package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"docpipe/internal/auth"
	"docpipe/internal/logging"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	engine *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	logger = logging.NewComponentLogger(logger, "api")
	return &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logger,
		engine: newRouter(d, logger),
	}
}

// newRouter builds the gin engine. Everything under /documents and
// /processing requires a bearer token; worker callbacks additionally require
// the worker role.
func newRouter(d *Daemon, logger *slog.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(requestID(), recovery(logger), requestLogger(logger))

	h := &handlers{daemon: d, sessions: d.sessions, intents: d.intents, store: d.store}
	engine.GET("/healthz", h.health)

	authed := engine.Group("/", authenticate(d.issuer))

	docs := authed.Group("/documents/:id")
	docs.GET("", h.getDocument)
	docs.GET("/intents", h.listIntents)
	docs.POST("/bookmarks", h.addBookmark)
	docs.PUT("/bookmarks/:bookmarkId", h.updateBookmark)
	docs.DELETE("/bookmarks/:bookmarkId", h.deleteBookmark)
	docs.POST("/generic-break", h.addGenericBreak)
	docs.POST("/redactions", h.addRedaction)
	docs.PUT("/rotations", h.putRotation)
	docs.POST("/page-deletions", h.addPageDeletion)
	docs.POST("/create-processing-session", h.createSession)
	docs.POST("/start-processing/:sessionId", h.startProcessing)
	docs.POST("/link-results", requireRole(auth.RoleWorker), h.linkResults)

	proc := authed.Group("/processing/:sessionId")
	proc.GET("/status", h.sessionStatus)
	proc.PUT("/status", requireRole(auth.RoleWorker), h.reportOutcome)
	proc.DELETE("", h.cancelSession)

	return engine
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check api_bind and restart the daemon"),
			)
		}
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
