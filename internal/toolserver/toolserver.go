// Package toolserver implements C9, the HTTP/JSON adapter exposing the
// tool-surface methods of spec §6 over github.com/labstack/echo/v4.
package toolserver

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
	"github.com/hrygo/dbgtoolsrv/internal/dbgsession"
	"github.com/hrygo/dbgtoolsrv/internal/logging"
	"github.com/hrygo/dbgtoolsrv/internal/queue"
)

// SessionController is the C1 lifecycle boundary the open/close tool
// methods drive.
type SessionController interface {
	Start(ctx context.Context, target dbgsession.Target) error
	Stop() error
	IsActive() bool
}

// Dispatcher is the C5 boundary the command tool methods drive.
type Dispatcher interface {
	Enqueue(ctx context.Context, text string) (string, error)
	Status(id string) (queue.Status, bool)
	Cancel(id, reason string) bool
	CancelAll(reason string) int
	List() (*queue.ListEntry, []queue.ListEntry)
	GetResult(ctx context.Context, id string) (string, error)
}

// MetricsHandler exposes the ambient /metrics endpoint (C-telemetry).
type MetricsHandler interface {
	Handler() http.Handler
}

// HealthSource exposes the ambient /healthz endpoint (C3).
type HealthSource interface {
	IsHealthy() bool
}

// Server wires C1/C5 behind the tool-surface HTTP API.
type Server struct {
	echo       *echo.Echo
	session    SessionController
	dispatcher Dispatcher
	metrics    MetricsHandler
	health     HealthSource
	log        *logging.Logger
}

// New builds a Server and registers its routes. metrics/health may be
// nil to disable their endpoints (useful in tests).
func New(session SessionController, dispatcher Dispatcher, metrics MetricsHandler, health HealthSource, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	s := &Server{
		echo:       echo.New(),
		session:    session,
		dispatcher: dispatcher,
		metrics:    metrics,
		health:     health,
		log:        log,
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.registerRoutes()
	return s
}

// Echo exposes the underlying *echo.Echo for cmd/dbgtoolsrv to start.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	g := s.echo.Group("/v1/tools")
	g.POST("/open-dump", s.handleOpenDump)
	g.POST("/close-dump", s.handleCloseDump)
	g.POST("/open-remote", s.handleOpenRemote)
	g.POST("/close-remote", s.handleCloseDump)
	g.GET("/list-dumps", s.handleListDumps)
	g.POST("/run-command-async", s.handleRunCommandAsync)
	g.GET("/command-status/:id", s.handleCommandStatus)
	g.POST("/cancel-command/:id", s.handleCancelCommand)
	g.GET("/list-commands", s.handleListCommands)

	s.echo.GET("/healthz", s.handleHealthz)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	s.echo.GET("/debug/report", s.handleDebugReport)
}

type openDumpRequest struct {
	Path        string `json:"path"`
	SymbolsPath string `json:"symbolsPath"`
}

func (s *Server) handleOpenDump(c echo.Context) error {
	var req openDumpRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "malformed open-dump request"))
	}
	if req.Path == "" {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "path is required"))
	}

	err := s.session.Start(c.Request().Context(), dbgsession.Target{DumpPath: req.Path, SymbolsPath: req.SymbolsPath})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "dump opened", "path": req.Path})
}

type openRemoteRequest struct {
	Connection  string `json:"connection"`
	SymbolsPath string `json:"symbolsPath"`
}

func (s *Server) handleOpenRemote(c echo.Context) error {
	var req openRemoteRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "malformed open-remote request"))
	}
	if req.Connection == "" {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "connection is required"))
	}

	err := s.session.Start(c.Request().Context(), dbgsession.Target{RemoteConn: req.Connection, SymbolsPath: req.SymbolsPath})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "remote session opened"})
}

func (s *Server) handleCloseDump(c echo.Context) error {
	s.dispatcher.CancelAll("session closing")
	if err := s.session.Stop(); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "session closed"})
}

type dumpEntry struct {
	Path    string    `json:"path"`
	SizeB   int64     `json:"sizeBytes"`
	ModTime time.Time `json:"modTime"`
}

func (s *Server) handleListDumps(c echo.Context) error {
	dir := c.QueryParam("directory")
	if dir == "" {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "directory is required"))
	}

	var entries []dumpEntry
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable paths
		}
		if d.IsDir() || filepath.Ext(path) != ".dmp" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, dumpEntry{Path: path, SizeB: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if walkErr != nil {
		return errorResponse(c, dbgerrors.Wrap(dbgerrors.KindIOFailure, walkErr, "list dumps"))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })
	return c.JSON(http.StatusOK, map[string]any{"dumps": entries})
}

type runCommandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleRunCommandAsync(c echo.Context) error {
	var req runCommandRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "malformed run-command request"))
	}
	if req.Command == "" {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "command is required"))
	}

	id, err := s.dispatcher.Enqueue(c.Request().Context(), req.Command)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"commandId": id,
		"status":    "queued",
		"message":   "poll command-status/{commandId} to retrieve the result",
	})
}

func (s *Server) handleCommandStatus(c echo.Context) error {
	id := c.Param("id")
	status, ok := s.dispatcher.Status(id)
	if !ok {
		return errorResponse(c, dbgerrors.New(dbgerrors.KindInvalidInput, "unknown command id"))
	}

	body := map[string]any{
		"id":            status.ID,
		"status":        string(status.State),
		"queuedAt":      status.QueuedAt,
		"waitSeconds":   status.Elapsed.Seconds(),
		"queuePosition": status.QueuePosition,
	}
	if status.IsCompleted {
		result, err := s.dispatcher.GetResult(c.Request().Context(), id)
		body["result"] = result
		if err != nil {
			body["error"] = err.Error()
		}
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) handleCancelCommand(c echo.Context) error {
	id := c.Param("id")
	ok := s.dispatcher.Cancel(id, "client requested cancellation")
	return c.JSON(http.StatusOK, map[string]any{"success": ok})
}

func (s *Server) handleListCommands(c echo.Context) error {
	executing, queued := s.dispatcher.List()
	return c.JSON(http.StatusOK, map[string]any{"executing": executing, "queued": queued})
}

func (s *Server) handleHealthz(c echo.Context) error {
	if s.health == nil || s.health.IsHealthy() {
		return c.JSON(http.StatusOK, map[string]any{"healthy": true})
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]any{"healthy": false})
}

func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch dbgerrors.KindOf(err) {
	case dbgerrors.KindInvalidInput:
		status = http.StatusBadRequest
	case dbgerrors.KindNoSession, dbgerrors.KindAlreadyActive:
		status = http.StatusConflict
	case dbgerrors.KindExecutableNotFound:
		status = http.StatusFailedDependency
	case dbgerrors.KindTimeout:
		status = http.StatusGatewayTimeout
	case dbgerrors.KindCancelled:
		status = http.StatusConflict
	}
	return c.JSON(status, map[string]any{"status": "error", "error": err.Error()})
}
