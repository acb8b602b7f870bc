package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"ytbatch/config"
	"ytbatch/handlers"
	"ytbatch/logger"
	"ytbatch/middleware"
	"ytbatch/types"
	"ytbatch/websocket"
)

var serverLog = logger.Get("Server")

// Server is the HTTP presentation layer around an App
type Server struct {
	App    *App
	Hub    websocket.Hub
	Router *gin.Engine
}

// NewServer starts the WebSocket hub, subscribes it to the orchestrator and
// builds the router. The hub stops when ctx is done.
func NewServer(ctx context.Context, app *App) *Server {
	hub := websocket.NewHub()
	go hub.Run(ctx)
	app.Orchestrator.AddObserver(hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(app.Config.AllowedOrigins()))
	r.Use(middleware.Logging())
	r.Use(middleware.Security())

	s := &Server{App: app, Hub: hub, Router: r}
	s.setupRoutes()
	return s
}

// StartWebServer runs the API until SIGINT or SIGTERM
func StartWebServer(cfg *config.EnvConfig) error {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer app.Close()

	s := NewServer(ctx, app)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		serverLog.Emit(logger.INFO, "ytbatch web server starting on port %d\n", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	serverLog.Emit(logger.STOP, "shutting down\n")
	stopActiveRun(app)

	shutdownCtx, cancel := shutdownContext()
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	app := s.App
	orch := app.Orchestrator

	downloadHandler := handlers.NewDownloadHandler(orch, s.Hub, app.Config.AllowedOrigins())
	errorLogHandler := handlers.NewErrorLogHandler(orch)
	settingsHandler := handlers.NewSettingsHandler(app.Settings)
	healthHandler := handlers.NewHealthHandler(orch, func() string { return app.Settings.Get().OutputDir }, s.Hub.ClientCount, app.DependencyErr)

	s.Router.GET("/health", healthHandler.HealthCheck)

	apiGroup := s.Router.Group("/api")
	apiGroup.Use(middleware.RateLimit(app.Config.RequestsPerSecond, app.Config.RequestBurst))
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		downloadsGroup := apiGroup.Group("/downloads")
		{
			downloadsGroup.POST("", downloadHandler.SubmitDownload)
			downloadsGroup.POST("/batch", downloadHandler.SubmitBatch)
			downloadsGroup.POST("/import", downloadHandler.ImportBatch)
			downloadsGroup.GET("/status", downloadHandler.GetStatus)
			downloadsGroup.DELETE("/current", downloadHandler.CancelCurrent)
		}

		errorsGroup := apiGroup.Group("/errors")
		{
			errorsGroup.GET("", errorLogHandler.GetErrors)
			errorsGroup.DELETE("", errorLogHandler.ClearErrors)
			errorsGroup.POST("/flush", errorLogHandler.FlushErrors)
		}

		// WebSocket endpoints for real-time progress
		wsGroup := apiGroup.Group("/ws")
		{
			wsGroup.GET("/downloads", downloadHandler.HandleWebSocketAllConnection)
			wsGroup.GET("/downloads/:jobId", downloadHandler.HandleWebSocketConnection)
		}

		apiGroup.GET("/settings", settingsHandler.GetSettings)
		apiGroup.POST("/settings", settingsHandler.UpdateSettings)
	}
}

// stopActiveRun cancels the current run, if any, and waits for it to wind
// down. Failures are logged; shutdown carries on regardless.
func stopActiveRun(app *App) error {
	err := app.Orchestrator.CancelCurrent()
	switch {
	case errors.Is(err, types.ErrNotRunning):
		return nil
	case err != nil:
		serverLog.Emit(logger.WARNING, "cancel on shutdown: %v\n", err)
		return err
	}

	waitCtx, cancel := shutdownContext()
	defer cancel()
	if err := app.Orchestrator.WaitIdle(waitCtx); err != nil {
		serverLog.Emit(logger.WARNING, "download did not stop before shutdown: %v\n", err)
		return err
	}
	return nil
}
