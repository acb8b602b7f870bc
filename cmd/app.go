package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"time"

	"ytbatch/config"
	"ytbatch/logger"
	"ytbatch/services"
	"ytbatch/types"
)

var appLog = logger.Get("App")

// App is the orchestration core shared by the CLI and the web server
type App struct {
	Config       *config.EnvConfig
	Settings     *config.SettingsStore
	ErrorLog     *services.ErrorLog
	Orchestrator *services.Orchestrator

	// DependencyErr is set when the backend's external tools are missing
	DependencyErr error

	closers []func() error
}

// NewApp loads settings and the previous error log, picks the error log
// sinks and wires the orchestrator. A nil backend means yt-dlp.
func NewApp(ctx context.Context, cfg *config.EnvConfig, backend services.Backend) (*App, error) {
	if level, ok := logger.ParseStatus(cfg.LogLevel); ok {
		logger.SetMinLoggingLevel(level.Level())
	} else {
		appLog.Emit(logger.WARNING, "unknown LOG_LEVEL %q, using info\n", cfg.LogLevel)
	}

	app := &App{Config: cfg}

	settings, err := config.NewSettingsStore(cfg.SettingsPath)
	if err != nil {
		appLog.Emit(logger.WARNING, "%v; using default settings\n", err)
	}
	app.Settings = settings

	var sink services.ErrorSink = &services.FileSink{Path: cfg.ErrorLogPath}
	var redisSink *services.RedisSink
	if cfg.RedisAddr != "" {
		redisSink, err = services.NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKey)
		if err != nil {
			appLog.Emit(logger.WARNING, "redis unavailable at %s, error log is kept on disk only: %v\n", cfg.RedisAddr, err)
		} else {
			appLog.Emit(logger.SUCCESS, "mirroring error log to %s\n", redisSink.Describe())
			sink = services.MultiSink{sink, redisSink}
			app.closers = append(app.closers, redisSink.Close)
		}
	}

	app.ErrorLog = services.NewErrorLog(sink)
	if err := loadPreviousErrors(ctx, cfg.ErrorLogPath, redisSink, app.ErrorLog); err != nil {
		appLog.Emit(logger.WARNING, "%v\n", err)
	}

	if backend == nil {
		ytdlp := services.NewYtdlpBackend(cfg.YtdlpPath)
		if err := ytdlp.CheckDependencies(); err != nil {
			appLog.Emit(logger.ERROR, "%v\n", err)
			app.DependencyErr = err
		}
		backend = ytdlp
	}

	executor := services.NewExecutor(backend, app.ErrorLog, services.NewMetadataReader())
	app.Orchestrator = services.NewOrchestrator(executor, app.ErrorLog, settings, services.RunnerConfig{
		SuccessDelay: cfg.SuccessDelay,
		FailureDelay: cfg.FailureDelay,
	})

	return app, nil
}

// Close stops the orchestrator, flushes the error log and releases sinks
func (a *App) Close() {
	a.Orchestrator.Close()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			appLog.Emit(logger.WARNING, "close: %v\n", err)
		}
	}
}

// loadPreviousErrors seeds log with the records of an existing error log so
// the next flush does not discard them. The file wins; redis is only read
// when there is no file.
func loadPreviousErrors(ctx context.Context, path string, redisSink *services.RedisSink, log *services.ErrorLog) error {
	data, err := os.ReadFile(path)
	source := path
	switch {
	case errors.Is(err, os.ErrNotExist):
		if redisSink == nil {
			return nil
		}
		if data, err = redisSink.Read(ctx); err != nil {
			return &types.IOError{Op: "read error log", Path: redisSink.Describe(), Err: err}
		}
		source = redisSink.Describe()
	case err != nil:
		return &types.IOError{Op: "read error log", Path: path, Err: err}
	}

	records, err := services.ParseErrorLog(bytes.NewReader(data))
	if err != nil {
		return &types.IOError{Op: "parse error log", Path: source, Err: err}
	}
	for _, record := range records {
		log.Record(record)
	}
	if len(records) > 0 {
		appLog.Emit(logger.INFO, "loaded %d earlier error(s) from %s\n", len(records), source)
	}
	return nil
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
