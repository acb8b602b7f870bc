package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"ytbatch/cmd"
	"ytbatch/config"
	"ytbatch/logger"
	"ytbatch/services"
	"ytbatch/types"
)

var cliLog = logger.Get("CLI")

func main() {
	var (
		url        string
		name       string
		importPath string
		server     bool
		port       int
	)

	flag.StringVar(&url, "url", "", "URL to download")
	flag.StringVar(&name, "name", "", "Output file name (without extension) for -url")
	flag.StringVar(&importPath, "import", "", "File with one URL per line (optionally prefixed with an episode ID) to download as a batch")
	flag.BoolVar(&server, "server", false, "Start in web server mode")
	flag.IntVar(&port, "port", 0, "Port for web server mode (overrides SERVER_PORT)")
	flag.Parse()

	cfg, err := config.LoadEnv()
	if err != nil {
		fatalf("%v", err)
	}
	if port > 0 {
		cfg.Port = port
	}

	// Server mode takes precedence
	if server {
		if err := cmd.StartWebServer(cfg); err != nil {
			fatalf("%v", err)
		}
		return
	}

	if url == "" && importPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if url != "" && importPath != "" {
		fatalf("use either -url or -import, not both")
	}

	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "warning"
	}
	os.Exit(runCLI(cfg, url, name, importPath))
}

// runCLI performs one download or batch in the foreground and returns the
// process exit code
func runCLI(cfg *config.EnvConfig, url, name, importPath string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := cmd.NewApp(ctx, cfg, nil)
	if err != nil {
		printError("%v", err)
		return 1
	}
	defer app.Close()

	if app.DependencyErr != nil {
		printError("%v", app.DependencyErr)
		return 1
	}

	app.Orchestrator.AddObserver(newCLIObserver(os.Stdout))

	if err := submit(app.Orchestrator, url, name, importPath); err != nil {
		printError("%v", err)
		return 1
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := app.Orchestrator.CancelCurrent(); err != nil && !errors.Is(err, types.ErrNotRunning) {
				cliLog.Emit(logger.WARNING, "cancel: %v\n", err)
			}
		case <-done:
		}
	}()

	err = app.Orchestrator.WaitIdle(context.Background())
	close(done)
	if err != nil {
		cliLog.Emit(logger.ERROR, "waiting for downloads: %v\n", err)
		return 1
	}

	status := app.Orchestrator.CurrentStatus()
	if status.Failed > 0 || ctx.Err() != nil {
		return 1
	}
	return 0
}

func submit(orch *services.Orchestrator, url, name, importPath string) error {
	if url != "" {
		_, err := orch.SubmitSingle(url, name)
		return err
	}

	entries, err := services.ImportFile(importPath)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return &types.ValidationError{Field: "import", Reason: "no URLs found in " + importPath}
	}
	_, err = orch.SubmitBatch(entries)
	return err
}

func printError(format string, args ...any) {
	color.New(color.FgHiRed, color.Bold).Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func fatalf(format string, args ...any) {
	printError(format, args...)
	os.Exit(1)
}
