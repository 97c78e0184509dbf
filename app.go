package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type AppProvider interface {
	Run() error
	Interact(context.Context, context.CancelFunc) func() error
	Serve() func() error
	Stop(context.Context, context.Context) func() error
}

type App struct {
	logger   *zap.Logger
	config   *Config
	shell    *Shell
	server   *http.Server
	cleanups []func()
}

// NewApp provides an instance of App.
func NewApp(configFile, envFile string) (AppProvider, error) {
	config, err := LoadAndInitConfigs(configFile, envFile, GitCommit, GitTag, BuildTime)
	if err != nil {
		return nil, fmt.Errorf("failed to setup app configuration: %s", err)
	}

	// ensure the logs folder exists and setup the logging module.
	if err = os.MkdirAll(config.LogFolder, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create logging folder: %s", err)
	}
	clock := NewClock(config.IsProduction)
	logWriter := NewRSyncWriter(config, clock)
	logger, flusher := SetupLogging(config, logWriter, NewTickClock(clock))

	app := &App{logger: logger, config: config}
	// cleanups run in order, so later resources are prepended.
	app.cleanups = append(app.cleanups, func() { _ = flusher() }, func() {
		if err := logWriter.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "error during closing of log file:", err)
		}
	})

	journal, err := NewJournal(logger, &config.Journal)
	if err != nil {
		app.Clean()
		return nil, err
	}
	app.cleanups = append([]func(){func() {
		if err := journal.Close(); err != nil {
			logger.Error("failed to close journal", zap.Error(err))
		}
	}}, app.cleanups...)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewClientMetrics(registry)

	httpClient, err := NewHTTPClient(&config.Remote)
	if err != nil {
		app.Clean()
		return nil, fmt.Errorf("failed to setup http client: %s", err)
	}

	ids := NewIDsHandler()
	booksClient := NewBooksClient(logger, &config.Remote, httpClient, ids, metrics)
	bookService := NewBookService(logger, clock, ids, booksClient, journal)
	pager, err := NewPager(logger, &config.Pager, bookService, metrics)
	if err != nil {
		app.Clean()
		return nil, fmt.Errorf("failed to setup pager: %s", err)
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if f, err := os.Open(config.Shell.HistoryFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	app.cleanups = append([]func(){func() {
		if f, err := os.Create(config.Shell.HistoryFile); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}}, app.cleanups...)
	app.shell = NewShell(logger, &config.Shell, line, os.Stdout, pager, bookService)

	if config.Ops.Enable {
		stats := &Statistics{
			version:   config.GitTag,
			container: IsAppRunningInDocker(),
			started:   clock.Now(),
			runtime:   runtime.Version(),
			platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		// use git commit in case the tag is not set.
		if stats.version == "" {
			stats.version = config.GitCommit
		}
		apiHandler := NewAPIHandler(
			logger,
			config,
			stats,
			clock,
			ids,
			pager,
			bookService,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		)
		router := apiHandler.SetupOpsRoutes(httprouter.New(), apiHandler.MiddlewaresStack())
		app.server = &http.Server{
			Addr:           fmt.Sprintf("%s:%s", config.Ops.Host, config.Ops.Port),
			Handler:        router,
			ReadTimeout:    config.Ops.ReadTimeout,
			WriteTimeout:   config.Ops.WriteTimeout,
			MaxHeaderBytes: 1 << 20, // Max headers size : 1MB
		}
	}

	return app, nil
}

// NewJournal opens the journal backend selected by the configuration.
func NewJournal(logger *zap.Logger, config *JournalConfig) (Journaler, error) {
	switch config.Backend {
	case JournalBolt:
		db, err := GetBoltDBClient(&config.BoltDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open boltDB journal: %s", err)
		}
		return NewBoltJournal(logger, &config.BoltDB, db), nil
	case JournalRedis:
		client, err := GetRedisClient(&config.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis server: %s", err)
		}
		return NewRedisJournal(logger, client, config.Redis.ListKey), nil
	default:
		return NewNopJournal(), nil
	}
}

// Run starts the interactive shell and the optional ops server. Leaving the
// shell or receiving a termination signal stops everything.
func (app *App) Run() error {
	defer app.Clean()
	nCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sCtx, cancel := context.WithCancel(nCtx)
	defer cancel()
	g, gCtx := errgroup.WithContext(sCtx)

	g.Go(app.Interact(gCtx, cancel))
	if app.server != nil {
		g.Go(app.Serve())
		g.Go(app.Stop(nCtx, gCtx))
	}

	err := g.Wait()
	app.logger.Info("books client stopped", zap.Error(err))
	return err
}

// Interact runs the shell until the user leaves or the context is done.
// In that last case the shell goroutine may still be blocked in Prompt while
// the cleanups close the liner. That race is accepted at exit: the process
// ends right after and Close restores the terminal.
func (app *App) Interact(ctx context.Context, cancel context.CancelFunc) func() error {
	return func() error {
		defer cancel()
		done := make(chan error, 1)
		go func() {
			done <- app.shell.Run(ctx)
		}()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// Clean calls all registered cleanups functions.
func (app *App) Clean() {
	for _, f := range app.cleanups {
		f()
	}
}

// Serve starts the ops web server. Its returned error
// will be caught by the errorgroup.
func (app *App) Serve() func() error {
	return func() error {
		app.logger.Info("ops server starting",
			zap.String("app.host", app.config.Ops.Host),
			zap.String("app.port", app.config.Ops.Port),
		)
		err := app.server.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		return err
	}
}

// Stop listens for the group context and triggers the ops server graceful shutdown.
// We proceed with a brutal shutdown if the graceful did not complete successfully.
func (app *App) Stop(nCtx, gCtx context.Context) func() error {
	return func() error {
		<-gCtx.Done()

		if nCtx.Err() != nil {
			app.logger.Info("ops server stopping. reason: requested to stop")
		} else {
			app.logger.Info("ops server stopping. reason: shell closed or errored")
		}

		sCtx, cancel := context.WithTimeout(context.Background(), app.config.Ops.ShutdownTimeout)
		defer cancel()
		err := app.server.Shutdown(sCtx)
		switch err {
		case nil, http.ErrServerClosed:
			app.logger.Info("ops server graceful shutdown succeeded")
		case context.DeadlineExceeded:
			app.logger.Info("ops server graceful shutdown timed out")
		default:
			app.logger.Info("ops server graceful shutdown failed", zap.Error(err))
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Info("ops server going to force shutdown", zap.Error(app.server.Close()))
		}
		return nil
	}
}
