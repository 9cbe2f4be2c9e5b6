package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/syncbox/internal/cleanup"
	"github.com/italolelis/syncbox/internal/config"
	"github.com/italolelis/syncbox/internal/executor/fsmirror"
	"github.com/italolelis/syncbox/internal/executor/putio"
	"github.com/italolelis/syncbox/internal/executor/s3"
	"github.com/italolelis/syncbox/internal/host"
	"github.com/italolelis/syncbox/internal/http/rest"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/notifier"
	"github.com/italolelis/syncbox/internal/rpc"
	"github.com/italolelis/syncbox/internal/storage"
	"github.com/italolelis/syncbox/internal/storage/postgres"
	"github.com/italolelis/syncbox/internal/storage/sqlite"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transfer"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler, logFile := logctx.NewHandler(cfg.SlogLevel(), logctx.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})
	defer logFile.Close()

	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("syncbox starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer closeStore.Close()

	store = storage.NewInstrumentedFileRepository(store, tel)

	// =========================================================================
	// Start Executor
	local := afero.NewOsFs()

	exec, executorName, err := buildExecutor(ctx, cfg, local)
	if err != nil {
		return fmt.Errorf("failed to build executor: %w", err)
	}

	exec = cleanup.NewLocalActionExecutor(exec, local, cfg.DataDir)
	exec = transfer.NewInstrumentedExecutor(exec, tel, executorName)

	factory := transfer.NewFactory(exec, store, transfer.WithConditions(staticConditions{
		wifi:     cfg.Conditions.WiFi,
		charging: cfg.Conditions.Charging,
	}))

	// =========================================================================
	// Start Notification
	var transferNotifier *notifier.TransferNotifier
	if cfg.DiscordWebhookURL != "" {
		transferNotifier = notifier.NewTransferNotifier(&notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})

		go transferNotifier.Run(ctx)
	}

	// =========================================================================
	// Start Host
	h := host.New(ctx, func(owner string) *transfer.Manager {
		m := transfer.NewManager(owner, factory,
			transfer.WithMaxConcurrency(cfg.MaxConcurrency),
			transfer.WithRetainedCompleted(cfg.CompletedLimit),
			transfer.WithSimulatedStep(cfg.SimulatedStepDelay),
			transfer.WithTelemetry(tel),
		)

		if transferNotifier != nil {
			m.RegisterTransferListener(transferNotifier)
		}

		return m
	})

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop transfer managers", "err", err)
		}
	}()

	// =========================================================================
	// Start RPC Service
	rpcServer := rpc.NewServer(h, rpc.WithQueueSize(cfg.RPC.SessionQueue), rpc.WithTelemetry(tel))

	rpcListener, err := listenUnix(cfg.RPC.Socket)
	if err != nil {
		return fmt.Errorf("failed to listen on rpc socket: %w", err)
	}

	rpcErrors := make(chan error, 1)

	go func() {
		rpcErrors <- rpcServer.Serve(ctx, rpcListener)
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, h, rpcServer, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for transfers...",
		"executor", executorName,
		"store", cfg.Store,
		"data_dir", cfg.DataDir,
		"max_concurrency", cfg.MaxConcurrency,
		"rpc_socket", cfg.RPC.Socket,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	if cfg.KeepDownloadedFor > 0 {
		go runCleanup(ctx, local, store, h, cfg)
	}

	// =========================================================================
	// Start Main Loop
	idleTicker := time.NewTicker(cfg.IdleInterval)
	defer idleTicker.Stop()

	idleSince := time.Now()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case err := <-rpcErrors:
			if err != nil {
				return fmt.Errorf("rpc server error: %w", err)
			}
		case <-ctx.Done():
			logger.Info("start shutdown")

			return shutdownServer(ctx, server, cfg)
		case <-idleTicker.C:
			if !cfg.ExitWhenIdle {
				continue
			}

			running, err := h.IsRunning(ctx)
			if err != nil {
				logger.Error("failed to check transfer queues", "err", err)

				continue
			}

			if running {
				idleSince = time.Now()

				continue
			}

			if time.Since(idleSince) >= cfg.IdleTimeout {
				logger.Info("no transfers left, exiting", "idle_for", time.Since(idleSince).String())

				return shutdownServer(ctx, server, cfg)
			}
		}
	}
}

func shutdownServer(ctx context.Context, server *http.Server, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// This is an abstract factory for the remote executor.
func buildExecutor(ctx context.Context, cfg *config.Config, local afero.Fs) (transfer.Executor, string, error) {
	switch cfg.Executor {
	case "fs":
		return fsmirror.New(local, afero.NewBasePathFs(local, cfg.RemoteDir), cfg.DataDir), "fs", nil
	case "putio":
		e := putio.NewExecutor(cfg.PutioToken, local, cfg.DataDir)
		if err := e.Authenticate(ctx); err != nil {
			return nil, "", fmt.Errorf("authentication error: %w", err)
		}

		return e, "putio", nil
	case "s3":
		e, err := s3.New(ctx, s3.Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			Prefix:       cfg.S3.Prefix,
		}, local, cfg.DataDir)
		if err != nil {
			return nil, "", err
		}

		return e, "s3", nil
	}

	return nil, "", fmt.Errorf("invalid executor: %s", cfg.Executor)
}

func buildStore(ctx context.Context, cfg *config.Config) (storage.FileRepository, io.Closer, error) {
	switch cfg.Store {
	case "postgres":
		repo, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		return repo, repo, nil
	default:
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return sqlite.NewFileRepository(database), database, nil
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, h *host.Host, rpcServer *rpc.Server, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Handle("/v1/rpc", rpcServer.WebSocketHandler())
	r.Mount("/", rest.NewTransferHandler(h, cfg.Web.Username, cfg.Web.Password).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "syncbox"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// listenUnix removes a stale socket left by a previous run before listening.
func listenUnix(socket string) (net.Listener, error) {
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	return net.Listen("unix", socket)
}

func runCleanup(ctx context.Context, fs afero.Fs, store storage.FileRepository, h *host.Host, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			for _, owner := range h.Owners() {
				if err := cleanup.DeleteExpiredFiles(ctx, fs, store, owner, cfg.DataDir, cfg.KeepDownloadedFor, time.Now()); err != nil {
					logger.Error("failed to delete expired files", "owner", owner, "err", err)
				}
			}
		}
	}
}

// staticConditions reports the network and power state configured for the host.
type staticConditions struct {
	wifi     bool
	charging bool
}

func (c staticConditions) OnWiFi() bool   { return c.wifi }
func (c staticConditions) Charging() bool { return c.charging }
