// Command devreload runs a development server that recompiles changed
// sources and reloads the application in front of which it sits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GoCodeAlone/devreload"
	"github.com/GoCodeAlone/devreload/config"
	"github.com/GoCodeAlone/devreload/host"
	"github.com/GoCodeAlone/devreload/observability"
	"github.com/GoCodeAlone/devreload/observability/tracing"
)

var (
	configFile = flag.String("config", "", "Path to dev config YAML file")
	envFile    = flag.String("env-file", ".env", "Path to a dotenv file loaded before the config")
	addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	noWatch    = flag.Bool("no-watch", false, "Do not watch the config file for changes")
)

func main() {
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := loadConfig(*configFile, os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	metrics := observability.NewReloadMetrics(cfg.Metrics)
	tracer := tracing.NewReloadTracer(provider.Tracer())

	app := newAppProcess(logger)
	manager, err := devreload.NewManager(cfg, newBuilder(ctx, app, logger, metrics, tracer), logger)
	if err != nil {
		log.Fatalf("Failed to build reload engine: %v", err)
	}

	mux := http.NewServeMux()
	if path := metrics.MetricsPath(); path != "" {
		mux.Handle(path, metrics.Handler())
	}
	manager.Mount(mux, app)

	if *configFile != "" && !*noWatch {
		reloader, err := config.NewConfigReloader(cfg, manager.Rebuild, manager, logger)
		if err != nil {
			log.Fatalf("Failed to create config reloader: %v", err)
		}
		watcher, err := reloader.Watch(ctx, config.NewFileSource(*configFile))
		if err != nil {
			log.Fatalf("Failed to watch configuration: %v", err)
		}
		defer watcher.Stop()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(mux, "devreload"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting dev server", "addr", cfg.Server.Addr, "upstream", cfg.App.Upstream)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	fmt.Printf("devreload listening on %s\n", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	manager.Engine().Close()
	if err := app.stop(); err != nil {
		log.Printf("Application shutdown error: %v", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	fmt.Println("Shutdown complete")
}

// loadEnvFile loads a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadConfig reads the config file, or starts from defaults when path is
// empty, and applies environment overrides.
func loadConfig(path string, lookup func(string) (string, bool)) (*config.DevConfig, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newBuilder returns the engine factory used at startup and on every config
// change that needs a rebuild. Metrics and the tracer outlive engines.
func newBuilder(
	ctx context.Context,
	app *appProcess,
	logger *slog.Logger,
	metrics *observability.ReloadMetrics,
	tracer *tracing.ReloadTracer,
) devreload.BuilderFunc {
	return func(cfg *config.DevConfig) (*devreload.Engine, error) {
		if err := app.ensure(ctx, cfg.App); err != nil {
			return nil, fmt.Errorf("start application: %w", err)
		}
		opts := []devreload.Option{
			devreload.WithLogger(logger),
			devreload.WithMetrics(metrics),
			devreload.WithTracer(tracer),
		}
		if cfg.App.RedefineEndpoint != "" {
			opts = append(opts, devreload.WithRedefiner(host.NewAgentRedefiner(cfg.App.RedefineEndpoint, nil)))
		}
		return devreload.New(cfg, app, opts...)
	}
}
