package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-gateway/internal/breaker"
	"github.com/tributary-ai/llm-gateway/internal/config"
	"github.com/tributary-ai/llm-gateway/internal/health"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/providers"
	"github.com/tributary-ai/llm-gateway/internal/providers/anthropic"
	"github.com/tributary-ai/llm-gateway/internal/providers/gemini"
	"github.com/tributary-ai/llm-gateway/internal/providers/groq"
	"github.com/tributary-ai/llm-gateway/internal/providers/huggingface"
	"github.com/tributary-ai/llm-gateway/internal/providers/openai"
	"github.com/tributary-ai/llm-gateway/internal/router"
	"github.com/tributary-ai/llm-gateway/internal/server"
	"github.com/tributary-ai/llm-gateway/internal/tenant"
)

// Application owns every long-lived component: config, tenant registry,
// router core (with its breaker set and health tracker), prober, and HTTP
// server. Nothing here is a package-level global — every component is
// constructed and injected explicitly, per the design note against
// service-locator globals.
type Application struct {
	config  *config.Config
	tenants *tenant.Registry
	router  *router.Router
	prober  *health.Prober
	server  *server.Server
	logger  *logrus.Logger
}

func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	jwtSecret := []byte(os.Getenv(cfg.Security.JWTSecretEnv))
	tenants := tenant.NewRegistry(logger, jwtSecret)
	if cfg.TenantsDir != "" {
		if err := tenants.LoadDir(cfg.TenantsDir); err != nil {
			logger.WithError(err).WithField("dir", cfg.TenantsDir).Warn("tenants directory not loaded")
		}
	}

	if err := cfg.LoadProvidersFile("configs/providers.json"); err != nil {
		return nil, fmt.Errorf("failed to load providers file: %w", err)
	}
	policyParams, err := config.LoadPoliciesFile(cfg.PoliciesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies file: %w", err)
	}

	reg := metrics.NewRegistry()

	breakers := breaker.NewSet(logger, cfg.Router.BreakerThreshold, cfg.Router.BreakerCooldown)
	tracker := health.NewTracker(logger)
	r := router.New(logger, breakers, tracker, cfg.Router.AttemptTimeout, reg)
	for name, params := range policyParams {
		r.SetPolicyParams(name, params)
	}

	if err := registerProviders(r, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	prober := health.NewProber(tracker, cfg.Router.HealthCheckInterval, cfg.Router.ProbeTimeout, logger, reg)
	for _, p := range r.Providers() {
		prober.Register(p)
	}

	serverConfig := &server.ServerConfig{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		RateLimit:      cfg.Security.RateLimitWindow,
		Security:       cfg.ToSecurityMiddlewareConfig(),
	}
	srv, err := server.NewServer(r, tenants, reg, serverConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &Application{
		config:  cfg,
		tenants: tenants,
		router:  r,
		prober:  prober,
		server:  srv,
		logger:  logger,
	}, nil
}

func (app *Application) Run() error {
	app.logger.Info("starting llm gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app.prober.Start()

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("http server starting")
		if err := app.server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	app.logger.Info("starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, app.config.Server.ShutdownGrace)
	defer shutdownCancel()

	app.prober.Stop()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("graceful shutdown completed")
	return nil
}

func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}

// registerProviders instantiates and registers one adapter per enabled
// provider descriptor.
func registerProviders(r *router.Router, cfg *config.Config, logger *logrus.Logger) error {
	registered := 0

	for name, desc := range cfg.Providers {
		if !desc.Enabled {
			continue
		}
		apiKey := os.Getenv(desc.APIKeyEnv)

		var p providers.Provider
		switch desc.Type {
		case "openai":
			p = openai.New(openai.Config{Name: name, APIKey: apiKey, BaseURL: desc.Endpoint, Model: desc.Model, Timeout: desc.Timeout}, logger)
		case "anthropic":
			p = anthropic.New(anthropic.Config{Name: name, APIKey: apiKey, BaseURL: desc.Endpoint, Model: desc.Model, Timeout: desc.Timeout}, logger)
		case "gemini":
			p = gemini.New(gemini.Config{APIKey: apiKey, BaseURL: desc.Endpoint, Model: desc.Model, Timeout: desc.Timeout}, logger)
		case "groq":
			p = groq.New(groq.Config{APIKey: apiKey, BaseURL: desc.Endpoint, Model: desc.Model}, logger)
		case "huggingface":
			p = huggingface.New(huggingface.Config{APIKey: apiKey, BaseURL: desc.Endpoint, Model: desc.Model}, logger)
		default:
			logger.WithFields(logrus.Fields{"provider": name, "type": desc.Type}).Warn("unknown provider type, skipping")
			continue
		}

		r.RegisterProvider(p)
		logger.WithFields(logrus.Fields{"provider": name, "type": desc.Type}).Info("provider registered")
		registered++
	}

	if registered == 0 {
		return fmt.Errorf("no providers were registered - check configuration and API keys")
	}

	logger.WithField("count", registered).Info("provider registration completed")
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, GROQ_API_KEY, HUGGINGFACE_API_KEY\n")
	fmt.Fprintf(os.Stderr, "  PORT, LOG_LEVEL, HEALTH_CHECK_INTERVAL, RATE_LIMIT_WINDOW_MS\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Println("llm-gateway v1.0.0")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}
