package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandon/mailmirror/internal/api"
	"github.com/brandon/mailmirror/internal/cache"
	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/internal/email"
	"github.com/brandon/mailmirror/internal/logging"
	"github.com/brandon/mailmirror/internal/mailbox"
	"github.com/brandon/mailmirror/internal/mcp"
	"github.com/brandon/mailmirror/internal/metrics"
	"github.com/brandon/mailmirror/internal/tools"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	mcpMode     = flag.Bool("mcp", false, "Serve MCP tools over stdio instead of HTTP")
	tokenFor    = flag.String("token", "", "Print a signed access token for the given account and exit")
	tokenTTL    = flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -token")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailmirror version %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *tokenFor != "" {
		if err := printToken(cfg, *tokenFor, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// stdout carries the protocol in MCP mode
	var console io.Writer = os.Stdout
	if *mcpMode {
		console = os.Stderr
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Log, console)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithField("version", version).Info("Starting mailmirror")

	// Initialize cache
	mirrorCache, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer mirrorCache.Close()

	store := cache.NewStore(mirrorCache, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Register configured accounts locally
	for i := range cfg.Accounts {
		if _, err := store.UpsertAccount(ctx, &cfg.Accounts[i]); err != nil {
			logger.WithError(err).WithField("account", cfg.Accounts[i].Email).Fatal("Failed to register account")
		}
	}
	logger.WithField("accounts", cfg.AccountEmails()).Info("Registered accounts")

	m := metrics.NewMetrics()
	dialer := email.NewIMAPDialer(cfg.IMAPFor, logger)
	manager := email.NewManager(cfg, store, dialer, m, logger)
	gateway := mailbox.NewGateway(store, m, logger)

	if *mcpMode {
		registry := tools.NewRegistry(cfg, manager, gateway, store, logger)
		server := mcp.NewServer(registry, version, logger)
		if err := server.Run(ctx, os.Stdin, os.Stdout); err != nil {
			logger.WithError(err).Error("MCP server error")
		}
		logger.Info("Shutting down mailmirror")
		return
	}

	if err := cfg.ValidateHTTP(); err != nil {
		logger.WithError(err).Fatal("Invalid HTTP configuration")
	}

	router := api.NewRouter(api.RouterDependencies{
		Sync:        manager,
		Views:       gateway,
		Accounts:    store,
		Tokens:      api.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer),
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.WithField("address", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server error")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	} else {
		logger.Info("HTTP server stopped cleanly")
	}
}

// printToken signs a token for a configured account, for local testing
func printToken(cfg *config.Config, addr string, ttl time.Duration) error {
	if err := cfg.ValidateHTTP(); err != nil {
		return err
	}
	acc, err := cfg.GetAccountByEmail(addr)
	if err != nil {
		return err
	}

	token, err := api.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer).IssueToken(acc.Email, acc.Role, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
