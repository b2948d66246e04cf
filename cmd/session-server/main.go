package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/stdr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/playmesh-dev/playmesh/go/internal/config"
	"github.com/playmesh-dev/playmesh/go/internal/events"
	"github.com/playmesh-dev/playmesh/go/internal/executor"
	"github.com/playmesh-dev/playmesh/go/internal/notify"
	"github.com/playmesh-dev/playmesh/go/internal/pipeline"
	"github.com/playmesh-dev/playmesh/go/internal/server"
	"github.com/playmesh-dev/playmesh/go/internal/session"
)

const defaultConfigPath = "config/session-server.yaml"

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session-server",
		Short: "Session state and action execution service",
		Long: `session-server owns per-session game state, serializes action
processing per session, delegates rule evaluation to the external function
boundary and fans out attribute-update events and notifications.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to YAML configuration")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := loadConfiguration(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("session-server")
	logger.Info("starting",
		"version", version,
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"functionEndpoint", cfg.Function.Endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Metrics registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Session store with background expiry sweep.
	store := session.NewStore(logger,
		session.WithLease(cfg.Session.Lease),
		session.WithSweepInterval(cfg.Session.SweepInterval),
	)
	store.Start(ctx)

	// Rule-evaluation boundary.
	exec := executor.NewHTTPExecutor(cfg.Function.Endpoint, logger,
		executor.WithCallTimeout(cfg.Function.CallTimeout),
		executor.WithRetryConfig(executor.RetryConfig{
			MaxAttempts: cfg.Function.MaxAttempts,
			BaseDelay:   cfg.Function.BaseDelay,
			MaxDelay:    cfg.Function.MaxDelay,
		}),
		executor.WithTokenFunc(func() string { return cfg.Function.AuthToken }),
	)

	// Event fan-out.
	publisher := events.NewPublisher(logger,
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithEnqueueBudget(cfg.Events.EnqueueRetries, cfg.Events.EnqueueWait),
		events.WithDeliverRetries(cfg.Events.DeliverRetries),
	)
	defer publisher.Close()
	publisher.Subscribe("analytics-log", events.NewLoggingSubscriber(logger))

	// Notifications.
	notifyStore, err := notify.OpenStore(cfg.Notify.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open notification store: %w", err)
	}
	hub := notify.NewHub(logger)
	dispatcher := notify.NewDispatcher(notifyStore, logger)
	defer dispatcher.Close()

	for _, chCfg := range cfg.Notify.Channels {
		var ch notify.Channel
		switch chCfg.Type {
		case "webhook":
			ch = notify.NewWebhookChannel(chCfg.Name, chCfg.URL, chCfg.SendTimeout)
		case "inapp":
			ch = notify.NewInAppChannel(chCfg.Name, hub)
		}
		dispatcher.RegisterChannel(ch, chCfg.QueueSize, notify.RetryPolicy{
			MaxAttempts: chCfg.MaxAttempts,
			Delay:       chCfg.RetryDelay,
		})
	}
	for _, subCfg := range cfg.Notify.Subscriptions {
		dispatcher.AddSubscription(notify.Subscription{
			UserID:  subCfg.UserID,
			Channel: subCfg.Channel,
		})
	}
	publisher.Subscribe("notifications", dispatcher)

	// Pipeline and HTTP surface.
	metrics := pipeline.NewMetrics(registry)
	pl := pipeline.New(store, exec, publisher, pipeline.NewSchemaRegistry(), metrics, logger)
	srv := server.New(store, pl, hub, notifyStore, registry, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "http server error")
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received, gracefully stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "http server shutdown error")
	}

	cancel()
	logger.Info("shutdown complete")
	return nil
}

func loadConfiguration(configPath string) (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Printf("Config file not found at %s, using defaults", configPath)
		cfg := config.DefaultConfig()

		if err := config.SaveConfig(cfg, configPath); err != nil {
			log.Printf("Warning: Could not save default config: %v", err)
		} else {
			log.Printf("Default configuration saved to %s", configPath)
		}

		return cfg, nil
	}

	return config.LoadConfig(configPath)
}
