package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	gateway "github.com/jk-nd/noumena-mcp-gateway"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/auth"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/config"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/contextstore"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/mediator"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/observability"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/policy"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/queue"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/rendezvous"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/router"
	"github.com/jk-nd/noumena-mcp-gateway/pkg/server"
)

// ServeCmd starts the gateway server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cli.Config == "" {
		return fmt.Errorf("--config (or SERVICES_CONFIG_PATH) is required")
	}

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer loader.Close()
	slog.Info("Loaded configuration", "path", cli.Config, "services", len(cfg.Services))

	if c.Port != 0 {
		cfg.Gateway.Port = c.Port
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Observability first so the middleware and recorders exist before
	// any traffic.
	var obs *observability.Manager
	if cfg.Observability != nil {
		obs = observability.NewManager(*cfg.Observability)
		if err := obs.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
	}

	var policyClient *policy.Client
	routerOpts := []router.Option{}
	if cfg.Policy.URL != "" {
		policyClient = policy.NewClient(cfg.Policy.URL, cfg.Policy.Timeout, cfg.Policy.MaxRetries)
		routerOpts = append(routerOpts, router.WithEnabledChecker(policyClient))
	} else {
		slog.Warn("No policy engine configured, static enabled flags are authoritative")
	}

	rt, err := router.New(cfg.Services, routerOpts...)
	if err != nil {
		return err
	}

	if c.Watch {
		// Reloads swap the router's service definitions; gateway and
		// broker settings still require a restart.
		loader.SetOnChange(func(next *config.Config) {
			if err := rt.Reload(next.Services); err != nil {
				slog.Error("Rejected reloaded service definitions", "error", err)
			}
		})
		group.Go(func() error {
			if err := loader.Watch(groupCtx); err != nil && groupCtx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
			return nil
		})
	}

	store := contextstore.NewStore(contextstore.WithTTL(cfg.Gateway.ContextTTL))

	publisher := queue.NewPublisher(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Queue,
		queue.WithReconnectInterval(cfg.RabbitMQ.ReconnectInterval))
	if err := publisher.Connect(); err != nil {
		// The reconnect loop only starts after a successful dial, so a
		// broker that is down at boot is fatal.
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	medOpts := mediator.Options{
		Router:             rt,
		Store:              store,
		Publisher:          publisher,
		Rendezvous:         rendezvous.New(),
		CallbackURL:        cfg.Gateway.PublicURL() + "/callback",
		CredentialProxyURL: cfg.Gateway.CredentialProxyURL,
		ExecutionTimeout:   cfg.Gateway.ExecutionTimeout,
		ServerName:         "noumena-mcp-gateway",
		ServerVersion:      gateway.Version,
	}
	if policyClient != nil {
		medOpts.Checker = policyClient
	}
	med, err := mediator.New(medOpts)
	if err != nil {
		return err
	}

	serverOpts := []server.Option{server.WithCloser(publisher.Close)}
	if obs != nil {
		serverOpts = append(serverOpts, server.WithObservability(obs))
	}
	if cfg.Auth.JWTEnabled() {
		validator, err := auth.NewJWTValidator(cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT validation: %w", err)
		}
		serverOpts = append(serverOpts, server.WithJWTValidator(validator))
		slog.Info("JWT validation enabled", "issuer", cfg.Auth.Issuer)
	}

	srv := server.New(cfg, med, store, serverOpts...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
		cancel()
	}()

	fmt.Printf("\nGateway ready!\n")
	fmt.Printf("   JSON-RPC:   POST http://%s/mcp\n", cfg.Gateway.Address())
	fmt.Printf("   WebSocket:  ws://%s/mcp/ws\n", cfg.Gateway.Address())
	fmt.Printf("   Health:     http://%s/health\n", cfg.Gateway.Address())
	if cfg.Observability != nil && cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:    http://%s%s\n", cfg.Gateway.Address(), cfg.Observability.Metrics.Endpoint)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	group.Go(srv.Start)
	return group.Wait()
}
