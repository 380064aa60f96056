package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ldaptoid/ldaptoid/internal/adapter/ldap"
	"github.com/ldaptoid/ldaptoid/internal/idalloc"
	"github.com/ldaptoid/ldaptoid/internal/idp"
	"github.com/ldaptoid/ldaptoid/internal/idp/token"
	"github.com/ldaptoid/ldaptoid/internal/logger"
	"github.com/ldaptoid/ldaptoid/internal/mapstore"
	"github.com/ldaptoid/ldaptoid/internal/snapshot"
	"github.com/ldaptoid/ldaptoid/pkg/api"
	"github.com/ldaptoid/ldaptoid/pkg/config"
	"github.com/ldaptoid/ldaptoid/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the LDAP projection server",
	Long: `Start the ldaptoid server: fetch the directory from the configured
identity provider, publish the first snapshot and serve it over LDAP while
refreshing in the background.

Examples:
  # Start with the default config location
  ldaptoid serve

  # Start with a custom config file
  ldaptoid serve --config /etc/ldaptoid/config.yaml

  # Override any config key through the environment
  LDAPTOID_LOGGING_LEVEL=debug ldaptoid serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	// Metrics come up before any subsystem so every constructor sees
	// IsEnabled() correctly.
	if cfg.Ops.MetricsEnabled {
		metrics.Init()
		logger.Info("metrics enabled", "endpoint", cfg.Ops.ListenAddress+"/metrics")
	} else {
		logger.Info("metrics disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := token.NewCache(metrics.NewTokenMetrics())
	idpAdapter, err := idp.New(idp.Config{
		Type:           idp.Type(cfg.IdP.Type),
		BaseURL:        cfg.IdP.BaseURL,
		ClientID:       cfg.IdP.ClientID,
		ClientSecret:   cfg.IdP.ClientSecret,
		Realm:          cfg.IdP.Realm,
		Tenant:         cfg.IdP.Tenant,
		Organization:   cfg.IdP.Organization,
		RequestTimeout: cfg.IdP.RequestTimeout,
	}, tokens)
	if err != nil {
		return err
	}
	logger.Info("identity provider configured", "type", idpAdapter.Name())

	// The mapping store is optional and never fatal: an unreachable backend
	// degrades persistence, ids are still deterministic via hashing.
	var store mapstore.Store
	if cfg.MappingStore.Enabled {
		redis := mapstore.NewRedis(mapstore.RedisConfig{
			Address:  cfg.MappingStore.Address,
			Password: cfg.MappingStore.Password,
			DB:       cfg.MappingStore.DB,
		}, metrics.NewMapstoreMetrics())
		if err := redis.Connect(ctx); err != nil {
			logger.Warn("mapping store unreachable, continuing without persistence", "error", err)
		} else {
			store = redis
			defer func() { _ = redis.Close() }()
			logger.Info("mapping store connected", "address", cfg.MappingStore.Address)
		}
	}

	allocMetrics := metrics.NewAllocatorMetrics()
	uids := idalloc.New("uid", idalloc.WithMetrics(allocMetrics))
	gids := idalloc.New("gid", idalloc.WithMetrics(allocMetrics))

	refreshMetrics := metrics.NewRefreshMetrics()
	builder := snapshot.NewBuilder(snapshot.BuilderConfig{
		Features:         cfg.Features.Enabled,
		MaxGroupMembers:  cfg.Refresh.MaxGroupMembers,
		MirrorMinMembers: cfg.Features.MirrorMinMembers,
	}, uids, gids, refreshMetrics)

	scheduler := snapshot.NewScheduler(snapshot.SchedulerConfig{
		Interval:   cfg.Refresh.Interval,
		MaxBackoff: cfg.Refresh.MaxBackoff,
		MaxRetries: cfg.Refresh.MaxRetries,
		Multiplier: cfg.Refresh.BackoffMultiplier,
	}, idpAdapter, builder, store, refreshMetrics)

	scheduler.Seed(ctx)

	// Try the first build synchronously so clients connecting right after
	// startup see a directory. A failing IdP is not fatal: the listener
	// opens anyway and the refresh loop keeps retrying.
	if err := scheduler.ForceRefresh(ctx); err != nil {
		logger.Warn("initial directory fetch failed, serving empty until refresh succeeds", "error", err)
	}

	ldapServer := ldap.New(ldap.Config{
		BindAddress:        cfg.LDAP.BindAddress,
		Port:               cfg.LDAP.Port,
		BaseDN:             cfg.LDAP.BaseDN,
		BindDN:             cfg.LDAP.BindDN,
		BindPassword:       cfg.LDAP.BindPassword,
		AllowAnonymousBind: cfg.LDAP.AllowAnonymousBind,
		SizeLimit:          cfg.LDAP.SizeLimit,
		MaxConnections:     cfg.LDAP.MaxConnections,
		IdleTimeout:        cfg.LDAP.IdleTimeout,
		ShutdownTimeout:    cfg.LDAP.ShutdownTimeout,
		VendorVersion:      Version,
	}, scheduler, metrics.NewLDAPMetrics())

	opsServer := api.NewServer(cfg.Ops.ListenAddress, scheduler)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ldapServer.Serve(ctx)
	}()
	go func() {
		if err := opsServer.Start(ctx); err != nil {
			logger.Error("ops server error", "error", err)
		}
	}()
	go scheduler.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running, press Ctrl+C to stop")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
			return err
		}
		logger.Info("server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
		logger.Info("server stopped")
	}

	return nil
}
