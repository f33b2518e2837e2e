package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/solatis/rulebook/internal/core/api"
	"github.com/solatis/rulebook/internal/core/auth"
	"github.com/solatis/rulebook/internal/core/config"
	"github.com/solatis/rulebook/internal/core/db"
	"github.com/solatis/rulebook/internal/core/server"
	"github.com/solatis/rulebook/internal/rules"
	"github.com/solatis/rulebook/internal/types"
)

func newServeCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gRPC evaluation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g)
		},
	}

	def := config.DefaultServiceConfig()
	cmd.Flags().String("host", def.Host, "gRPC server host")
	cmd.Flags().Int("port", def.Port, "gRPC server port")
	cmd.Flags().String("metrics-addr", def.MetricsAddr, "metrics HTTP listen address (empty disables)")
	cmd.Flags().String("catalog-dir", def.CatalogDir, "directory of catalog files imported at startup")
	return cmd
}

func runServe(cmd *cobra.Command, g *globals) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}

	database, queries, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := requireMigrated(database); err != nil {
		return err
	}

	store := db.NewCatalogStore(queries, g.logger)
	if cfg.CatalogDir != "" {
		if err := importCatalogDir(ctx, store, cfg.CatalogDir); err != nil {
			return err
		}
	}

	var authenticator *auth.Authenticator
	if cfg.AuthEnabled {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set RB_HMAC_SECRET or disable service.auth_enabled)")
		}
		authenticator = auth.NewAuthenticator(secrets, queries, g.logger)
	} else {
		g.logger.Warn("authentication disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := api.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	engine := rules.NewEngine[api.Item](g.logger)
	service, err := api.NewEvaluatorService(engine, store, cfg, metrics, g.logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if _, err := service.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load catalogs: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg, service, authenticator, g.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g.logger.Info("starting rulebook", "version", Version, "addr", cfg.Address(), "catalogs", engine.Names())

	errChan := make(chan error, 2)
	go func() { errChan <- grpcServer.Start(ctx) }()

	var metricsServer *server.MetricsServer
	if cfg.MetricsAddr != "" {
		metricsServer = server.NewMetricsServer(cfg.MetricsAddr, registry, g.logger)
		go func() { errChan <- metricsServer.Start() }()
	}

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		g.logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if metricsServer != nil {
		errs = append(errs, metricsServer.Shutdown(shutdownCtx))
	}
	errs = append(errs, grpcServer.Shutdown(shutdownCtx))
	return errors.Join(errs...)
}

// catalogExtensions lists the file types importCatalogDir reads.
var catalogExtensions = []string{".json", ".yaml", ".yml"}

// importCatalogDir stores every catalog file in dir. Unchanged catalogs do
// not create new versions.
func importCatalogDir(ctx context.Context, store *db.CatalogStore, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read catalog dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !slices.Contains(catalogExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		catalog, err := types.LoadCatalogFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := store.Save(ctx, catalog); err != nil {
			return err
		}
	}
	return nil
}
