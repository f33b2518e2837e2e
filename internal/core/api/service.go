// Package api provides the gRPC evaluation service for rulebook.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/rulebook/internal/core/config"
	"github.com/solatis/rulebook/internal/core/db"
	"github.com/solatis/rulebook/internal/rules"
)

// Item is the document shape the service evaluates. Members resolve
// dynamically, so rule paths name JSON keys.
type Item = map[string]any

// CatalogSource is the read side of the catalog store.
type CatalogSource interface {
	ListNames(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, name string) (*db.StoredCatalog, error)
}

// EvaluatorService implements EvaluatorServer.
// Thin orchestration layer over the rules engine and the catalog store.
type EvaluatorService struct {
	engine  *rules.Engine[Item]
	store   CatalogSource
	cfg     *config.ServiceConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewEvaluatorService creates service instance with dependencies.
// metrics may be nil.
func NewEvaluatorService(engine *rules.Engine[Item], store CatalogSource, cfg *config.ServiceConfig, metrics *Metrics, logger *slog.Logger) (*EvaluatorService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &EvaluatorService{
		engine:  engine,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}, nil
}
