package api

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulebook/internal/types"
)

// ReloadResult reports one catalog installed by Reload.
type ReloadResult struct {
	Name      string
	CatalogID types.CatalogID
	Sets      int
	Skipped   int
	Err       error
}

// Reload installs the latest stored version of every catalog into the
// engine. A catalog that cannot be read is reported and the previously
// published version, if any, stays in place. Only a failure to list the
// store is returned as an error.
func (s *EvaluatorService) Reload(ctx context.Context) ([]ReloadResult, error) {
	names, err := s.store.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}

	results := make([]ReloadResult, 0, len(names))
	for _, name := range names {
		stored, err := s.store.Latest(ctx, name)
		if err != nil {
			s.logger.Error("catalog reload failed", "catalog", name, "error", err)
			results = append(results, ReloadResult{Name: name, Err: err})
			continue
		}

		compiled, err := s.engine.Install(stored.Catalog)
		if err != nil {
			s.logger.Error("catalog install failed", "catalog", name, "error", err)
			results = append(results, ReloadResult{Name: name, CatalogID: stored.ID, Err: err})
			continue
		}

		s.metrics.recordInstall(name, len(compiled.Skipped()), len(s.engine.Names()))
		results = append(results, ReloadResult{
			Name:      name,
			CatalogID: stored.ID,
			Sets:      len(compiled.Sets()),
			Skipped:   len(compiled.Skipped()),
		})
	}

	return results, nil
}

// ReloadCatalogs is the RPC form of Reload.
//
// Response: {"catalogs": [{"name", "catalog_id", "sets", "skipped", "error"}]}
func (s *EvaluatorService) ReloadCatalogs(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	defer s.metrics.observeRequest("ReloadCatalogs", time.Now())

	results, err := s.Reload(ctx)
	if err != nil {
		return nil, s.fail("ReloadCatalogs", err)
	}

	catalogs := make([]any, 0, len(results))
	for _, r := range results {
		entry := map[string]any{
			"name":       r.Name,
			"catalog_id": string(r.CatalogID),
			"sets":       r.Sets,
			"skipped":    r.Skipped,
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		catalogs = append(catalogs, entry)
	}

	return structpb.NewStruct(map[string]any{"catalogs": catalogs})
}
