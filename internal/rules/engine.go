// internal/rules/engine.go
package rules

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Named catalog registry.
 *
 * Engine publishes compiled catalogs by name for concurrent evaluation.
 * The published map is never mutated: writers clone it, apply the change
 * and swap the pointer under a mutex, so readers need no lock and an
 * evaluation that already loaded a catalog keeps that version.
 *
 * Install always succeeds for a named catalog; sets that fail to compile
 * are skipped (see CompileCatalog) and logged. Lookups of unknown names
 * return ErrCatalogNotFound.
 */

// Engine holds named compiled catalogs for items of type T.
//
// Readers load the published map without locking. Install and Remove copy
// the map, change the copy and swap it in, so an in-flight evaluation keeps
// the catalog version it started with.
type Engine[T any] struct {
	catalogs atomic.Pointer[map[string]*CompiledCatalog[T]]
	mu       sync.Mutex // serialises writers
	opts     []CompileOption
	logger   *slog.Logger
}

// NewEngine creates an engine. opts apply to every Install.
func NewEngine[T any](logger *slog.Logger, opts ...CompileOption) *Engine[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine[T]{
		opts:   append([]CompileOption{WithLogger(logger)}, opts...),
		logger: logger,
	}
	empty := map[string]*CompiledCatalog[T]{}
	e.catalogs.Store(&empty)
	return e
}

// Install compiles catalog and publishes it under its name, replacing any
// previous version.
func (e *Engine[T]) Install(catalog types.RulesCatalog) (*CompiledCatalog[T], error) {
	if catalog.Name == "" {
		return nil, types.ErrCatalogNameRequired
	}

	compiled := CompileCatalog[T](catalog, e.opts...)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := maps.Clone(*e.catalogs.Load())
	next[catalog.Name] = compiled
	e.catalogs.Store(&next)

	e.logger.Info("catalog installed",
		"catalog", catalog.Name,
		"sets", len(compiled.Sets()),
		"skipped", len(compiled.Skipped()))
	return compiled, nil
}

// Remove unpublishes a catalog. Returns ErrCatalogNotFound if absent.
func (e *Engine[T]) Remove(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.catalogs.Load()
	if _, ok := current[name]; !ok {
		return fmt.Errorf("%w: %s", types.ErrCatalogNotFound, name)
	}
	next := maps.Clone(current)
	delete(next, name)
	e.catalogs.Store(&next)
	return nil
}

// Catalog returns the published catalog for name.
func (e *Engine[T]) Catalog(name string) (*CompiledCatalog[T], error) {
	c, ok := (*e.catalogs.Load())[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCatalogNotFound, name)
	}
	return c, nil
}

// Names returns the published catalog names in sorted order.
func (e *Engine[T]) Names() []string {
	return slices.Sorted(maps.Keys(*e.catalogs.Load()))
}

// Matches evaluates item against the named catalog.
func (e *Engine[T]) Matches(name string, item T) (bool, error) {
	c, err := e.Catalog(name)
	if err != nil {
		return false, err
	}
	return c.Matches(item), nil
}

// Explain runs the explain path of the named catalog.
func (e *Engine[T]) Explain(name string, item T) (Explanation, error) {
	c, err := e.Catalog(name)
	if err != nil {
		return Explanation{}, err
	}
	return c.Explain(item), nil
}
