package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solatis/rulebook/internal/types"
)

/*
 * Catalog persistence.
 *
 * Every Save appends a new version; nothing is updated in place. Versions
 * are keyed by UUIDv7 so "latest" is the greatest id for a name. Documents
 * are stored as the canonical JSON produced by types.EncodeCatalog and a
 * sha256 of that text, which lets Save skip versions identical to the
 * current one.
 */

// StoredCatalog is one persisted version of a catalog.
type StoredCatalog struct {
	ID        types.CatalogID
	Checksum  string
	CreatedAt time.Time
	Catalog   types.RulesCatalog
}

type catalogRow struct {
	CatalogID string    `db:"catalog_id"`
	Name      string    `db:"name"`
	Document  string    `db:"document"`
	Checksum  string    `db:"checksum"`
	SetCount  int       `db:"set_count"`
	CreatedAt time.Time `db:"created_at"`
}

func (r catalogRow) decode() (*StoredCatalog, error) {
	catalog, err := types.DecodeCatalog([]byte(r.Document), "json")
	if err != nil {
		return nil, fmt.Errorf("catalog %s: stored document: %w", r.CatalogID, err)
	}
	return &StoredCatalog{
		ID:        types.CatalogID(r.CatalogID),
		Checksum:  r.Checksum,
		CreatedAt: r.CreatedAt.UTC(),
		Catalog:   catalog,
	}, nil
}

// CatalogStore persists rule catalogs.
type CatalogStore struct {
	queries *Queries
	logger  *slog.Logger
}

// NewCatalogStore creates a store over loaded queries.
func NewCatalogStore(queries *Queries, logger *slog.Logger) *CatalogStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CatalogStore{queries: queries, logger: logger}
}

// Save stores catalog as a new version and returns its id. When the latest
// stored version has identical content its id is returned instead.
func (s *CatalogStore) Save(ctx context.Context, catalog types.RulesCatalog) (types.CatalogID, error) {
	if catalog.Name == "" {
		return "", types.ErrCatalogNameRequired
	}

	doc, err := types.EncodeCatalog(catalog)
	if err != nil {
		return "", fmt.Errorf("encode catalog %q: %w", catalog.Name, err)
	}
	checksum := fmt.Sprintf("%x", sha256.Sum256(doc))

	current, err := s.latestRow(ctx, catalog.Name)
	switch {
	case err == nil && current.Checksum == checksum:
		s.logger.Debug("catalog unchanged", "catalog", catalog.Name, "catalog_id", current.CatalogID)
		return types.CatalogID(current.CatalogID), nil
	case err != nil && !errors.Is(err, types.ErrCatalogNotFound):
		return "", err
	}

	id := types.NewCatalogID()
	_, err = s.queries.Exec(ctx, "insert-catalog",
		string(id), catalog.Name, string(doc), checksum, len(catalog.Sets), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("database error: insert catalog %q: %w", catalog.Name, err)
	}

	s.logger.Info("catalog stored", "catalog", catalog.Name, "catalog_id", id, "sets", len(catalog.Sets))
	return id, nil
}

// Latest returns the newest version of the named catalog.
// Returns types.ErrCatalogNotFound when no version exists.
func (s *CatalogStore) Latest(ctx context.Context, name string) (*StoredCatalog, error) {
	row, err := s.latestRow(ctx, name)
	if err != nil {
		return nil, err
	}
	return row.decode()
}

func (s *CatalogStore) latestRow(ctx context.Context, name string) (catalogRow, error) {
	var row catalogRow
	err := s.queries.Get(ctx, "latest-catalog", &row, name)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("%w: %s", types.ErrCatalogNotFound, name)
	}
	if err != nil {
		return row, fmt.Errorf("database error: latest catalog %q: %w", name, err)
	}
	return row, nil
}

// Get returns a specific catalog version.
func (s *CatalogStore) Get(ctx context.Context, id types.CatalogID) (*StoredCatalog, error) {
	var row catalogRow
	err := s.queries.Get(ctx, "get-catalog", &row, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrCatalogNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: get catalog %s: %w", id, err)
	}
	return row.decode()
}

// Versions lists every stored version of name, newest first.
func (s *CatalogStore) Versions(ctx context.Context, name string) ([]*StoredCatalog, error) {
	var rows []catalogRow
	if err := s.queries.Select(ctx, "list-catalog-versions", &rows, name); err != nil {
		return nil, fmt.Errorf("database error: list versions of %q: %w", name, err)
	}

	out := make([]*StoredCatalog, 0, len(rows))
	for _, r := range rows {
		c, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListNames returns the distinct stored catalog names in ascending order.
func (s *CatalogStore) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.queries.Select(ctx, "list-catalog-names", &names); err != nil {
		return nil, fmt.Errorf("database error: list catalog names: %w", err)
	}
	return names, nil
}
