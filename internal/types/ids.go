package types

import (
	"time"

	"github.com/google/uuid"
)

// CatalogID identifies one stored version of a RulesCatalog.
// UUIDv7 time-ordering keeps versions of the same catalog sortable by id.
type CatalogID string

// NewCatalogID generates a UUIDv7 catalog version identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewCatalogID() CatalogID {
	return CatalogID(uuid.Must(uuid.NewV7()).String())
}

// ParseCatalogID validates and converts a string to CatalogID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the store.
func ParseCatalogID(s string) (CatalogID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return CatalogID(s), nil
}

// CatalogIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func CatalogIDTime(id CatalogID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
