// Package auth provides HMAC-based API key authentication for gRPC services.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

const apiKeyIDKey = contextKey("api_key_id")

// healthPrefix is left unauthenticated so health checks work without a key.
const healthPrefix = "/grpc.health.v1.Health/"

// Queries is the subset of *db.Queries authentication needs.
type Queries interface {
	Get(ctx context.Context, name string, dest any, args ...any) error
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// KeyInfo describes an authenticated key.
type KeyInfo struct {
	ID   string `db:"api_key_id"`
	Name string `db:"name"`
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Only the HMAC of a key is stored, keyed by the secret that signed it.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate validates apiKey and returns the stored key on success.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (KeyInfo, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return KeyInfo{}, err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return KeyInfo{}, ErrUnknownKey
	}

	var row struct {
		KeyInfo
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	err = a.queries.Get(ctx, "get-api-key-by-hash", &row, ComputeHMAC(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return KeyInfo{}, ErrInvalidKey
	}
	if err != nil {
		return KeyInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if row.RevokedAt.Valid {
		return KeyInfo{}, ErrKeyRevoked
	}

	// Throttled to one write per minute per key.
	now := a.now().UTC()
	if !row.LastUsedAt.Valid || now.Sub(row.LastUsedAt.Time) > time.Minute {
		if _, err := a.queries.Exec(ctx, "update-last-used", now, row.ID); err != nil {
			a.logger.Warn("failed to record key use", "api_key_id", row.ID, "error", err)
		}
	}

	return row.KeyInfo, nil
}

// IssueAPIKey generates a key signed by secretID, stores its HMAC and
// returns the plaintext key. The plaintext is not recoverable afterwards.
func (a *Authenticator) IssueAPIKey(ctx context.Context, name, secretID string) (string, KeyInfo, error) {
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", KeyInfo{}, ErrUnknownKey
	}

	apiKey, err := GenerateAPIKey(secretID)
	if err != nil {
		return "", KeyInfo{}, err
	}

	info := KeyInfo{ID: uuid.Must(uuid.NewV7()).String(), Name: name}
	_, err = a.queries.Exec(ctx, "insert-api-key",
		info.ID, name, secretID, ComputeHMAC(secret, apiKey), a.now().UTC())
	if err != nil {
		return "", KeyInfo{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	a.logger.Info("api key issued", "api_key_id", info.ID, "name", name)
	return apiKey, info, nil
}

// RevokeAPIKey marks a key revoked. Revoking twice is not an error.
func (a *Authenticator) RevokeAPIKey(ctx context.Context, apiKeyID string) error {
	if _, err := a.queries.Exec(ctx, "revoke-api-key", a.now().UTC(), apiKeyID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		apiKeys := md.Get("x-api-key")
		if len(apiKeys) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingKey.Error())
		}

		key, err := a.Authenticate(ctx, apiKeys[0])
		switch {
		case err == nil:
		case errors.Is(err, ErrKeyRevoked):
			return nil, status.Error(codes.PermissionDenied, err.Error())
		case errors.Is(err, ErrUnavailable):
			a.logger.Error("authentication failed", "method", info.FullMethod, "error", err)
			return nil, status.Error(codes.Unavailable, ErrUnavailable.Error())
		default:
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(context.WithValue(ctx, apiKeyIDKey, key.ID), req)
	}
}

// APIKeyIDFromContext returns the authenticated key id, or "" when the
// request was not authenticated.
func APIKeyIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}
