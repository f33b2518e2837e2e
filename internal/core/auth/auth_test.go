package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/rulebook/internal/core/db"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()

	conn, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = db.MigrateUp(conn)
	require.NoError(t, err)

	q, err := db.LoadQueries(conn)
	require.NoError(t, err)

	secrets := map[string][]byte{testSecretID: []byte(strings.Repeat("s", 32))}
	return NewAuthenticator(secrets, q, nil)
}

func TestParseAPIKey(t *testing.T) {
	random := strings.Repeat("ab", 32)

	secretID, data, err := ParseAPIKey(FormatAPIKey(testSecretID, random))
	require.NoError(t, err)
	assert.Equal(t, testSecretID, secretID)
	assert.Equal(t, random, data)

	bad := []string{
		"",
		"tk-v1-" + testSecretID + "-" + random,
		"rb-v2-" + testSecretID + "-" + random,
		"rb-v1-" + testSecretID[:31] + "-" + random,
		"rb-v1-" + testSecretID + "-" + random[:63],
		"rb-v1-" + strings.ToUpper(testSecretID) + "-" + random,
		"rb-v1-" + testSecretID + "-" + random + "-extra",
	}
	for _, key := range bad {
		_, _, err := ParseAPIKey(key)
		assert.ErrorIs(t, err, ErrInvalidKeyFormat, "key %q", key)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)
	b, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	_, _, err = ParseAPIKey(a)
	assert.NoError(t, err)
}

func TestVerifyHMAC(t *testing.T) {
	secret := []byte(strings.Repeat("k", 32))
	h := ComputeHMAC(secret, "key")
	assert.True(t, VerifyHMAC(h, ComputeHMAC(secret, "key")))
	assert.False(t, VerifyHMAC(h, ComputeHMAC(secret, "other")))
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	key, issued, err := a.IssueAPIKey(ctx, "ci", testSecretID)
	require.NoError(t, err)

	info, err := a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, issued, info)

	forged, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = a.Authenticate(ctx, FormatAPIKey("fedcba9876543210fedcba9876543210", strings.Repeat("0", 64)))
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = a.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}

func TestAuthenticate_Revoked(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	key, info, err := a.IssueAPIKey(ctx, "ci", testSecretID)
	require.NoError(t, err)
	require.NoError(t, a.RevokeAPIKey(ctx, info.ID))
	require.NoError(t, a.RevokeAPIKey(ctx, info.ID))

	_, err = a.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrKeyRevoked)
}

func TestIssueAPIKey_UnknownSecret(t *testing.T) {
	a := newTestAuthenticator(t)
	_, _, err := a.IssueAPIKey(context.Background(), "ci", "fedcba9876543210fedcba9876543210")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestUnaryInterceptor(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	key, info, err := a.IssueAPIKey(ctx, "ci", testSecretID)
	require.NoError(t, err)

	var seen string
	handler := func(ctx context.Context, req any) (any, error) {
		seen = APIKeyIDFromContext(ctx)
		return "ok", nil
	}
	interceptor := a.UnaryInterceptor()
	evaluate := &grpc.UnaryServerInfo{FullMethod: "/rulebook.v1.Evaluator/Evaluate"}

	t.Run("valid key", func(t *testing.T) {
		md := metadata.Pairs("x-api-key", key)
		resp, err := interceptor(metadata.NewIncomingContext(ctx, md), nil, evaluate, handler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
		assert.Equal(t, info.ID, seen)
	})

	t.Run("missing metadata", func(t *testing.T) {
		_, err := interceptor(ctx, nil, evaluate, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("missing key", func(t *testing.T) {
		md := metadata.Pairs("other", "x")
		_, err := interceptor(metadata.NewIncomingContext(ctx, md), nil, evaluate, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("health checks skip authentication", func(t *testing.T) {
		seen = "unset"
		health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
		_, err := interceptor(ctx, nil, health, handler)
		require.NoError(t, err)
		assert.Empty(t, seen)
	})

	t.Run("revoked key", func(t *testing.T) {
		require.NoError(t, a.RevokeAPIKey(ctx, info.ID))
		md := metadata.Pairs("x-api-key", key)
		_, err := interceptor(metadata.NewIncomingContext(ctx, md), nil, evaluate, handler)
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})
}
