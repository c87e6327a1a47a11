package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(accessTTL time.Duration) (TokenService, error) {
	return NewTokenService(
		accessTTL,
		7*24*time.Hour,
		"test-issuer",
		"test-audience",
		false, // useRSAKeys
		"",    // privateKeyPEM
		"",    // publicKeyPEM
		"test-secret-key-for-jwt-signing-32-chars",
		nil, // in-memory revocation
		"test:",
	)
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		useRSAKeys  bool
		secretKey   string
		expectError bool
	}{
		{name: "valid symmetric key configuration", secretKey: "test-secret-key-for-jwt-signing-32-chars"},
		{name: "missing secret key", secretKey: "", expectError: true},
		{name: "rsa without keys", useRSAKeys: true, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(time.Minute, time.Hour, "iss", "aud", tt.useRSAKeys, "", "", tt.secretKey, nil, "")
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

func TestGenerateAndValidateOperatorTokens(t *testing.T) {
	service, err := createTestTokenService(15 * time.Minute)
	require.NoError(t, err)

	access, refresh, err := service.GenerateOperatorTokens(42)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)

	t.Run("access token claims", func(t *testing.T) {
		claims, err := service.ValidateOperatorToken(access)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.OperatorID)
		assert.Equal(t, "access", claims.TokenType)
		assert.NotEmpty(t, claims.TokenID)
		assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
	})

	t.Run("refresh token claims", func(t *testing.T) {
		claims, err := service.ValidateOperatorToken(refresh)
		require.NoError(t, err)
		assert.Equal(t, "refresh", claims.TokenType)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := service.ValidateOperatorToken("not.a.jwt")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("token signed with another key", func(t *testing.T) {
		other, err := NewTokenService(time.Minute, time.Hour, "test-issuer", "test-audience", false, "", "", "another-secret-key-for-jwt-signing-32", nil, "")
		require.NoError(t, err)
		foreign, _, err := other.GenerateOperatorTokens(42)
		require.NoError(t, err)

		_, err = service.ValidateOperatorToken(foreign)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestTokenExpiration(t *testing.T) {
	service, err := createTestTokenService(-time.Minute)
	require.NoError(t, err)

	access, _, err := service.GenerateOperatorTokens(1)
	require.NoError(t, err)

	_, err = service.ValidateOperatorToken(access)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefreshToken(t *testing.T) {
	service, err := createTestTokenService(15 * time.Minute)
	require.NoError(t, err)

	access, refresh, err := service.GenerateOperatorTokens(7)
	require.NoError(t, err)

	t.Run("access token cannot refresh", func(t *testing.T) {
		_, _, err := service.RefreshToken(access)
		assert.Error(t, err)
	})

	t.Run("refresh rotates and revokes the old token", func(t *testing.T) {
		newAccess, newRefresh, err := service.RefreshToken(refresh)
		require.NoError(t, err)
		assert.NotEmpty(t, newAccess)
		assert.NotEmpty(t, newRefresh)

		_, err = service.ValidateOperatorToken(refresh)
		assert.ErrorIs(t, err, ErrTokenRevoked)

		_, _, err = service.RefreshToken(refresh)
		assert.Error(t, err)
	})
}

func TestRevokeToken(t *testing.T) {
	service, err := createTestTokenService(15 * time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	access, _, err := service.GenerateOperatorTokens(3)
	require.NoError(t, err)

	claims, err := service.ValidateOperatorToken(access)
	require.NoError(t, err)
	assert.False(t, service.IsTokenRevoked(ctx, claims.TokenID))

	require.NoError(t, service.RevokeToken(ctx, access))
	assert.True(t, service.IsTokenRevoked(ctx, claims.TokenID))

	_, err = service.ValidateOperatorToken(access)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.Error(t, service.RevokeToken(ctx, "garbage"))
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service, err := createTestTokenService(15 * time.Minute)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], _, errs[i] = service.GenerateOperatorTokens(uint(i + 1))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[tokens[i]], "token generated twice")
		seen[tokens[i]] = true
	}
}
