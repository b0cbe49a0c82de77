package auth_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/zure/internal/auth"
	"github.com/ashita-ai/zure/internal/model"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("support-agent", model.RoleReader)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "support-agent", claims.AgentID)
	assert.Equal(t, model.RoleReader, claims.Role)
	assert.Equal(t, "zure", claims.Issuer)
	assert.Equal(t, "support-agent", claims.Subject)
}

func TestJWTEphemeralSecret(t *testing.T) {
	// An empty secret still yields a working manager; tokens from one manager
	// must not validate against another (independent random secrets).
	a, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)
	b, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)

	token, _, err := a.IssueToken("agent", model.RoleIngest)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent",
			Issuer:    "zure",
			Audience:  jwt.ClaimStrings{"zure"},
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			ID:        uuid.New().String(),
		},
		AgentID: "agent",
		Role:    model.RoleReader,
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent",
			Issuer:    "not-zure",
			Audience:  jwt.ClaimStrings{"zure"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		AgentID: "agent",
		Role:    model.RoleReader,
	})

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_WrongSigningMethod(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	// alg=none tokens must never validate.
	now := time.Now().UTC()
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent",
			Issuer:    "zure",
			Audience:  jwt.ClaimStrings{"zure"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		AgentID: "agent",
		Role:    model.RoleAdmin,
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_UnknownRole(t *testing.T) {
	mgr, err := auth.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "test-secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "agent",
			Issuer:    "zure",
			Audience:  jwt.ClaimStrings{"zure"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		AgentID: "agent",
		Role:    model.Role("superuser"),
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

// forgeToken signs arbitrary claims with the given HMAC secret.
func forgeToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseKeyring(t *testing.T) {
	hashA, err := auth.HashAPIKey("key-a")
	require.NoError(t, err)
	hashB, err := auth.HashAPIKey("key-b")
	require.NoError(t, err)

	t.Run("empty spec", func(t *testing.T) {
		kr, err := auth.ParseKeyring("")
		require.NoError(t, err)
		assert.True(t, kr.Empty())
	})

	t.Run("valid entries", func(t *testing.T) {
		spec := fmt.Sprintf("support-agent:%s:ingest, billing-agent:%s:admin", hashA, hashB)
		kr, err := auth.ParseKeyring(spec)
		require.NoError(t, err)
		assert.False(t, kr.Empty())

		role, ok := kr.Verify("support-agent", "key-a")
		require.True(t, ok)
		assert.Equal(t, model.RoleIngest, role)

		role, ok = kr.Verify("billing-agent", "key-b")
		require.True(t, ok)
		assert.Equal(t, model.RoleAdmin, role)
	})

	t.Run("malformed entry", func(t *testing.T) {
		_, err := auth.ParseKeyring("support-agent:" + hashA)
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := auth.ParseKeyring("support-agent:" + hashA + ":root")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown role")
	})
}

func TestKeyringVerify(t *testing.T) {
	hash, err := auth.HashAPIKey("real-key")
	require.NoError(t, err)

	kr, err := auth.ParseKeyring("support-agent:" + hash + ":reader")
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, ok := kr.Verify("support-agent", "wrong-key")
		assert.False(t, ok)
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, ok := kr.Verify("ghost-agent", "real-key")
		assert.False(t, ok)
	})

	t.Run("rotation keeps both keys live", func(t *testing.T) {
		newHash, err := auth.HashAPIKey("rotated-key")
		require.NoError(t, err)
		spec := fmt.Sprintf("support-agent:%s:reader,support-agent:%s:reader", hash, newHash)
		kr, err := auth.ParseKeyring(spec)
		require.NoError(t, err)

		_, ok := kr.Verify("support-agent", "real-key")
		assert.True(t, ok)
		_, ok = kr.Verify("support-agent", "rotated-key")
		assert.True(t, ok)
	})
}
