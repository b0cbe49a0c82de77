// Package auth provides JWT-based authentication for the HTTP API.
//
// Tokens are HS256-signed with a shared secret from configuration. Clients
// exchange an agent id and API key for a token; API keys are configured via
// the environment as Argon2id hashes, never stored in plaintext.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ashita-ai/zure/internal/model"
)

const issuer = "zure"

// Claims extends jwt.RegisteredClaims with the agent identity and role.
type Claims struct {
	jwt.RegisteredClaims
	AgentID string     `json:"agent_id"`
	Role    model.Role `json:"role"`
}

// JWTManager signs and validates API tokens.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWTManager. An empty secret generates an ephemeral
// one, which invalidates all tokens on restart; fine for development, not
// for production.
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if secret == "" {
		slog.Warn("auth: no JWT secret configured, generating an ephemeral one (not for production)")
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("auth: generate ephemeral secret: %w", err)
		}
		secret = base64.StdEncoding.EncodeToString(raw)
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration}, nil
}

// IssueToken creates a signed JWT for the given agent identity.
func (m *JWTManager) IssueToken(agentID string, role model.Role) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		AgentID: agentID,
		Role:    role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(issuer),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("auth: unknown role %q", claims.Role)
	}

	return claims, nil
}

// APIKey is one configured credential.
type APIKey struct {
	AgentID string
	Hash    string
	Role    model.Role
}

// Keyring holds the configured API keys, indexed by agent id. One agent may
// hold several keys (rotation).
type Keyring struct {
	keys map[string][]APIKey
}

// ParseKeyring parses the ZURE_API_KEYS format: comma-separated
// "agent_id:argon2id-hash:role" entries. Hashes contain no ':' or ',' by
// construction (base64 salt and digest joined by '$').
func ParseKeyring(spec string) (*Keyring, error) {
	kr := &Keyring{keys: map[string][]APIKey{}}
	if strings.TrimSpace(spec) == "" {
		return kr, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("auth: malformed API key entry (want agent_id:hash:role)")
		}
		role := model.Role(parts[2])
		if !role.Valid() {
			return nil, fmt.Errorf("auth: unknown role %q for agent %q", parts[2], parts[0])
		}
		kr.keys[parts[0]] = append(kr.keys[parts[0]], APIKey{
			AgentID: parts[0],
			Hash:    parts[1],
			Role:    role,
		})
	}
	return kr, nil
}

// Empty reports whether no keys are configured.
func (k *Keyring) Empty() bool {
	return len(k.keys) == 0
}

// Verify checks an (agent_id, api_key) pair against the keyring and returns
// the matched role. A failed lookup still performs one hash computation so
// response timing does not reveal whether the agent id exists.
func (k *Keyring) Verify(agentID, apiKey string) (model.Role, bool) {
	keys := k.keys[agentID]
	if len(keys) == 0 {
		DummyVerify()
		return "", false
	}
	for _, key := range keys {
		if ok, err := VerifyAPIKey(apiKey, key.Hash); err == nil && ok {
			return key.Role, true
		}
	}
	return "", false
}
