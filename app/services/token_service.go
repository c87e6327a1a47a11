// Package services provides external service integrations and technical concerns like messaging, media and tokens
package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/amirphl/event-rsvp-engine/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenService issues and validates operator JWTs
type TokenService interface {
	GenerateOperatorTokens(operatorID uint) (accessToken, refreshToken string, err error)
	ValidateOperatorToken(token string) (*OperatorTokenClaims, error)
	RefreshToken(refreshToken string) (newAccessToken, newRefreshToken string, err error)
	RevokeToken(ctx context.Context, token string) error
	IsTokenRevoked(ctx context.Context, tokenID string) bool
}

// OperatorTokenClaims represents the claims of an operator JWT
type OperatorTokenClaims struct {
	OperatorID uint      `json:"operator_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TokenType  string    `json:"token_type"` // "access" or "refresh"
	TokenID    string    `json:"jti"`
}

type operatorJWTClaims struct {
	OperatorID uint   `json:"operator_id"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	signingMethod   jwt.SigningMethod
	privateKey      *rsa.PrivateKey
	publicKey       *rsa.PublicKey
	secretKey       []byte
	useRSAKeys      bool
	issuer          string
	audience        string

	// Revoked token IDs live in redis when available, otherwise in memory
	rc          *redis.Client
	redisPrefix string
	mu          sync.RWMutex
	revoked     map[string]time.Time
}

// NewTokenService creates a new token service
func NewTokenService(accessTokenTTL, refreshTokenTTL time.Duration, issuer, audience string, useRSAKeys bool, privateKeyPEM, publicKeyPEM, secretKey string, rc *redis.Client, redisPrefix string) (TokenService, error) {
	var privateKey *rsa.PrivateKey
	var publicKey *rsa.PublicKey
	var secretKeyBytes []byte
	var signingMethod jwt.SigningMethod

	if useRSAKeys {
		var err error
		privateKey, publicKey, err = parseRSAKeys(privateKeyPEM, publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA keys: %w", err)
		}
		signingMethod = jwt.SigningMethodRS256
	} else {
		if secretKey == "" {
			return nil, fmt.Errorf("secret key is required when not using RSA keys")
		}
		secretKeyBytes = []byte(secretKey)
		signingMethod = jwt.SigningMethodHS256
	}

	return &TokenServiceImpl{
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		signingMethod:   signingMethod,
		privateKey:      privateKey,
		publicKey:       publicKey,
		secretKey:       secretKeyBytes,
		useRSAKeys:      useRSAKeys,
		issuer:          issuer,
		audience:        audience,
		rc:              rc,
		redisPrefix:     redisPrefix,
		revoked:         make(map[string]time.Time),
	}, nil
}

// parseRSAKeys parses RSA private and public keys from PEM format
func parseRSAKeys(privateKeyPEM, publicKeyPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, nil, fmt.Errorf("both private and public keys are required")
	}

	privateKeyBlock, _ := pem.Decode([]byte(privateKeyPEM))
	if privateKeyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode private key")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(privateKeyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeyBlock, _ := pem.Decode([]byte(publicKeyPEM))
	if publicKeyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(publicKeyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("public key is not RSA")
	}

	return privateKey, rsaPublicKey, nil
}

// GenerateOperatorTokens generates access and refresh tokens for an operator
func (s *TokenServiceImpl) GenerateOperatorTokens(operatorID uint) (accessToken, refreshToken string, err error) {
	now := utils.UTCNow()

	accessToken, err = s.issue(operatorID, tokenTypeAccess, now, s.accessTokenTTL)
	if err != nil {
		return "", "", err
	}

	refreshToken, err = s.issue(operatorID, tokenTypeRefresh, now, s.refreshTokenTTL)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (s *TokenServiceImpl) issue(operatorID uint, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	tokenID, err := generateTokenID()
	if err != nil {
		return "", err
	}

	claims := operatorJWTClaims{
		OperatorID: operatorID,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   strconv.FormatUint(uint64(operatorID), 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return s.generateToken(claims)
}

// ValidateOperatorToken validates an operator JWT and returns its claims
func (s *TokenServiceImpl) ValidateOperatorToken(token string) (*OperatorTokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	if s.IsTokenRevoked(context.Background(), claims.TokenID) {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

func (s *TokenServiceImpl) parse(token string) (*OperatorTokenClaims, error) {
	var claims operatorJWTClaims
	parsedToken, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if s.useRSAKeys {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.publicKey, nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsedToken.Valid || claims.OperatorID == 0 || claims.ID == "" {
		return nil, ErrTokenInvalid
	}

	return &OperatorTokenClaims{
		OperatorID: claims.OperatorID,
		TokenType:  claims.TokenType,
		TokenID:    claims.ID,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// RefreshToken generates new tokens using a refresh token and revokes the old one
func (s *TokenServiceImpl) RefreshToken(refreshToken string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.ValidateOperatorToken(refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("invalid refresh token: %w", err)
	}

	if claims.TokenType != tokenTypeRefresh {
		return "", "", fmt.Errorf("token is not a refresh token")
	}

	if err := s.RevokeToken(context.Background(), refreshToken); err != nil {
		return "", "", err
	}

	return s.GenerateOperatorTokens(claims.OperatorID)
}

// RevokeToken adds the token's ID to the revocation list until it expires
func (s *TokenServiceImpl) RevokeToken(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	ttl := time.Until(claims.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	if s.rc != nil {
		if err := s.rc.Set(ctx, s.revokedKey(claims.TokenID), "1", ttl).Err(); err != nil {
			return fmt.Errorf("failed to store revoked token: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[claims.TokenID] = claims.ExpiresAt
	return nil
}

// IsTokenRevoked checks the revocation list for the token ID
func (s *TokenServiceImpl) IsTokenRevoked(ctx context.Context, tokenID string) bool {
	if s.rc != nil {
		n, err := s.rc.Exists(ctx, s.revokedKey(tokenID)).Result()
		return err == nil && n > 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.revoked[tokenID]
	return ok && utils.UTCNow().Before(exp)
}

func (s *TokenServiceImpl) revokedKey(tokenID string) string {
	return s.redisPrefix + "revoked_token:" + tokenID
}

// generateToken creates a signed JWT token
func (s *TokenServiceImpl) generateToken(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(s.signingMethod, claims)

	if s.useRSAKeys {
		return token.SignedString(s.privateKey)
	}
	return token.SignedString(s.secretKey)
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
