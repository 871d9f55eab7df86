package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleReviewer is the role claim a decision token must carry
const RoleReviewer = "reviewer"

const minSecretBytes = 32

// JWTConfig configures signed reviewer tokens
type JWTConfig struct {
	Secret   string        `json:"secret"`
	Issuer   string        `json:"issuer"`
	Audience string        `json:"audience"`
	TTL      time.Duration `json:"ttl"`
}

// ReviewerClaims are the claims of a reviewer token
type ReviewerClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator issues and verifies HS256 reviewer tokens
type JWTAuthenticator struct {
	secret []byte
	config JWTConfig
	now    func() time.Time
}

// NewJWTAuthenticator creates a token authenticator. The secret must be at
// least 32 bytes.
func NewJWTAuthenticator(config JWTConfig) (*JWTAuthenticator, error) {
	if len(config.Secret) < minSecretBytes {
		return nil, fmt.Errorf("reviewer token secret must be at least %d bytes", minSecretBytes)
	}
	if config.TTL <= 0 {
		config.TTL = 8 * time.Hour
	}
	return &JWTAuthenticator{
		secret: []byte(config.Secret),
		config: config,
		now:    time.Now,
	}, nil
}

// Issue signs a token naming reviewer as its subject
func (a *JWTAuthenticator) Issue(reviewer string) (string, time.Time, error) {
	if reviewer == "" {
		return "", time.Time{}, errors.New("reviewer is required")
	}

	now := a.now()
	expiresAt := now.Add(a.config.TTL)
	claims := ReviewerClaims{
		Role: RoleReviewer,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   reviewer,
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if a.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign reviewer token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate verifies signature, expiry, issuer, audience and role, and
// returns the token subject
func (a *JWTAuthenticator) Authenticate(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.config.Audience))
	}

	claims := &ReviewerClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Role != RoleReviewer || claims.Subject == "" {
		return "", fmt.Errorf("%w: token does not grant the reviewer role", ErrInvalidCredential)
	}
	return claims.Subject, nil
}
