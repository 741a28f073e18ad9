package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/rag-gateway/models"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrNoSecret is returned when the validator has no signing key
	ErrNoSecret = errors.New("jwt secret not configured")
)

// Claims represents the custom claims in the JWT token
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string `json:"tenant_id"`
	MemberType string `json:"member_type,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
}

// Principal is the verified caller
type Principal struct {
	Subject   string
	TenantID  uuid.UUID
	Viewer    models.Viewer
	ExpiresAt time.Time
}

// Validator verifies HS256 tokens against a shared secret
type Validator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewValidator creates a validator. An empty issuer skips the iss check.
func NewValidator(secret, issuer string) *Validator {
	return &Validator{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// ValidateToken validates a JWT token and returns the principal it names
func (v *Validator) ValidateToken(_ context.Context, tokenString string) (*Principal, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, ErrInvalidIssuer
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return parseClaims(claims)
}

// parseClaims converts Claims to a Principal with proper type conversions
func parseClaims(claims *Claims) (*Principal, error) {
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant_id UUID: %w", err)
	}

	p := &Principal{
		Subject:  claims.Subject,
		TenantID: tenantID,
		Viewer:   models.Viewer{MemberType: models.MemberType(claims.MemberType)},
	}

	// member_id is optional; without it private documents stay hidden
	if claims.MemberID != "" {
		memberID, err := uuid.Parse(claims.MemberID)
		if err != nil {
			return nil, fmt.Errorf("invalid member_id UUID: %w", err)
		}
		p.Viewer.MemberID = &memberID
	}

	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Sign mints an HS256 token for claims
func Sign(secret string, claims *Claims) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
