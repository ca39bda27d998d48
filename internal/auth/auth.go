package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/FlyingWhaleisME/where-to-next-sub000/internal/store"
)

// ErrUnauthenticated is returned for every authentication failure: missing,
// malformed, or expired tokens, and tokens referencing unknown users.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved identity of an authenticated connection.
type Identity struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// Claims are the JWT claims carried by a bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and resolves them to user identities.
type Verifier struct {
	secret []byte
	users  store.DataStore
}

// NewVerifier creates a Verifier backed by the given user store.
func NewVerifier(secret string, users store.DataStore) *Verifier {
	return &Verifier{secret: []byte(secret), users: users}
}

// Verify validates a bearer token and looks up the referenced user.
// All failures wrap ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	// Fall back to the registered subject when user_id is absent.
	rawID := claims.UserID
	if rawID == "" {
		rawID = claims.Subject
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id", ErrUnauthenticated)
	}

	user, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}

	return &Identity{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

// MintToken signs a bearer token for a user id. Used by dev tooling and
// tests; the production issuer lives outside this service.
func MintToken(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
