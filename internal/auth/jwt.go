package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"caseflow/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorKey contextKey = "actor"

// DevActorHeader names the header that stands in for a token in development
const DevActorHeader = "X-Actor-ID"

const defaultSecret = "default-secret-key-change-in-production"

var ErrUnauthenticated = errors.New("unauthenticated")

// Claims carries the actor fields a session needs
type Claims struct {
	Role          string `json:"role,omitempty"`
	DepartmentID  *int64 `json:"department_id,omitempty"`
	AlertsEnabled bool   `json:"alerts_enabled,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string
	// AllowDevHeader accepts X-Actor-ID without a token
	AllowDevHeader bool
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string, allowDevHeader bool) *JWTConfig {
	if secretKey == "" {
		secretKey = defaultSecret // Default for development
	}
	return &JWTConfig{SecretKey: secretKey, AllowDevHeader: allowDevHeader}
}

// IssueToken signs a token for actor valid for ttl
func (c *JWTConfig) IssueToken(actor model.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:          actor.Role,
		AlertsEnabled: actor.AlertsEnabled,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if actor.DepartmentID != nil {
		d := int64(*actor.DepartmentID)
		claims.DepartmentID = &d
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its actor
func (c *JWTConfig) ParseToken(tokenString string) (model.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return model.Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return model.Actor{}, errors.New("invalid token: missing subject")
	}

	actor := model.Actor{ID: claims.Subject, Role: claims.Role, AlertsEnabled: claims.AlertsEnabled}
	if claims.DepartmentID != nil {
		d := model.DepartmentID(*claims.DepartmentID)
		actor.DepartmentID = &d
	}
	return actor, nil
}

// Authenticate resolves the actor of a request from its bearer token or, in
// development, the X-Actor-ID header
func (c *JWTConfig) Authenticate(r *http.Request) (model.Actor, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if id := r.Header.Get(DevActorHeader); c.AllowDevHeader && id != "" {
			return model.Actor{ID: id, Role: "dev"}, nil
		}
		return model.Actor{}, ErrUnauthenticated
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return model.Actor{}, errors.New("invalid authorization header")
	}
	return c.ParseToken(parts[1])
}

// Middleware rejects requests without a valid actor
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := c.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintf(w, `{"error":"unauthorized","code":"unauthorized","message":%q}`, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// WithActor stores actor in ctx
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom extracts the actor from context
func ActorFrom(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}

// GetActorID extracts the actor id from context
func GetActorID(ctx context.Context) string {
	actor, _ := ActorFrom(ctx)
	return actor.ID
}
