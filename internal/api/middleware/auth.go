package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/reelcut/backend/internal/modules/entitlement"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// User represents an authenticated account
type User struct {
	ID    string
	Email string
	Role  string
	Tier  entitlement.Tier
}

// TierLookup resolves an account's tier from storage (e.g. user_profiles)
type TierLookup interface {
	GetTier(ctx context.Context, accountID string) entitlement.Tier
}

// supabaseClaims are the claims of a Supabase access token. Admin roles are
// set server-side in app_metadata.
type supabaseClaims struct {
	Email       string `json:"email"`
	Role        string `json:"role"`
	AppMetadata struct {
		Role string `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies Supabase HS256 access tokens
type AuthMiddleware struct {
	secret     []byte
	tierLookup TierLookup
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new auth middleware instance
func NewAuthMiddleware(secret string, tierLookup TierLookup, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		secret:     []byte(secret),
		tierLookup: tierLookup,
		logger:     logger,
	}
}

// Handler rejects requests without a valid bearer token and stores the
// account in the request context
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.secret) == 0 {
			http.Error(w, "authentication not configured", http.StatusServiceUnavailable)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := m.parse(strings.TrimSpace(tokenString))
		if err != nil {
			m.logger.Debug("Rejected access token", zap.Error(err))
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		user := &User{
			ID:    claims.Subject,
			Email: claims.Email,
			Role:  claims.Role,
			Tier:  entitlement.TierFree,
		}
		if claims.AppMetadata.Role != "" {
			user.Role = claims.AppMetadata.Role
		}
		if m.tierLookup != nil {
			user.Tier = m.tierLookup.GetTier(r.Context(), user.ID)
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *AuthMiddleware) parse(tokenString string) (*supabaseClaims, error) {
	claims := &supabaseClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// RequireRole returns middleware that only admits accounts with the given role
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if user.Role != role {
				http.Error(w, "access denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUser retrieves the user from context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// WithUser stores a user in ctx
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
