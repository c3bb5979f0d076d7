package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"contract-service/internal/domain"
	"contract-service/internal/repository"
	"contract-service/internal/response"

	"go.uber.org/zap"
)

type contextKey string

const ContextIdentity contextKey = "identity"

// WithIdentity stores the caller's identity on ctx.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ContextIdentity, id)
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ContextIdentity).(domain.Identity)
	return id, ok && !id.IsZero()
}

type AuthMiddleware struct {
	verifier    *Verifier
	identities  repository.IdentityRepository
	cache       *repository.Cache
	identityTTL time.Duration
	logger      *zap.Logger
}

func NewAuthMiddleware(
	verifier *Verifier,
	identities repository.IdentityRepository,
	cache *repository.Cache,
	identityTTL time.Duration,
	logger *zap.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:    verifier,
		identities:  identities,
		cache:       cache,
		identityTTL: identityTTL,
		logger:      logger,
	}
}

// extractToken checks the Authorization header, then the token cookie, then ?token=
// (browsers cannot set headers on websocket upgrades).
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// Authenticate resolves the bearer token into a domain.Identity and mirrors it locally.
func (am *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "No token provided", nil)
			return
		}
		claims, err := am.verifier.ParseAndValidate(token)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "Invalid or expired token", nil)
			return
		}
		id := claims.Identity()
		am.mirror(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// mirror upserts the identity at most once per TTL. Failures never block the request.
func (am *AuthMiddleware) mirror(ctx context.Context, id domain.Identity) {
	if am.identities == nil {
		return
	}
	fresh, err := am.cache.MarkIdentitySeen(ctx, id, am.identityTTL)
	if err != nil {
		am.logger.Debug("identity cache unavailable", zap.Error(err))
	}
	if !fresh {
		return
	}
	if err := am.identities.Upsert(ctx, id); err != nil {
		am.logger.Warn("failed to mirror identity", zap.String("external_id", id.ExternalID), zap.Error(err))
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "authentication required", nil)
			return
		}
		if !id.IsAdmin() {
			response.Error(w, http.StatusForbidden, response.CodeForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireVerified refuses identities the provider has not verified.
func RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "authentication required", nil)
			return
		}
		if !id.Verified {
			response.Error(w, http.StatusForbidden, response.CodeForbidden, "account verification required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
