package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "schoolhub/pkg/domain"
)

type contextKeyPrincipalID struct{}

// GetPrincipalID retrieves the authenticated principal from the context.
// Returns a nil ID when the request was not authenticated.
func GetPrincipalID(ctx context.Context) id.PrincipalID {
	principalID, ok := ctx.Value(contextKeyPrincipalID{}).(id.PrincipalID)
	if !ok {
		return id.PrincipalID{}
	}
	return principalID
}

// WithPrincipalID injects a principal into the context. Exported for tests
// and for non-HTTP entry points that establish identity out of band.
func WithPrincipalID(ctx context.Context, principalID id.PrincipalID) context.Context {
	return context.WithValue(ctx, contextKeyPrincipalID{}, principalID)
}

// RequireAuth validates the bearer token and stores the principal ID from the
// subject claim in the request context.
func RequireAuth(signingKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				unauthorized(w, r, logger, "missing or invalid Authorization header")
				return
			}

			principalID, err := principalFromToken(token, signingKey)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				unauthorized(w, r, logger, "invalid or expired token")
				return
			}

			ctx := WithPrincipalID(r.Context(), principalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFromToken(token, signingKey string) (id.PrincipalID, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		return id.PrincipalID{}, err
	}
	if !parsed.Valid {
		return id.PrincipalID{}, fmt.Errorf("token is not valid")
	}
	return id.ParsePrincipalID(claims.Subject)
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, description); err != nil {
		logger.ErrorContext(r.Context(), "failed to write unauthorized response",
			"error", err,
			"request_id", GetRequestID(r.Context()),
		)
	}
}
