package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"custodia/internal/domain"
	"custodia/internal/token"
)

// TokenValidator defines the interface for validating access tokens.
type TokenValidator interface {
	ValidateToken(tokenString string) (*token.Claims, error)
}

// Context keys for storing authenticated caller information.
type contextKeyActor struct{}
type contextKeyAccount struct{}

var (
	ContextKeyActor   = contextKeyActor{}
	ContextKeyAccount = contextKeyAccount{}
)

// GetActor retrieves the authenticated actor from the context.
// Requests without a token run as anonymous.
func GetActor(ctx context.Context) domain.Actor {
	actor, ok := ctx.Value(ContextKeyActor).(domain.Actor)
	if !ok {
		return domain.ActorAnonymous
	}
	return actor
}

// GetAccount retrieves the authenticated origin account from the context.
func GetAccount(ctx context.Context) domain.Account {
	account, ok := ctx.Value(ContextKeyAccount).(domain.Account)
	if !ok {
		return domain.ZeroAccount
	}
	return account
}

// Identity resolves the Authorization header into an actor and origin
// account. A missing header runs the request as anonymous; a present
// but invalid token is rejected so a caller cannot silently lose its
// capabilities to an expired credential.
func Identity(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			if after, ok := strings.CutPrefix(authHeader, bearerPrefix); ok {
				claims, err := validator.ValidateToken(after)
				if err != nil {
					ctx := r.Context()
					logger.WarnContext(ctx, "unauthorized access - invalid token", "error", err)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					if _, err := w.Write([]byte(`{"error":"unauthorized","error_description":"Invalid or expired token"}`)); err != nil {
						logger.ErrorContext(ctx, "failed to write unauthorized response", "error", err)
					}
					return
				}

				ctx := r.Context()
				ctx = context.WithValue(ctx, ContextKeyActor, domain.ParseActor(claims.Role))
				ctx = context.WithValue(ctx, ContextKeyAccount, domain.Account(claims.Account))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
