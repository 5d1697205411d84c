package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/verdant-game/verdant/pkg/auth"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/repositories/models"
)

type ContextKey int

const (
	// PlayerContextKey is the key used to store the authenticated player
	// in the request context
	PlayerContextKey ContextKey = iota
)

// PlayerFromContext returns the authenticated player stored by the auth
// middleware.
func PlayerFromContext(ctx context.Context) (*models.Player, bool) {
	player, ok := ctx.Value(PlayerContextKey).(*models.Player)
	return player, ok
}

func NewAuthMiddleware(tokens auth.TokenService, repository repositories.Repository) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearerToken, err := parseBearerToken(r)
			if err != nil {
				log.Debug("failed to parse bearer token: %v", err)
				http.Error(w, "failed to parse bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.VerifyToken(r.Context(), bearerToken)
			if err != nil {
				log.Debug("failed to verify token: %v", err)
				http.Error(w, "failed to verify token", http.StatusUnauthorized)
				return
			}

			player, err := repository.GetPlayer(r.Context(), claims.PlayerID)
			if err != nil {
				if repositories.IsNotFound(err) {
					http.Error(w, "player no longer exists", http.StatusUnauthorized)
					return
				}
				log.Error("failed to load player %d: %v", claims.PlayerID, err)
				http.Error(w, "failed to load player", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), PlayerContextKey, player)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseBearerToken parses the bearer token from the Authorization header
func parseBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	return parts[1], nil
}
