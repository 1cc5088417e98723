package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/access"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
)

const actorKey = "auth.actor"

// UserLookup loads the current state of a staff account. A missing account
// is reported as repository.ErrNotFound.
type UserLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Middleware validates the Bearer token and reloads the user so that role
// and status changes take effect before the token expires.
func Middleware(tokens *TokenManager, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}
		claims, err := tokens.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		user, err := users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			slog.Error("reload authenticated user", "user_id", claims.UserID, "error", fmt.Sprintf("%+v", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if err != nil || !user.IsActive() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account not found or inactive"})
			return
		}
		c.Set(actorKey, access.ActorFromUser(user))
		c.Next()
	}
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	}
}

// ActorFrom returns the authenticated actor set by Middleware.
func ActorFrom(c *gin.Context) (access.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return access.Actor{}, false
	}
	actor, ok := v.(access.Actor)
	return actor, ok
}
