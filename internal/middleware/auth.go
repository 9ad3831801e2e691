package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/service/audit"
	"github.com/santetogo/records-api/pkg/auth"
	apperrors "github.com/santetogo/records-api/pkg/errors"
)

const ContextActor = "actor"

// TokenValidator turns a bearer token into the request actor.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Actor, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the JWT and attaches the actor, the client IP and the
// request id to the request context. Services read the actor from there.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.Unauthorized(nil))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, apperrors.Unauthorized(nil))
			return
		}

		actor, err := m.tokens.ValidateToken(c.Request.Context(), parts[1])
		if err != nil {
			abortWithError(c, err)
			return
		}

		ctx := auth.WithActor(c.Request.Context(), actor)
		ctx = audit.WithRequestMeta(ctx, audit.RequestMeta{
			IPAddress: c.ClientIP(),
			RequestID: c.GetString(ContextRequestID),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextActor, actor)
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			abortWithError(c, apperrors.Unauthorized(nil))
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		abortWithError(c, apperrors.NewForbidden("permission denied"))
	}
}

// ActorFrom returns the authenticated actor for the request.
func ActorFrom(c *gin.Context) (auth.Actor, bool) {
	return auth.ActorFromContext(c.Request.Context())
}
