package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sprout-budget-go/internal/identity"
)

// ContextUserKey is the Gin context key the authenticated user is
// stored under.
const ContextUserKey = "authUser"

// ErrorResponse is a local definition for sending standardized error
// messages. It mirrors the one in internal/api/dto_models.go to avoid
// import cycles.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AuthMiddleware provides Gin middleware for bearer token
// authentication against an identity.Provider.
type AuthMiddleware struct {
	provider identity.Provider
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance. It panics
// on a nil provider, as routes protected by it cannot function
// without one.
func NewAuthMiddleware(provider identity.Provider, logger *zap.Logger) *AuthMiddleware {
	if provider == nil {
		panic("identity provider is not initialized for AuthMiddleware")
	}
	return &AuthMiddleware{provider: provider, logger: logger}
}

// VerifyToken verifies the bearer token from the Authorization header
// and, when valid, stores the resolved identity.User in the Gin
// context for downstream handlers.
func (m *AuthMiddleware) VerifyToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header is required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization header format must be 'Bearer {token}'"})
			return
		}

		user, err := m.provider.Verify(c.Request.Context(), parts[1])
		if err != nil {
			// Generic message to the client; the specific cause is
			// logged server-side.
			m.logger.Debug("token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid or expired authentication token"})
			return
		}

		c.Set(ContextUserKey, *user)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user placed by
// VerifyToken. The boolean is false on unauthenticated routes.
func UserFromContext(c *gin.Context) (identity.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return identity.User{}, false
	}
	user, ok := v.(identity.User)
	return user, ok
}
