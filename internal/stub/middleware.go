package stub

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/auth"
	"github.com/vovakirdan/chatprobe/internal/proto"
)

// ContextKeyUserID is the gin context key for the caller's user id.
const ContextKeyUserID = "user_id"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Authenticator resolves a Token credential to a user id. With a secret the
// token must be a valid HS256 JWT; without one any non-empty token passes
// and the id is read from it when it happens to be a JWT.
type Authenticator struct {
	jwt *auth.JWTConfig
}

// NewAuthenticator returns an authenticator; cfg may be nil.
func NewAuthenticator(cfg *auth.JWTConfig) *Authenticator {
	return &Authenticator{jwt: cfg}
}

// Authenticate returns the user id carried by token, 0 if it is opaque.
func (a *Authenticator) Authenticate(token string) (int64, error) {
	if token == "" {
		return 0, auth.ErrEmptyToken
	}
	if a.jwt != nil && len(a.jwt.Secret) > 0 {
		info, err := auth.ValidateToken(a.jwt, token)
		if err != nil {
			return 0, err
		}
		return info.UserID, nil
	}
	info, err := auth.Inspect(token)
	if err != nil {
		return 0, nil
	}
	return info.UserID, nil
}

// TokenMiddleware rejects requests without an acceptable Token header.
func TokenMiddleware(a *Authenticator, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(proto.TokenHeader)
		if token == "" {
			logger.Debug().Msg("missing token header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing token header"})
			return
		}

		userID, err := a.Authenticate(token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
