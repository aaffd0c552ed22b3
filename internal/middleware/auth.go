package middleware

import (
	"errors"
	"net/http"
	"strings"

	pkgAuth "arcade-service/pkg/auth"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/response"

	"github.com/gin-gonic/gin"
)

const ContextPlayerIDKey = "playerID"

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abort(c, err)
			return
		}

		claims, err := pkgAuth.ParseUserToken(token)
		if err != nil {
			abort(c, errors.New("invalid token"))
			return
		}

		c.Set(ContextPlayerIDKey, claims.SubjectID)
		c.Next()
	}
}

// PlayerID returns the authenticated player set by AuthRequired.
func PlayerID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextPlayerIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// TokenFromQuery authenticates websocket upgrades, which cannot carry
// headers from browsers.
func TokenFromQuery(c *gin.Context) (int64, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if bearer, err := extractBearerToken(c.GetHeader("Authorization")); err == nil {
			token = bearer
		}
	}
	if token == "" {
		return 0, appErr.ErrAuthenticationRequired
	}
	claims, err := pkgAuth.ParseUserToken(token)
	if err != nil {
		return 0, appErr.ErrAuthenticationRequired
	}
	return claims.SubjectID, nil
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.Body{
		Code:   http.StatusUnauthorized,
		Data:   gin.H{},
		Msg:    err.Error(),
		Reason: appErr.Code(appErr.ErrAuthenticationRequired),
	})
}

func extractBearerToken(authHeader string) (string, error) {
	if strings.TrimSpace(authHeader) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
