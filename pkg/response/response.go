package response

import (
	"errors"
	"net/http"

	appErr "arcade-service/pkg/errors"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code   int         `json:"code"`
	Data   interface{} `json:"data"`
	Msg    string      `json:"msg"`
	Reason string      `json:"reason,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data, "")
}

func SuccessWithMsg(c *gin.Context, data interface{}, msg string) {
	JSON(c, http.StatusOK, data, msg)
}

func Error(c *gin.Context, status int, msg string) {
	JSON(c, status, gin.H{}, msg)
}

// FromError renders err with the status its sentinel maps to.
func FromError(c *gin.Context, err error) {
	status := StatusOf(err)
	c.JSON(status, Body{
		Code:   status,
		Data:   gin.H{},
		Msg:    err.Error(),
		Reason: appErr.Code(err),
	})
}

func StatusOf(err error) int {
	switch {
	case errors.Is(err, appErr.ErrInsufficientFunds),
		errors.Is(err, appErr.ErrInvalidSelection),
		errors.Is(err, appErr.ErrRevisionRejected),
		errors.Is(err, appErr.ErrUnknownVariant):
		return http.StatusBadRequest
	case errors.Is(err, appErr.ErrAuthenticationRequired),
		errors.Is(err, appErr.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, appErr.ErrPlayerBanned):
		return http.StatusForbidden
	case errors.Is(err, appErr.ErrTableNotFound),
		errors.Is(err, appErr.ErrRoundNotFound),
		errors.Is(err, appErr.ErrMatchNotFound),
		errors.Is(err, appErr.ErrPlayerNotFound),
		errors.Is(err, appErr.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErr.ErrRoundClosed),
		errors.Is(err, appErr.ErrMatchPending),
		errors.Is(err, appErr.ErrMatchNotActive),
		errors.Is(err, appErr.ErrUsernameTaken),
		errors.Is(err, appErr.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, appErr.ErrMatchExpired):
		return http.StatusGone
	case errors.Is(err, appErr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, appErr.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func JSON(c *gin.Context, status int, data interface{}, msg string) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, Body{
		Code: status,
		Data: data,
		Msg:  msg,
	})
}
