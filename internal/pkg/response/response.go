package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/cloud/internal/cloud"
)

// OK sends a 200 response wrapping data in {data: ...}.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// Raw sends a 200 response with a pre-encoded JSON body.
func Raw(c *gin.Context, body []byte) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, message)
}

// NotFoundMsg sends a 404 error with a custom message.
func NotFoundMsg(c *gin.Context, message string) {
	abort(c, http.StatusNotFound, message)
}

// Conflict sends a 409 error response.
func Conflict(c *gin.Context, message string) {
	abort(c, http.StatusConflict, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, err error) {
	abort(c, http.StatusInternalServerError, err.Error())
}

// Error maps err to a status code by its cloud error kind.
func Error(c *gin.Context, err error) {
	abort(c, StatusOf(err), err.Error())
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	switch cloud.KindOf(err) {
	case cloud.KindNotFound:
		return http.StatusNotFound
	case cloud.KindConflict:
		return http.StatusConflict
	case cloud.KindInvocation:
		return http.StatusBadGateway
	case cloud.KindDeployment, cloud.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": 0, "code": status, "message": message})
}
