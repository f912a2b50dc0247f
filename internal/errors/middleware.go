package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Err writes the single error response for a request.
func Err(c *gin.Context, err error) {
	var appErr *Error
	if !As(err, &appErr) {
		appErr = New(KindInternal, err, http.StatusInternalServerError, "internal error")
	}
	code := appErr.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		log.Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("request rejected")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(code, gin.H{
		"success": false,
		"error":   appErr.Kind,
		"message": appErr.Error(),
	})
}

// ErrorHandlerMiddleware answers for handlers that recorded errors with
// c.Error but did not write a response.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		Err(c, c.Errors.Last().Err)
	}
}

func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("path", c.Request.URL.Path).
					Bytes("stack", debug.Stack()).
					Msgf("panic recovered: %v", r)
				err := New(KindInternal, fmt.Errorf("%v", r), http.StatusInternalServerError, "internal server error")
				if c.Writer.Written() {
					c.Abort()
					return
				}
				Err(c, err)
			}
		}()
		c.Next()
	}
}
