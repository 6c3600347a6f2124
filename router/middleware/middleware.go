package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/priyxstudio/kiwi/bot"
	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/scheduler"
)

// RequestError is the error body returned by every failing request.
type RequestError struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// AttachRequestID attaches a unique ID to the incoming HTTP request so that any
// errors that are generated or returned to the client will include this reference
// allowing for an easier time identifying the specific request that failed for
// the user.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Set("logger", log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AttachBot attaches the running bot to the request context.
func AttachBot(b *bot.Bot) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("bot", b)
		c.Next()
	}
}

// ExtractBot returns the bot attached to the request.
func ExtractBot(c *gin.Context) *bot.Bot {
	if v, ok := c.Get("bot"); ok {
		return v.(*bot.Bot)
	}
	panic("middleware/middleware: cannot extract bot: not present in context")
}

// ExtractLogger pulls the request logger out of the context.
func ExtractLogger(c *gin.Context) *log.Entry {
	if v, ok := c.Get("logger"); ok {
		return v.(*log.Entry)
	}
	return log.WithField("request_id", "")
}

// RequireAuthorization authenticates the request token against the admin
// token from the configuration.
func RequireAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		// We don't put this value outside this function since the node's authentication
		// token can be changed on the fly and the config.Get() call returns a copy, so
		// if it is rotated this value will never properly get updated.
		token := config.Get().Api.Token
		auth := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(auth) != 2 || auth[0] != "Bearer" {
			c.Header("WWW-Authenticate", "Bearer")
			abort(c, http.StatusUnauthorized, "The required authorization heads were not present in the request.")
			return
		}

		if token == "" || subtle.ConstantTimeCompare([]byte(auth[1]), []byte(token)) != 1 {
			abort(c, http.StatusForbidden, "You are not authorized to access this endpoint.")
			return
		}
		c.Next()
	}
}

// CaptureErrors converts errors pushed with CaptureAndAbort into a response.
// Unknown modules and inactive jobs are not found, anything else is logged
// and hidden from the client.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		err := c.Errors.Last()
		if err == nil || err.Err == nil {
			return
		}

		status := http.StatusInternalServerError
		message := "An unexpected error was encountered while processing this request."
		switch {
		case errors.Is(err.Err, modules.ErrUnknownModule):
			status, message = http.StatusNotFound, "The requested module does not exist."
		case errors.Is(err.Err, scheduler.ErrNotActive):
			status, message = http.StatusNotFound, "The requested job is not active in this guild."
		default:
			ExtractLogger(c).WithField("path", c.Request.URL.Path).WithError(err.Err).Error("unexpected error while processing request")
		}
		abort(c, status, message)
	}
}

// CaptureAndAbort aborts the request and attaches the provided error to the
// context for CaptureErrors to render.
func CaptureAndAbort(c *gin.Context, err error) {
	c.Abort()
	_ = c.Error(errors.WithStackDepthIf(err, 1))
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, RequestError{Error: message, RequestID: c.GetString("request_id")})
}
