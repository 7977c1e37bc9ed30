package response

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIError is the wire shape for a failed request. Code is a stable,
// machine-readable label; Message is the human-readable cause.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: errMessage(err), Code: code}})
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// StatusForError maps not-found service errors to 404, everything else to
// the fallback status.
func StatusForError(err error, fallback int) int {
	if err == nil {
		return fallback
	}
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return http.StatusNotFound
	}
	return fallback
}
