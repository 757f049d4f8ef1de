package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/agentbus/internal/bus"
)

// apiError is the body of every non-2xx JSON response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{bus.ErrUnknownAgent, http.StatusNotFound, "unknown_agent"},
	{bus.ErrUnknownTask, http.StatusNotFound, "unknown_task"},
	{bus.ErrUnknownMessage, http.StatusNotFound, "unknown_message"},
	{bus.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{bus.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{bus.ErrPersistence, http.StatusInternalServerError, "persistence"},
}

// writeError maps bus sentinels to HTTP status codes.
func writeError(c *gin.Context, err error) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			abort(c, ec.status, ec.code, err.Error())
			return
		}
	}
	abort(c, http.StatusInternalServerError, "internal", err.Error())
}

func badRequest(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, "invalid_input", err.Error())
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": apiError{Code: code, Message: msg}})
}
