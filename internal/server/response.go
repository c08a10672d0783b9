package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DreamFate/DeepClaude/internal/data/db"
	"github.com/DreamFate/DeepClaude/internal/protocol"
)

// chatError is the error body for the /v1 surface: the message plus a coarse
// category ("parameter error" for caller mistakes, the upstream hint for
// client API errors, "other error" for the rest). Detail is null when an
// upstream error carries no hint.
type chatError struct {
	Error  string  `json:"error"`
	Detail *string `json:"detail"`
}

func newChatError(msg, detail string) chatError {
	return chatError{Error: msg, Detail: &detail}
}

// writeChatError maps a dispatch error onto the /v1 error contract:
// validation failures are 400, upstream failures re-use the upstream status,
// anything else is 500.
func writeChatError(c *gin.Context, err error) {
	var validationErr *protocol.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, newChatError(validationErr.Msg, "parameter error"))
		return
	}
	var apiErr *protocol.ClientAPIError
	if errors.As(err, &apiErr) {
		body := chatError{Error: apiErr.Err}
		if apiErr.Detail != "" {
			body.Detail = &apiErr.Detail
		}
		c.JSON(apiErr.StatusCode, body)
		return
	}
	c.JSON(http.StatusInternalServerError, newChatError(err.Error(), "other error"))
}

// adminMessage is the message body used across the admin surface.
type adminMessage struct {
	Message string `json:"message"`
}

// writeAdminError maps store errors onto admin statuses: missing records are
// 404, name and reference conflicts are 409, bad member references are 400.
func writeAdminError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrNameTaken), errors.Is(err, db.ErrInUse):
		status = http.StatusConflict
	case errors.Is(err, db.ErrInvalidRef):
		status = http.StatusBadRequest
	}
	c.JSON(status, adminMessage{Message: err.Error()})
}
