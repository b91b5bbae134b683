// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/modules/account"
	"ridehail/internal/modules/dispatch"
	"ridehail/internal/modules/ride"
	"ridehail/internal/modules/waitreg"
	"ridehail/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// isValidID ensures IDs are alphanumeric and at most 32 chars (matches the ID generator).
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeDomainError maps module errors to HTTP status codes.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ride.ErrValidation), errors.Is(err, account.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ride.ErrNotFound), errors.Is(err, account.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, dispatch.ErrAlreadyTaken),
		errors.Is(err, ride.ErrStaleState),
		errors.Is(err, ride.ErrInvalidTransition),
		errors.Is(err, waitreg.ErrConflictingWait),
		errors.Is(err, waitreg.ErrSuperseded),
		errors.Is(err, account.ErrAlreadyExists):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// writePollResult answers a finished long-poll: 200 with the ride, 204 on
// timeout. Nothing is written once the client has gone away.
func writePollResult(c *gin.Context, r *ride.Ride, delivered bool, err error) {
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, waitreg.ErrCancelled)):
		c.Abort()
	case err != nil:
		writeDomainError(c, err)
	case !delivered:
		c.Status(http.StatusNoContent)
	default:
		writeJSON(c, http.StatusOK, r)
	}
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func callerRole(c *gin.Context) types.Role {
	return types.Role(middleware.CallerRole(c))
}
