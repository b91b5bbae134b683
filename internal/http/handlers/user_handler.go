// README: Rider handlers: account endpoints and the accepted-ride long-poll.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/infra"
	"ridehail/internal/modules/account"
	"ridehail/internal/modules/dispatch"
	"ridehail/internal/types"
)

type UserHandler struct {
	accountHandler
	engine *dispatch.Engine
}

func NewUserHandler(accounts *account.Service, verifier infra.TokenVerifier, engine *dispatch.Engine) *UserHandler {
	return &UserHandler{
		accountHandler: accountHandler{role: types.RoleUser, accounts: accounts, verifier: verifier},
		engine:         engine,
	}
}

func (h *UserHandler) Profile(c *gin.Context) {
	a, ok := h.profile(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, a)
}

// AcceptedRide parks the request until one of the caller's rides is accepted
// or cancelled while pending, or the poll window closes. With ?rideId= only
// that ride ends the wait.
func (h *UserHandler) AcceptedRide(c *gin.Context) {
	rideID := c.Query("rideId")
	if rideID != "" && !isValidID(rideID) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	r, delivered, err := h.engine.WaitForAcceptedRide(c.Request.Context(), callerID(c), types.ID(rideID))
	writePollResult(c, r, delivered, err)
}
