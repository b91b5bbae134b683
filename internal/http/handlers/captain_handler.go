// README: Driver handlers: account endpoints, availability toggle and the new-ride long-poll.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/infra"
	"ridehail/internal/modules/account"
	"ridehail/internal/modules/dispatch"
	"ridehail/internal/types"
)

type CaptainHandler struct {
	accountHandler
	engine *dispatch.Engine
}

func NewCaptainHandler(accounts *account.Service, verifier infra.TokenVerifier, engine *dispatch.Engine) *CaptainHandler {
	return &CaptainHandler{
		accountHandler: accountHandler{role: types.RoleCaptain, accounts: accounts, verifier: verifier},
		engine:         engine,
	}
}

type captainProfileResp struct {
	*account.Account
	IsAvailable bool `json:"isAvailable"`
}

func (h *CaptainHandler) Profile(c *gin.Context) {
	a, ok := h.profile(c)
	if !ok {
		return
	}
	available, err := h.engine.IsAvailable(c.Request.Context(), a.ID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, captainProfileResp{Account: a, IsAvailable: available})
}

func (h *CaptainHandler) ToggleAvailability(c *gin.Context) {
	available, err := h.engine.ToggleAvailability(c.Request.Context(), callerID(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "availability status updated", "isAvailable": available})
}

// NewRide parks the request until a ride is offered to the caller or the poll
// window closes.
func (h *CaptainHandler) NewRide(c *gin.Context) {
	r, delivered, err := h.engine.WaitForRide(c.Request.Context(), callerID(c))
	writePollResult(c, r, delivered, err)
}
