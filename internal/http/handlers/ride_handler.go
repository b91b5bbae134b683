// README: Ride handlers for create/accept/get/complete/cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/modules/dispatch"
	"ridehail/internal/types"
)

type RideHandler struct {
	engine *dispatch.Engine
}

func NewRideHandler(engine *dispatch.Engine) *RideHandler {
	return &RideHandler{engine: engine}
}

type createRideReq struct {
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.engine.CreateRide(c.Request.Context(), dispatch.CreateCommand{
		RiderID:     callerID(c),
		Pickup:      req.Pickup,
		Destination: req.Destination,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Accept(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	r, err := h.engine.AcceptRide(c.Request.Context(), dispatch.AcceptCommand{RideID: id, DriverID: callerID(c)})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	r, err := h.engine.GetRide(c.Request.Context(), types.ID(id), callerID(c), callerRole(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Complete(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	r, err := h.engine.CompleteRide(c.Request.Context(), dispatch.CompleteCommand{RideID: id, DriverID: callerID(c)})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	var req cancelRideReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	r, err := h.engine.CancelRide(c.Request.Context(), dispatch.CancelCommand{
		RideID:  id,
		ActorID: callerID(c),
		Role:    callerRole(c),
		Reason:  req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func rideIDParam(c *gin.Context) (types.ID, bool) {
	id := c.Query("rideId")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "missing or invalid rideId")
		return "", false
	}
	return types.ID(id), true
}
