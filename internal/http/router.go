// README: HTTP router registration for the rider, driver and ride services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/handlers"
	"ridehail/internal/http/middleware"
	"ridehail/internal/infra"
	"ridehail/internal/logger"
	"ridehail/internal/metrics"
	"ridehail/internal/modules/account"
	"ridehail/internal/modules/dispatch"
	"ridehail/internal/types"
)

type RouterDeps struct {
	Engine   *dispatch.Engine
	Accounts *account.Service
	Verifier infra.TokenVerifier
	Revoked  middleware.Revoker
	Metrics  *metrics.Collector
	Log      logger.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	auth := middleware.Auth(d.Verifier, d.Revoked)
	asUser := []gin.HandlerFunc{auth, middleware.RequireRole(types.RoleUser)}
	asCaptain := []gin.HandlerFunc{auth, middleware.RequireRole(types.RoleCaptain)}

	userHandler := handlers.NewUserHandler(d.Accounts, d.Verifier, d.Engine)
	user := r.Group("/user")
	user.POST("/register", userHandler.Register)
	user.POST("/login", userHandler.Login)
	user.GET("/logout", userHandler.Logout)
	user.GET("/profile", append(asUser, userHandler.Profile)...)
	user.GET("/accepted-ride", append(asUser, userHandler.AcceptedRide)...)

	captainHandler := handlers.NewCaptainHandler(d.Accounts, d.Verifier, d.Engine)
	captain := r.Group("/captain")
	captain.POST("/register", captainHandler.Register)
	captain.POST("/login", captainHandler.Login)
	captain.GET("/logout", captainHandler.Logout)
	captain.GET("/profile", append(asCaptain, captainHandler.Profile)...)
	captain.PATCH("/toggle-availability", append(asCaptain, captainHandler.ToggleAvailability)...)
	captain.GET("/new-ride", append(asCaptain, captainHandler.NewRide)...)

	rideHandler := handlers.NewRideHandler(d.Engine)
	ride := r.Group("/ride", auth)
	ride.POST("/create-ride", middleware.RequireRole(types.RoleUser), rideHandler.Create)
	ride.PUT("/accept-ride", middleware.RequireRole(types.RoleCaptain), rideHandler.Accept)
	ride.PUT("/complete-ride", middleware.RequireRole(types.RoleCaptain), rideHandler.Complete)
	ride.PUT("/cancel-ride", rideHandler.Cancel)
	ride.GET("/:id", rideHandler.Get)

	return r
}
