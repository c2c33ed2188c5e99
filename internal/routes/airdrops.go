package routes

import (
	"github.com/gin-gonic/gin"

	"tokentrust/internal/handlers"
)

// SetupAirdropRoutes sets up routes for the airdrop ledger
func SetupAirdropRoutes(r *gin.RouterGroup, h *handlers.Handler) {
	airdrops := r.Group("/airdrops")
	{
		airdrops.GET("", h.ListAirdrops)
		airdrops.POST("", h.CreateAirdrop)
		airdrops.GET("/:id", h.GetAirdrop)
		airdrops.PUT("/:id/status", h.UpdateAirdropStatus)
		airdrops.DELETE("/:id", h.DeleteAirdrop)
	}
}
