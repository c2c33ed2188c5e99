package routes

import (
	"github.com/gin-gonic/gin"

	"tokentrust/internal/handlers"
)

// SetupSystemRoutes sets up RPC health and recommendation intake
func SetupSystemRoutes(r *gin.RouterGroup, h *handlers.Handler) {
	r.GET("/rpc/health", h.RPCHealth)
	r.POST("/recommendations", h.SubmitRecommendation)
}
