package routes

import (
	"github.com/gin-gonic/gin"

	"tokentrust/internal/handlers"
)

// SetupTokenRoutes sets up routes for token performance, trades and
// transactions
func SetupTokenRoutes(r *gin.RouterGroup, h *handlers.Handler) {
	tokens := r.Group("/tokens")
	{
		tokens.GET("", h.ListTokens)
		tokens.GET("/:address", h.GetToken)
		tokens.GET("/:address/recommendations", h.GetTokenRecommendations)
		tokens.GET("/:address/validation-trust", h.GetTokenValidationTrust)
		tokens.GET("/:address/trades/open", h.GetOpenTrades)
		tokens.GET("/:address/trades/recent", h.GetRecentTrades)
		tokens.GET("/:address/transactions", h.GetTokenTransactions)
		tokens.GET("/:address/evaluate", h.EvaluateToken)
		tokens.POST("/:address/simulate", h.SimulateToken)
	}
	r.GET("/trades/open", h.GetOpenTrades)
}
