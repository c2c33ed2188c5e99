package routes

import (
	"github.com/gin-gonic/gin"

	"tokentrust/internal/handlers"
)

// SetupRecommenderRoutes sets up routes for recommenders and their metrics
func SetupRecommenderRoutes(r *gin.RouterGroup, h *handlers.Handler) {
	recommenders := r.Group("/recommenders")
	{
		recommenders.GET("", h.ListRecommenders)
		recommenders.GET("/:id", h.GetRecommender)
		recommenders.GET("/:id/metrics", h.GetRecommenderMetrics)
		recommenders.GET("/:id/metrics/history", h.GetRecommenderMetricsHistory)
		recommenders.GET("/:id/recommendations", h.GetRecommenderRecommendations)
		recommenders.GET("/:id/trades", h.GetRecommenderTrades)
		recommenders.DELETE("/:id", h.DeleteRecommender)
	}
}
