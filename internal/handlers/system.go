package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tokentrust/internal/ledger"
	"tokentrust/internal/services"
	solanaUtils "tokentrust/pkg/solana"
)

const rpcCheckTimeout = 3 * time.Second

// Health pings the database.
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.Ledger.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RPCHealth probes every configured Solana RPC endpoint.
func (h *Handler) RPCHealth(c *gin.Context) {
	if len(h.RPCEndpoints) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No RPC endpoints configured"})
		return
	}
	results := solanaUtils.CheckRPCListAsync(c.Request.Context(), h.RPCEndpoints, rpcCheckTimeout)
	healthy := 0
	for _, r := range results {
		if r.OK {
			healthy++
		}
	}
	status := http.StatusOK
	if healthy == 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "endpoints": results})
}

// SubmitRecommendation queues a recommendation for the worker.
func (h *Handler) SubmitRecommendation(c *gin.Context) {
	if h.Publisher == nil || h.RecommendationQueue == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recommendation intake is not configured"})
		return
	}
	var rec services.Recommendation
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec.Token = strings.TrimSpace(rec.Token)
	if rec.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	if rec.Identity == (ledger.Identity{}) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		return
	}
	if err := h.Publisher.Publish(c.Request.Context(), h.RecommendationQueue, rec); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Recommendation queued", "token": rec.Token})
}
