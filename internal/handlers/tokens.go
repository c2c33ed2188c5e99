package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tokentrust/pkg/trust"
)

const defaultRecentWindow = time.Hour

func (h *Handler) ListTokens(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	rows, err := h.Ledger.ListTokenPerformance(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetToken(c *gin.Context) {
	perf, err := h.Ledger.GetTokenPerformance(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (h *Handler) GetTokenRecommendations(c *gin.Context) {
	rows, err := h.Ledger.GetRecommendationsByToken(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetTokenValidationTrust(c *gin.Context) {
	address := c.Param("address")
	v, err := h.Ledger.CalculateValidationTrust(c.Request.Context(), address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_address": address, "validation_trust": v})
}

func (h *Handler) GetOpenTrades(c *gin.Context) {
	rows, err := h.Ledger.GetOpenTrades(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// GetRecentTrades takes the window as a duration ("90m") or in seconds.
func (h *Handler) GetRecentTrades(c *gin.Context) {
	window := defaultRecentWindow
	if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			secs, serr := strconv.Atoi(v)
			if serr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid window"})
				return
			}
			d = time.Duration(secs) * time.Second
		}
		if d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid window"})
			return
		}
		window = d
	}
	rows, err := h.Ledger.GetRecentTrades(c.Request.Context(), c.Param("address"), window)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetTokenTransactions(c *gin.Context) {
	rows, err := h.Ledger.GetTransactionsByToken(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// EvaluateToken scores the token against live market data.
func (h *Handler) EvaluateToken(c *gin.Context) {
	if h.Evaluator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Evaluation is not configured"})
		return
	}
	eval, err := h.Evaluator.Evaluate(c.Request.Context(), c.Param("address"))
	if err != nil {
		respondEvaluationError(c, err)
		return
	}
	c.JSON(http.StatusOK, eval)
}

type simulateRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// SimulateToken runs the pre-trade gate without trading.
func (h *Handler) SimulateToken(c *gin.Context) {
	if h.Gate == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Simulation is not configured"})
		return
	}
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.Gate.Simulate(c.Request.Context(), c.Param("address"), req.Amount)
	if err != nil {
		respondEvaluationError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func respondEvaluationError(c *gin.Context, err error) {
	if errors.Is(err, trust.ErrInsufficientData) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
