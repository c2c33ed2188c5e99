package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tokentrust/internal/models"
)

func (h *Handler) ListRecommenders(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	recs, err := h.Ledger.ListRecommenders(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetRecommender accepts either the recommender ID or any of its aliases.
func (h *Handler) GetRecommender(c *gin.Context) {
	key := c.Param("id")
	var (
		rec *models.Recommender
		err error
	)
	if id, perr := uuid.Parse(key); perr == nil {
		rec, err = h.Ledger.GetRecommender(c.Request.Context(), id)
	} else {
		rec, err = h.Ledger.GetRecommenderByAlias(c.Request.Context(), key)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetRecommenderMetrics(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	m, err := h.Ledger.GetRecommenderMetrics(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) GetRecommenderMetricsHistory(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.Ledger.GetRecommenderMetricsHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetRecommenderRecommendations(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.Ledger.GetRecommendationsByRecommender(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetRecommenderTrades(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.Ledger.GetTradesByRecommender(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) DeleteRecommender(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.Ledger.DeleteRecommender(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Recommender deleted successfully"})
}
