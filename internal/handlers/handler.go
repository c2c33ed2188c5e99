package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tokentrust/internal/ledger"
	"tokentrust/internal/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler serves the HTTP API. Evaluator, Gate and Publisher are optional;
// endpoints that need a missing one answer 503.
type Handler struct {
	Ledger              *ledger.Ledger
	Evaluator           services.Evaluator
	Gate                services.Gate
	Publisher           services.EventPublisher
	RecommendationQueue string
	RPCEndpoints        []string
}

// respondError maps ledger sentinels onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicate), errors.Is(err, ledger.ErrNoOpenTrade),
		errors.Is(err, ledger.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidInput), errors.Is(err, ledger.ErrIntegrity):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.WithField("path", c.FullPath()).WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (int, int, bool) {
	limit, offset := defaultPageSize, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return 0, 0, false
		}
		limit = n
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID format"})
		return uuid.Nil, false
	}
	return id, true
}
