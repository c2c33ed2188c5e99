package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"tokentrust/internal/models"
)

type createAirdropRequest struct {
	ProgramName   string          `json:"program_name" binding:"required"`
	WalletAddress string          `json:"wallet_address" binding:"required"`
	SignupURL     string          `json:"signup_url"`
	RewardAmount  decimal.Decimal `json:"reward_amount"`
	Metadata      datatypes.JSON  `json:"metadata"`
}

type updateAirdropStatusRequest struct {
	Status models.AirdropStatus `json:"status" binding:"required"`
}

func (h *Handler) CreateAirdrop(c *gin.Context) {
	var req createAirdropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a := &models.Airdrop{
		ProgramName:   req.ProgramName,
		WalletAddress: req.WalletAddress,
		SignupURL:     req.SignupURL,
		RewardAmount:  req.RewardAmount,
		Metadata:      req.Metadata,
	}
	if err := h.Ledger.CreateAirdrop(c.Request.Context(), a); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAirdrops(c *gin.Context) {
	rows, err := h.Ledger.ListAirdrops(c.Request.Context(), models.AirdropStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetAirdrop(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	a, err := h.Ledger.GetAirdrop(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAirdropStatus(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req updateAirdropStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.Ledger.UpdateAirdropStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAirdrop(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.Ledger.DeleteAirdrop(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Airdrop deleted successfully"})
}
