package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sirius-funding/internal/middleware"
	"sirius-funding/internal/models"
	"sirius-funding/internal/settlement"
)

type DonationHandler struct {
	Coordinator *settlement.Coordinator
}

func NewDonationHandler(coordinator *settlement.Coordinator) *DonationHandler {
	return &DonationHandler{Coordinator: coordinator}
}

type CreateDonationRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ReconcileRequest is optional. It is only needed when the pending record
// of a failed attempt could not be saved; the fields come from that attempt.
type ReconcileRequest struct {
	CampaignID string          `json:"campaignId"`
	Amount     decimal.Decimal `json:"amount"`
	Donor      string          `json:"donor"`
}

type settlementResponse struct {
	Attempt *models.SettlementAttempt `json:"attempt"`
	Error   string                    `json:"error,omitempty"`
	Code    string                    `json:"code,omitempty"`
	// Retryable is set when POST /api/settlements/{txHash}/reconcile can
	// still complete the donation.
	Retryable bool `json:"retryable,omitempty"`
}

// respondSettlement writes the terminal state of an attempt. Failures that
// happen before an attempt exists go through respondError.
func respondSettlement(c *gin.Context, attempt *models.SettlementAttempt, err error) {
	if err == nil {
		c.JSON(http.StatusOK, settlementResponse{Attempt: attempt})
		return
	}

	var fe *settlement.FailedError
	if attempt == nil || !errors.As(err, &fe) {
		respondError(c, err)
		return
	}

	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		middleware.Log(c).Error().Err(err).Str("attempt_id", attempt.ID).Msg("settlement failed")
	}
	c.JSON(status, settlementResponse{
		Attempt:   attempt,
		Error:     err.Error(),
		Code:      code,
		Retryable: fe.Retryable(),
	})
}

// Donate runs the whole donate flow and answers with its terminal state.
func (h *DonationHandler) Donate(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error(), "code": "BadRequest"})
		return
	}

	attempt, err := h.Coordinator.Donate(c.Request.Context(), c.Param("id"), req.Amount)
	respondSettlement(c, attempt, err)
}

// Reconcile replays a pending settlement by transaction hash. A hash that was
// already recorded answers with the confirmed attempt.
func (h *DonationHandler) Reconcile(c *gin.Context) {
	var claim *settlement.Claim
	var req ReconcileRequest
	switch err := c.ShouldBindJSON(&req); {
	case errors.Is(err, io.EOF):
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error(), "code": "BadRequest"})
		return
	default:
		claim = &settlement.Claim{CampaignID: req.CampaignID, Amount: req.Amount, Donor: req.Donor}
	}

	attempt, err := h.Coordinator.Reconcile(c.Request.Context(), c.Param("txHash"), claim)
	respondSettlement(c, attempt, err)
}
