package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sirius-funding/internal/campaign"
	"sirius-funding/internal/donation"
	"sirius-funding/internal/middleware"
	"sirius-funding/internal/models"
)

type CampaignHandler struct {
	Registry *campaign.Registry
	Ledger   *donation.Ledger
	Now      func() time.Time
}

func NewCampaignHandler(registry *campaign.Registry, ledger *donation.Ledger) *CampaignHandler {
	return &CampaignHandler{Registry: registry, Ledger: ledger, Now: time.Now}
}

type campaignResponse struct {
	models.Campaign
	Progress    decimal.Decimal `json:"progress"`
	FullyFunded bool            `json:"fullyFunded"`
	Expired     bool            `json:"expired"`
}

func (h *CampaignHandler) present(c models.Campaign) campaignResponse {
	return campaignResponse{
		Campaign:    c,
		Progress:    donation.Progress(c),
		FullyFunded: c.FullyFunded(),
		Expired:     c.Expired(h.Now()),
	}
}

func (h *CampaignHandler) List(c *gin.Context) {
	campaigns, err := h.Registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]campaignResponse, 0, len(campaigns))
	for _, cp := range campaigns {
		out = append(out, h.present(cp))
	}
	c.JSON(http.StatusOK, out)
}

func (h *CampaignHandler) Get(c *gin.Context) {
	cp, err := h.Registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.present(*cp))
}

func (h *CampaignHandler) GetBySlug(c *gin.Context) {
	cp, err := h.Registry.FindBySlug(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.present(*cp))
}

func (h *CampaignHandler) Donations(c *gin.Context) {
	events, err := h.Ledger.Donations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []models.DonationEvent{}
	}
	c.JSON(http.StatusOK, events)
}

// CreateCampaignRequest carries no binding tags: the registry reports every
// invalid field at once.
type CreateCampaignRequest struct {
	ProjectID   string          `json:"projectId"`
	Goal        decimal.Decimal `json:"goal"`
	Deadline    time.Time       `json:"deadline"`
	Description string          `json:"description"`
	ImageRef    string          `json:"imageRef"`
}

func (h *CampaignHandler) Create(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error(), "code": "BadRequest"})
		return
	}

	id, err := h.Registry.Create(c.Request.Context(), campaign.CreateInput{
		ProjectID:   req.ProjectID,
		Creator:     c.GetString(middleware.AddressKey),
		Goal:        req.Goal,
		Deadline:    req.Deadline,
		Description: req.Description,
		ImageRef:    req.ImageRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}
