package handlers

import (
	"github.com/gin-gonic/gin"

	"sirius-funding/internal/middleware"
)

// Routes groups the handlers mounted under /api.
type Routes struct {
	Wallet    *WalletHandler
	Campaigns *CampaignHandler
	Donations *DonationHandler
	JwtSecret string
	Identity  middleware.Identity
}

func (rt Routes) Register(api *gin.RouterGroup) {
	// Public Endpoint
	api.POST("/wallet/connect", rt.Wallet.Connect)
	api.GET("/wallet", rt.Wallet.Status)
	api.GET("/campaigns", rt.Campaigns.List)
	api.GET("/campaigns/:id", rt.Campaigns.Get)
	api.GET("/campaigns/:id/donations", rt.Campaigns.Donations)
	api.GET("/campaigns/slug/:projectId", rt.Campaigns.GetBySlug)

	// Protected Endpoint
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(rt.JwtSecret, rt.Identity))
	{
		protected.POST("/wallet/disconnect", rt.Wallet.Disconnect)
		protected.POST("/campaigns", rt.Campaigns.Create)
		protected.POST("/campaigns/:id/donate", rt.Donations.Donate)
		protected.POST("/settlements/:txHash/reconcile", rt.Donations.Reconcile)
	}
}
