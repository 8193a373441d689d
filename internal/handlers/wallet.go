package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"sirius-funding/internal/ledger"
	"sirius-funding/internal/middleware"
	"sirius-funding/internal/wallet"
)

type WalletHandler struct {
	Session   *wallet.Session
	Ledger    ledger.Client
	JwtSecret string
	TokenTTL  time.Duration
}

func NewWalletHandler(session *wallet.Session, client ledger.Client, jwtSecret string, ttl time.Duration) *WalletHandler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &WalletHandler{Session: session, Ledger: client, JwtSecret: jwtSecret, TokenTTL: ttl}
}

func (h *WalletHandler) createJWT(address string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": address,
		"iat": now.Unix(),
		"exp": now.Add(h.TokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.JwtSecret))
}

// Connect asks the wallet for an address and issues a token bound to it.
func (h *WalletHandler) Connect(c *gin.Context) {
	address, err := h.Session.Connect(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	tokenString, err := h.createJWT(address)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": address, "token": tokenString})
}

func (h *WalletHandler) Disconnect(c *gin.Context) {
	if err := h.Session.Disconnect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

// Status reports the active address and, when the network answers, its
// native balance.
func (h *WalletHandler) Status(c *gin.Context) {
	address, ok := h.Session.CurrentAddress()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"connected": false})
		return
	}

	body := gin.H{"connected": true, "address": address}
	balance, err := h.Ledger.Balance(c.Request.Context(), address)
	if err != nil {
		middleware.Log(c).Warn().Err(err).Str("address", address).Msg("failed to load balance")
	} else {
		body["balance"] = balance
	}
	c.JSON(http.StatusOK, body)
}
