package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AddressKey is where the authenticated wallet address is stored on the
// gin context.
const AddressKey = "address"

// Identity reports the active wallet address.
type Identity interface {
	CurrentAddress() (string, bool)
}

// AuthMiddleware accepts a bearer token only while the wallet it was issued
// for is still the active session.
func AuthMiddleware(jwtSecret string, identity Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := Log(c)

		// Get Authorization Header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required", "code": "NotAuthenticated"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			log.Debug().Msg("auth header format is not Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format", "code": "NotAuthenticated"})
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})
		if err != nil {
			log.Debug().Err(err).Msg("token parsing error")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "code": "NotAuthenticated"})
			return
		}

		address, err := token.Claims.GetSubject()
		if err != nil || address == "" || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "NotAuthenticated"})
			return
		}

		// Tokens die with the session that issued them.
		current, ok := identity.CurrentAddress()
		if !ok || current != address {
			log.Debug().Str("address", address).Msg("token does not match the active wallet")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Wallet session changed, reconnect", "code": "NotAuthenticated"})
			return
		}

		c.Set(AddressKey, address)
		c.Next()
	}
}
