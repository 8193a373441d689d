package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sirius-funding/internal/middleware"
	"sirius-funding/internal/models"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Checked in order: settlement failures wrap the sentinel of their reason.
var errorMappings = []errorMapping{
	{models.ErrInvalidAmount, http.StatusBadRequest, "InvalidAmount"},
	{models.ErrNotAuthenticated, http.StatusUnauthorized, "NotAuthenticated"},
	{models.ErrNotFound, http.StatusNotFound, "NotFound"},
	{models.ErrConcurrentUpdateConflict, http.StatusConflict, "ConcurrentUpdateConflict"},
	{models.ErrSigningRejected, http.StatusForbidden, "SigningRejected"},
	{models.ErrSigningUnavailable, http.StatusUnauthorized, "SigningUnavailable"},
	{models.ErrSubmissionRejected, http.StatusUnprocessableEntity, "SubmissionRejected"},
	{models.ErrWalletUnavailable, http.StatusServiceUnavailable, "WalletUnavailable"},
	{models.ErrUserCancelled, http.StatusConflict, "UserCancelled"},
	{models.ErrLedgerReconciliationPending, http.StatusAccepted, "LedgerReconciliationPending"},
	{models.ErrSubmissionUnconfirmed, http.StatusAccepted, "SubmissionUnconfirmed"},
}

// statusFor maps err to an HTTP status and a taxonomy code.
func statusFor(err error) (int, string) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, "ValidationError"
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "Internal"
}

// respondError writes the error body. requestId is set whenever RequestLogger
// ran, so a report can be matched to the server log.
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := gin.H{"error": err.Error(), "code": code}
	if id := middleware.RequestID(c); id != "" {
		body["requestId"] = id
	}
	if status == http.StatusInternalServerError {
		middleware.Log(c).Error().Err(err).Msg("request failed")
		body["error"] = "Server error."
		c.JSON(status, body)
		return
	}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	c.JSON(status, body)
}
