package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                    = errors.New("not found")
	ErrNotAuthenticated            = errors.New("not authenticated")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrConcurrentUpdateConflict    = errors.New("concurrent update conflict")
	ErrDuplicateDonation           = errors.New("donation already applied")
	ErrVersionConflict             = errors.New("version conflict")
	ErrSlugTaken                   = errors.New("project id already taken")
	ErrWalletUnavailable           = errors.New("wallet unavailable")
	ErrUserCancelled               = errors.New("user cancelled")
	ErrSigningRejected             = errors.New("signing rejected")
	ErrSigningUnavailable          = errors.New("signing unavailable")
	ErrSubmissionRejected          = errors.New("submission rejected")
	ErrSubmissionUnconfirmed       = errors.New("submission unconfirmed")
	ErrLedgerReconciliationPending = errors.New("ledger reconciliation pending")
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// ValidationError carries every violated constraint of one input, so callers
// can render all of them together.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a violation for field.
func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// Has reports whether field has at least one violation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns nil when nothing was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
