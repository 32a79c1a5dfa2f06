// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package), and the translation of service
// sentinels into (status, code, message) triples. These codes provide clients
// with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, forbidden, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., quota_exceeded, already_closed) name lending
//     rules that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_closed",
//	  "message": "request already closed"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/lock"
	"github.com/tbourn/go-lending-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodeAlreadyClosed    = "already_closed"
	ErrCodeMissingHelper    = "missing_helper"
	ErrCodeUpstream         = "upstream_failure"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// serviceError describes how a service sentinel is rendered.
type serviceError struct {
	status int
	code   string
}

// serviceErrors maps sentinels to responses. Order matters only for
// documentation; sentinels are distinct.
var serviceErrors = []struct {
	err error
	out serviceError
}{
	{services.ErrQuotaExceeded, serviceError{http.StatusForbidden, ErrCodeQuotaExceeded}},
	{services.ErrRequestNotFound, serviceError{http.StatusNotFound, ErrCodeNotFound}},
	{services.ErrUserNotFound, serviceError{http.StatusNotFound, ErrCodeNotFound}},
	{services.ErrAlreadyClosed, serviceError{http.StatusConflict, ErrCodeAlreadyClosed}},
	{services.ErrUnauthorized, serviceError{http.StatusForbidden, ErrCodeForbidden}},
	{services.ErrMissingHelper, serviceError{http.StatusConflict, ErrCodeMissingHelper}},
	{services.ErrUpstream, serviceError{http.StatusBadGateway, ErrCodeUpstream}},
	{services.ErrConflict, serviceError{http.StatusConflict, ErrCodeConflict}},
	{lock.ErrNotAcquired, serviceError{http.StatusConflict, ErrCodeConflict}},
	{services.ErrEmptyItemName, serviceError{http.StatusBadRequest, ErrCodeBadRequest}},
	{services.ErrEmptyContent, serviceError{http.StatusBadRequest, ErrCodeBadRequest}},
	{services.ErrContentTooLong, serviceError{http.StatusBadRequest, ErrCodeBadRequest}},
	{services.ErrInvalidProfile, serviceError{http.StatusBadRequest, ErrCodeBadRequest}},
}

// writeServiceError renders err with the envelope matching its sentinel.
// Unknown errors become 500 internal_error without leaking details.
func writeServiceError(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			fail(c, m.out.status, m.out.code, m.err.Error())
			return
		}
	}
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// WriteServiceError is the exported variant of writeServiceError, used by
// middleware that calls services directly.
func WriteServiceError(c *gin.Context, err error) { writeServiceError(c, err) }
