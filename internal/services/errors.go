// Package services defines the business logic for lending requests, the item
// catalog, request messages, expiry and user enrichment. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer. Unexpected store failures are wrapped with %w and
// surface as themselves.
package services

import "errors"

// Request lifecycle errors.
var (
	// ErrQuotaExceeded is returned when the author has no request allowance left.
	ErrQuotaExceeded = errors.New("request quota exceeded")

	// ErrRequestNotFound indicates that the request does not exist or is not in
	// a state the operation applies to.
	ErrRequestNotFound = errors.New("request not found")

	// ErrAlreadyClosed is returned when closing a request that is closed or expired.
	ErrAlreadyClosed = errors.New("request already closed")

	// ErrUnauthorized is returned when the actor may not act on the request.
	ErrUnauthorized = errors.New("not allowed to act on this request")

	// ErrConflict is returned when the request changed between read and write.
	ErrConflict = errors.New("request was modified concurrently")
)

// Catalog and messaging errors.
var (
	// ErrEmptyItemName is returned when an item name is blank after trimming.
	ErrEmptyItemName = errors.New("item name is empty")

	// ErrEmptyContent is returned when a message is blank after normalization.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrContentTooLong is returned when a message exceeds the configured rune limit.
	ErrContentTooLong = errors.New("message content too long")

	// ErrMissingHelper is returned when messaging a request nobody is helping with.
	ErrMissingHelper = errors.New("request has no helper")
)

// User errors.
var (
	// ErrUpstream indicates the identity provider could not be reached or
	// rejected the token.
	ErrUpstream = errors.New("identity provider failure")

	// ErrUserNotFound is returned when the caller has no user record.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidProfile is returned for out-of-range profile values.
	ErrInvalidProfile = errors.New("invalid profile")
)
