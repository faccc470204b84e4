// Package handlers defines the error codes of the ops API.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Every error response carries one of them inside an
// ErrorResponse envelope:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "validation failed: search plan flags are not initialized"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"

	// ErrCodeValidation reports an order or group whose state makes the
	// requested pass impossible (missing client, uninitialized plan, empty
	// group, no retry schedule).
	ErrCodeValidation = "validation_failed"
)
