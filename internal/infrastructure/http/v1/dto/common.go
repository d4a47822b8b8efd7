// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"

	"backoffice/internal/core/apperror"
)

// --- Pagination ---

// ListQuery contains paging and date filters shared by list endpoints.
// Dates use the YYYY-MM-DD layout.
type ListQuery struct {
	Limit          int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset         int    `form:"offset" binding:"omitempty,min=0"`
	DateFrom       string `form:"dateFrom"`
	DateTo         string `form:"dateTo"`
	IncludeDeleted bool   `form:"includeDeleted"`
}

// ListResponse wraps list results with pagination.
type ListResponse[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// --- Dates ---

// ParseDate parses a YYYY-MM-DD business date.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, apperror.NewInvalidInput("invalid date, expected YYYY-MM-DD").
			WithDetail("field", field).
			WithDetail("value", value)
	}
	return t, nil
}

// ParseOptionalDate is ParseDate that maps "" to nil.
func ParseOptionalDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := ParseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// FromAppError converts an AppError to its response body.
func FromAppError(err *apperror.AppError) *ErrorResponse {
	if err == nil {
		return nil
	}
	return &ErrorResponse{Code: err.Code, Message: err.Message, Details: err.Details}
}
