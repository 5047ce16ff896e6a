package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("New creates error correctly", func(t *testing.T) {
		err := New(ErrorTypeValidation, "Invalid input", http.StatusBadRequest)

		assert.Equal(t, ErrorTypeValidation, err.Type)
		assert.Equal(t, "Invalid input", err.Message)
		assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
		assert.Equal(t, "VALIDATION_ERROR: Invalid input", err.Error())
	})

	t.Run("Wrap wraps error correctly", func(t *testing.T) {
		originalErr := errors.New("original error")
		err := Wrap(originalErr, ErrorTypeInternal, "Something went wrong", http.StatusInternalServerError)

		assert.Equal(t, ErrorTypeInternal, err.Type)
		assert.Equal(t, "Something went wrong", err.Message)
		assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
		assert.Equal(t, originalErr, err.Unwrap())
		assert.Contains(t, err.Error(), "original error")
	})

	t.Run("WithDetails adds details", func(t *testing.T) {
		err := New(ErrorTypeValidation, "Invalid input", http.StatusBadRequest)
		details := map[string]interface{}{
			"field": "email",
			"value": "invalid-email",
		}
		_ = err.WithDetails(details)

		assert.Equal(t, details, err.Details)
	})

	t.Run("WithCode adds code", func(t *testing.T) {
		err := New(ErrorTypeValidation, "Invalid input", http.StatusBadRequest)
		_ = err.WithCode("ERR_001")

		assert.Equal(t, "ERR_001", err.Code)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		fn         func() *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{
			name: "NewValidationError",
			fn: func() *AppError {
				return NewValidationError("Invalid field")
			},
			wantType:   ErrorTypeValidation,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "NewNotFoundError",
			fn: func() *AppError {
				return NewNotFoundError("User")
			},
			wantType:   ErrorTypeNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name: "NewInternalError",
			fn: func() *AppError {
				return NewInternalError("Server error")
			},
			wantType:   ErrorTypeInternal,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "NewTimeoutError",
			fn: func() *AppError {
				return NewTimeoutError("Request timeout")
			},
			wantType:   ErrorTypeTimeout,
			wantStatus: http.StatusRequestTimeout,
		},
		{
			name: "NewConflictError",
			fn: func() *AppError {
				return NewConflictError("Resource conflict")
			},
			wantType:   ErrorTypeConflict,
			wantStatus: http.StatusConflict,
		},
		{
			name: "NewRateLimitError",
			fn: func() *AppError {
				return NewRateLimitError("Too many requests")
			},
			wantType:   ErrorTypeRateLimit,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name: "NewServiceDownError",
			fn: func() *AppError {
				return NewServiceDownError("Database")
			},
			wantType:   ErrorTypeServiceDown,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantStatus, err.HTTPStatus)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestNavigationErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantType    ErrorType
		wantStatus  int
		wantCode    string
		wantDetails map[string]interface{}
	}{
		{
			name:        "session not found",
			err:         NewSessionNotFoundError("abc"),
			wantType:    ErrorTypeNotFound,
			wantStatus:  http.StatusNotFound,
			wantCode:    CodeSessionNotFound,
			wantDetails: map[string]interface{}{"session_id": "abc"},
		},
		{
			name:        "still unavailable",
			err:         NewStillUnavailableError(42),
			wantType:    ErrorTypeNotFound,
			wantStatus:  http.StatusNotFound,
			wantCode:    CodeStillUnavailable,
			wantDetails: map[string]interface{}{"frame": 42},
		},
		{
			name:        "unreadable media",
			err:         NewMediaError(errors.New("moov atom not found"), "/videos/broken.mp4"),
			wantType:    ErrorTypeMedia,
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    CodeUnreadableMedia,
			wantDetails: map[string]interface{}{"path": "/videos/broken.mp4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantDetails, tt.err.Details)
		})
	}

	t.Run("media error keeps cause", func(t *testing.T) {
		cause := errors.New("moov atom not found")
		err := NewMediaError(cause, "clip.mp4")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "moov atom not found")
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		err := NewValidationError("test")
		assert.True(t, IsAppError(err))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.False(t, IsAppError(err))
	})
}

func TestGetAppError(t *testing.T) {
	t.Run("extracts AppError successfully", func(t *testing.T) {
		originalErr := NewValidationError("test")
		appErr, ok := GetAppError(originalErr)

		assert.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})

	t.Run("extracts wrapped AppError", func(t *testing.T) {
		original := NewSessionNotFoundError("abc")
		wrapped := fmt.Errorf("lookup: %w", original)
		appErr, ok := GetAppError(wrapped)

		assert.True(t, ok)
		assert.Same(t, original, appErr)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		appErr, ok := GetAppError(err)

		assert.False(t, ok)
		assert.Nil(t, appErr)
	})
}

func TestWrapInternalError(t *testing.T) {
	originalErr := errors.New("database connection failed")
	wrappedErr := WrapInternalError(originalErr, "Failed to fetch data")
	
	assert.Equal(t, ErrorTypeInternal, wrappedErr.Type)
	assert.Equal(t, "Failed to fetch data", wrappedErr.Message)
	assert.Equal(t, http.StatusInternalServerError, wrappedErr.HTTPStatus)
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
}