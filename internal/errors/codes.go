// Package errors provides structured error handling for ragindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Backend (network) errors
//   - 4XX: Validation errors
//   - 5XX: Resource errors
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index and metadata storage errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates embedding-backend and network errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryResource indicates resource exhaustion errors.
	CategoryResource Category = "RESOURCE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, the run must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but processing can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreCorrupt     = "ERR_202_STORE_CORRUPT"
	ErrCodePartialWrite     = "ERR_203_PARTIAL_WRITE"
	ErrCodeStoreClosed      = "ERR_204_STORE_CLOSED"

	// Backend errors (300-399)
	ErrCodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeBackendResponse    = "ERR_303_BACKEND_BAD_RESPONSE"

	// Validation errors (400-499)
	ErrCodeInvalidInput        = "ERR_401_INVALID_INPUT"
	ErrCodeUnsupportedLanguage = "ERR_402_UNSUPPORTED_LANGUAGE"
	ErrCodeDimensionMismatch   = "ERR_403_DIMENSION_MISMATCH"

	// Resource errors (500-599)
	ErrCodeMemoryExhausted = "ERR_501_MEMORY_EXHAUSTED"

	// Internal errors (600-699)
	ErrCodeInternal = "ERR_601_INTERNAL"
)

// categoryFromCode derives the error category from a code prefix.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	case '5':
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// severityFromCode derives default severity from a code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeMemoryExhausted, ErrCodeStoreCorrupt:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may be
// retried. Backend timeouts and connection failures are transient; validation
// and resource errors are not.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
