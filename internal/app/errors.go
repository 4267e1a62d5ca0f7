package app

import (
	"fmt"
	"net/http"
)

// DomainError is the closed failure type every operation raises. Details, when
// set, is a fixed-schema payload the caller can act on programmatically
// (e.g. {currentStatus, requiredStatus}).
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbidden(message string, details any) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, details)
}

func conflict(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, details)
}

func unprocessable(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", message, nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}
