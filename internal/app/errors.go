package app

import (
	"errors"
	"fmt"
	"net/http"

	"mindmap/api/internal/auth"
	"mindmap/api/internal/export"
	"mindmap/api/internal/gitrepo"
	"mindmap/api/internal/session"
	"mindmap/api/internal/store"
	"mindmap/api/internal/upload"
)

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

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errMapNotFound  = domainError(http.StatusNotFound, "NOT_FOUND", "Mind map not found", nil)
	// errUserMissing means the token is valid but its user row is gone.
	errUserMissing = errors.New("session user no longer exists")
)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrNoRepo):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrSlugTaken):
		return http.StatusConflict, "SLUG_TAKEN", "Slug already in use", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, session.ErrNotFound), errors.Is(err, errUserMissing):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, auth.ErrGoogleRejected):
		return http.StatusUnauthorized, "GOOGLE_REJECTED", "Google sign-in failed", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, upload.ErrEmptyFile):
		return http.StatusBadRequest, "EMPTY_FILE", "No file uploaded", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
