package api

import (
	"errors"
	"net/http"

	"queryplane/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var unsupported *domain.UnsupportedError
	var warning *domain.WarningError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case errors.As(err, &warning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
