package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/swasthyasetu/termbridge/internal/platform/fhir"
)

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInputTooShort):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStateTransition):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Code names the error kind for machine-readable reports such as bulk
// results.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInputTooShort):
		return "input_too_short"
	case errors.Is(err, ErrStateTransition):
		return "state_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}

// Outcome renders err as an OperationOutcome with one issue per field error.
func Outcome(err error) *fhir.OperationOutcome {
	var ve *ValidationError
	if errors.As(err, &ve) {
		b := fhir.NewOutcomeBuilder()
		for _, f := range ve.Fields {
			b.AddIssueWithLocation(fhir.IssueSeverityError, fhir.IssueTypeInvalid, f.Message, f.Field)
		}
		return b.Build()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return fhir.NotFoundOutcome(err.Error())
	case errors.Is(err, ErrInputTooShort):
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeValue, err.Error())
	case errors.Is(err, ErrStateTransition):
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeBusinessRule, err.Error())
	case errors.Is(err, ErrConflict):
		return fhir.ConflictOutcome(err.Error())
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return fhir.NewOperationOutcome(fhir.IssueSeverityError, issueTypeForStatus(he.Code), msg)
	}
	return fhir.InternalErrorOutcome("internal server error")
}

func issueTypeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fhir.IssueTypeSecurity
	case http.StatusNotFound:
		return fhir.IssueTypeNotFound
	case http.StatusMethodNotAllowed:
		return fhir.IssueTypeNotSupported
	case http.StatusTooManyRequests:
		return fhir.IssueTypeThrottled
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return fhir.IssueTypeInvalid
	}
	return fhir.IssueTypeProcessing
}

// Respond writes err as an OperationOutcome using the mapped status.
func Respond(c echo.Context, err error) error {
	return RespondStatus(c, HTTPStatus(err), err)
}

// RespondStatus writes err as an OperationOutcome with an explicit status.
func RespondStatus(c echo.Context, status int, err error) error {
	return c.JSON(status, Outcome(err))
}
