package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// ErrorHandler renders every unhandled error, including echo's own 404/405
// and binder failures, as an OperationOutcome.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := apperr.HTTPStatus(err)
		if status >= 500 {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
		}
		var werr error
		if c.Request().Method == "HEAD" {
			werr = c.NoContent(status)
		} else {
			werr = apperr.RespondStatus(c, status, err)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
