package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
)

type domainError struct {
	err    error
	status int
	code   response.ErrCode
}

var domainErrors = []domainError{
	{model.ErrSessionNotFound, http.StatusNotFound, response.ErrNotFound},
	{model.ErrDefinitionNotFound, http.StatusNotFound, response.ErrExamNotFound},
	{model.ErrForbidden, http.StatusForbidden, response.ErrForbidden},
	{model.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed},
	{model.ErrDeadlinePassed, http.StatusConflict, response.ErrDeadlinePassed},
	{model.ErrInvalidQuestion, http.StatusUnprocessableEntity, response.ErrInvalidQuestion},
	{model.ErrInvalidAlternative, http.StatusUnprocessableEntity, response.ErrInvalidAlternative},
	{model.ErrExamUnavailable, http.StatusConflict, response.ErrExamNotAvailable},
	{model.ErrSessionInProgress, http.StatusConflict, response.ErrSessionInProgress},
}

// mapError translates a service error to an HTTP status and error code.
func mapError(err error) (int, response.ErrCode, bool) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.status, d.code, true
		}
	}
	return http.StatusInternalServerError, response.ErrInternal, false
}

// failWithError writes the mapped error. Causes outside the domain
// taxonomy are logged and hidden from the client.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	status, code, known := mapError(err)
	if !known {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
