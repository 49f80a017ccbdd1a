package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		err       error
		wantCode  int
		wantErr   response.ErrCode
		wantKnown bool
	}{
		{model.ErrSessionNotFound, http.StatusNotFound, response.ErrNotFound, true},
		{model.ErrDefinitionNotFound, http.StatusNotFound, response.ErrExamNotFound, true},
		{model.ErrForbidden, http.StatusForbidden, response.ErrForbidden, true},
		{model.ErrSessionClosed, http.StatusConflict, response.ErrSessionClosed, true},
		{model.ErrDeadlinePassed, http.StatusConflict, response.ErrDeadlinePassed, true},
		{model.ErrInvalidQuestion, http.StatusUnprocessableEntity, response.ErrInvalidQuestion, true},
		{model.ErrInvalidAlternative, http.StatusUnprocessableEntity, response.ErrInvalidAlternative, true},
		{model.ErrExamUnavailable, http.StatusConflict, response.ErrExamNotAvailable, true},
		{model.ErrSessionInProgress, http.StatusConflict, response.ErrSessionInProgress, true},
		{fmt.Errorf("auto-submit: %w", model.ErrSessionNotFound), http.StatusNotFound, response.ErrNotFound, true},
		{errors.New("connection reset"), http.StatusInternalServerError, response.ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code, errCode, known := mapError(tt.err)
			if code != tt.wantCode || errCode != tt.wantErr || known != tt.wantKnown {
				t.Errorf("mapError = (%d, %s, %v), want (%d, %s, %v)",
					code, errCode, known, tt.wantCode, tt.wantErr, tt.wantKnown)
			}
		})
	}
}
