package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	apperrors "github.com/devrev/softmatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *apperrors.MatchError
		want int
	}{
		{"invalid range", apperrors.InvalidRange(5, 2, "min exceeds max"), http.StatusBadRequest},
		{"invalid keystone", apperrors.InvalidKeystoneInput("missing level"), http.StatusBadRequest},
		{"invalid composition", apperrors.InvalidComposition("empty"), http.StatusBadRequest},
		{"entry not found", apperrors.EntryNotFound(1, 2), http.StatusNotFound},
		{"session not found", apperrors.SessionNotFound("abc"), http.StatusNotFound},
		{"unavailable", apperrors.Unavailable("down", nil), http.StatusServiceUnavailable},
		{"invariant", apperrors.InvariantViolation("confirmed id not a member"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestMatchError_Details(t *testing.T) {
	err := apperrors.InvalidRange(1, 5, "level 1 is not supported")

	assert.Equal(t, apperrors.ErrCodeInvalidRange, err.Code)
	assert.Equal(t, 1, err.Details["level_min"])
	assert.Equal(t, 5, err.Details["level_max"])
	assert.Contains(t, err.Error(), "level 1 is not supported")
	assert.Equal(t, "INVALID_RANGE", err.Code.String())
}

func TestGetCode_Wrapped(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	wrapped := fmt.Errorf("record: %w", apperrors.StatsFailed(cause))

	require.True(t, apperrors.IsMatchError(wrapped))
	assert.Equal(t, apperrors.ErrCodeStatsFailed, apperrors.GetCode(wrapped))
	assert.ErrorIs(t, wrapped, cause)

	assert.False(t, apperrors.IsMatchError(cause))
	assert.Equal(t, apperrors.ErrCodeInternal, apperrors.GetCode(cause))
}
