package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodedErrorsMatchSentinels(t *testing.T) {
	err := fmt.Errorf("remove job: %w", ErrConflict.WithMessage("job %s is running", "j1"))

	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(err))

	resp := ToErrorResponse(err)
	assert.Equal(t, "job j1 is running", resp["error"])
	assert.Equal(t, "CONFLICT", resp["error_code"])
	assert.NotContains(t, resp, "details")
}

func TestWithDetailDoesNotShareMaps(t *testing.T) {
	a := ErrValidation.WithDetail("field", "q")
	b := a.WithDetail("field", "limit")

	assert.Equal(t, "q", a.Details["field"])
	assert.Equal(t, "limit", b.Details["field"])
	assert.Empty(t, ErrValidation.Details)
}

func TestUnknownErrorsAreInternal(t *testing.T) {
	err := errors.New("disk on fire")
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(err))
	assert.Equal(t, "INTERNAL_ERROR", ToErrorResponse(err)["error_code"])
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("kaboom")
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "kaboom")
	assert.NotContains(t, ToErrorResponse(err), "stack_trace")
}
