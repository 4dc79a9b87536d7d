package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
	assert.True(t, meta.Retryable)
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("create refund: %w", Wrap(CodeProvider, cause, "refund call failed"))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeProvider, CodeOf(err))
	assert.True(t, IsCode(err, CodeProvider))
	assert.Equal(t, http.StatusBadGateway, MetadataFor(CodeOf(err)).HTTPStatus)
}

func TestCodeOfUntypedError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, IsCode(nil, CodeInternal))
}

func TestWithDetails(t *testing.T) {
	err := New(CodeCapacityExceeded, "sold out").WithDetails([]string{"tt_1"})
	assert.Equal(t, []string{"tt_1"}, err.Details())
	assert.Equal(t, "CAPACITY_EXCEEDED: sold out", err.Error())
}
