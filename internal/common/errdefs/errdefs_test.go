package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelOfSameKind(t *testing.T) {
	err := New(KindInvalidImageInput, "decode image", errors.New("unknown format"))
	wrapped := fmt.Errorf("predict: %w", err)

	assert.ErrorIs(t, wrapped, ErrInvalidImageInput)
	assert.NotErrorIs(t, wrapped, ErrInferenceFailure)
	assert.Equal(t, KindInvalidImageInput, KindOf(wrapped))
	assert.Equal(t, "decode image: invalid_image_input: unknown format", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("session closed")
	err := Newf(KindInferenceFailure, "decoder step 3", "run: %w", cause)
	assert.ErrorIs(t, err, cause)
}
