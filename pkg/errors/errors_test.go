package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeFollowsWrapping(t *testing.T) {
	wrapped := fmt.Errorf("%w: bet on round 7", ErrRoundClosed)
	assert.Equal(t, "round_closed", Code(wrapped))
	assert.Equal(t, "internal_error", Code(errors.New("boom")))
	assert.Empty(t, Code(nil))
}

func TestTransient(t *testing.T) {
	assert.NoError(t, Transient(nil))

	err := Transient(errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrTransientStore)
	assert.Same(t, err, Transient(err))

	assert.Equal(t, "transient_store_failure", Code(err))
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(fmt.Errorf("%w: need 50", ErrInsufficientFunds)))
	assert.True(t, IsRejection(ErrRateLimited))
	assert.False(t, IsRejection(Transient(errors.New("down"))))
	assert.False(t, IsRejection(ErrRoundNotFound))
}
