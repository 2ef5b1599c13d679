package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("approval", "abc")))
	assert.Equal(t, ErrCodeConflict, CodeOf(New(ErrCodeConflict, "already decided")))
	assert.Equal(t, ErrCodeInvalidInput, CodeOf(InvalidInput("delegate_to_user_id", "required")))
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain error")))
}

func TestCodeSurvivesWrapping(t *testing.T) {
	inner := NotFound("change_order", "co-1")
	outer := fmt.Errorf("loading parent: %w", inner)
	assert.Equal(t, ErrCodeNotFound, CodeOf(outer))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, ErrCodeInternal, "failed to list approvals")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to list approvals")

	assert.NoError(t, Wrap(nil, ErrCodeInternal, "ignored"))
}

func TestMessageOf(t *testing.T) {
	err := New(ErrCodeUnauthorized, "user is not the assigned approver or delegate")
	assert.Equal(t, "user is not the assigned approver or delegate", MessageOf(err))
}
