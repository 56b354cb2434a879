package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindUserRejected, "declined in wallet")
	wrapped := fmt.Errorf("processing item 3: %w", base)

	assert.Equal(t, KindUserRejected, KindOf(wrapped))
	assert.True(t, IsUserRejected(wrapped))
	assert.False(t, IsValidation(wrapped))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, KindSubmissionTransient, "submitting transaction")

	assert.True(t, Is(err, KindSubmissionTransient))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "submission_transient")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestKindOfForeignErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(stderrors.New("something else")))
	assert.False(t, Is(stderrors.New("something else"), KindInternal),
		"foreign errors carry no kind at all")
}

func TestWithContext(t *testing.T) {
	err := Validation("bad amount").WithContext("item", 2).WithContext("amount", "0")
	require.NotNil(t, err.Context)
	assert.Equal(t, 2, err.Context["item"])
	assert.Equal(t, "0", err.Context["amount"])
}

func TestIndeterminateOnlyForTimeouts(t *testing.T) {
	assert.True(t, IsIndeterminate(New(KindConfirmationTimeout, "horizon passed")))
	assert.False(t, IsIndeterminate(New(KindSubmissionFailed, "retries exhausted")))
	assert.False(t, IsIndeterminate(New(KindLedgerExecution, "insufficient funds")))
}
