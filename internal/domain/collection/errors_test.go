package collection

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchError_Classification(t *testing.T) {
	cause := errors.New("connection reset")
	transient := NewTransientError("transactions", 4, 502, cause)

	wrapped := fmt.Errorf("scan: %w", transient)
	assert.True(t, errors.Is(wrapped, ErrTransient))
	assert.True(t, errors.Is(wrapped, cause))
	assert.False(t, errors.Is(wrapped, ErrMalformedResponse))
	assert.True(t, IsTransient(wrapped))

	var fe *FetchError
	assert.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, 4, fe.Page)
	assert.Contains(t, fe.Error(), "status 502")

	malformed := NewMalformedError("transactions", 2, errors.New("rows is not an array"))
	assert.True(t, errors.Is(malformed, ErrMalformedResponse))
	assert.False(t, IsTransient(malformed))
}

func TestPassString(t *testing.T) {
	assert.Equal(t, "first", PassFirst.String())
	assert.Equal(t, "second", PassSecond.String())
	assert.Equal(t, "pass(3)", Pass(3).String())
}
