package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	err := WithContext(New("underlying"), "do the thing")
	assert.EqualError(t, err, "do the thing: underlying")

	wrapped := WithContext(err, "outer")
	assert.EqualError(t, wrapped, "outer: do the thing: underlying")
}

func TestGetPrintableMessage(t *testing.T) {
	plain := WithContext(New("boom"), "read file")
	assert.Equal(t, "read file: boom", GetPrintableMessage(plain))

	friendly := NewFriendlyError("Something went wrong with %q.", "x")
	assert.Equal(t, `Something went wrong with "x".`, GetPrintableMessage(friendly))

	// The friendly message survives wrapping.
	assert.Equal(t, `Something went wrong with "x".`,
		GetPrintableMessage(WithContext(friendly, "outer")))
}

func TestIsFileNotFound(t *testing.T) {
	assert.True(t, IsFileNotFound(FileNotFound{Path: "/x"}))
	assert.True(t, IsFileNotFound(WithContext(FileNotFound{Path: "/x"}, "fetch")))
	assert.False(t, IsFileNotFound(New("something else")))
}
