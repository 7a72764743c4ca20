package bderrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFor(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindUnsafeIdentifier, http.StatusBadRequest},
		{KindAuthFailed, http.StatusUnauthorized},
		{KindNotFound, http.StatusNotFound},
		{KindQueryFailed, http.StatusBadRequest},
		{KindStorageFailed, http.StatusInternalServerError},
		{KindRehydrationFailed, http.StatusInternalServerError},
		{Kind("Unknown"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatusFor(c.kind), c.kind)
	}
}

func TestAuthFailed_NeverRevealsDetail(t *testing.T) {
	err := AuthFailed()
	assert.Equal(t, "authentication failed", err.Message)
	assert.Nil(t, err.Err)
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageFailed("upload snapshot", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "upload snapshot")
}

func TestAsAndKindOf(t *testing.T) {
	wrapped := NotFound("tenant missing")

	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindNotFound, got.Kind)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	plain := errors.New("not one of ours")
	_, ok = As(plain)
	assert.False(t, ok)
	assert.Equal(t, KindStorageFailed, KindOf(plain), "unclassified errors default to StorageFailed")
}

func TestUnsafeIdentifierMessageIncludesTheOffendingName(t *testing.T) {
	err := UnsafeIdentifier("Users; DROP TABLE X")
	assert.Contains(t, err.Message, "Users; DROP TABLE X")
	assert.Equal(t, KindUnsafeIdentifier, err.Kind)
}
