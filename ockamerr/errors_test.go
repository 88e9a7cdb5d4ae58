package ockamerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(OriginChannel, KindProtocol, "bad tag")
	assert.True(t, errors.Is(err, KindProtocol))
	assert.False(t, errors.Is(err, KindTimeout))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(OriginVault, KindNotFound, "key missing", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "underlying")
}
