package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefreshSecret(t *testing.T) {
	first, err := NewRefreshSecret()
	require.NoError(t, err)
	second, err := NewRefreshSecret()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	decoded, err := base64.RawURLEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestHashToken(t *testing.T) {
	hash := HashToken("some-secret")

	assert.Len(t, hash, 64)
	assert.Equal(t, hash, HashToken("some-secret"))
	assert.NotEqual(t, hash, HashToken("other-secret"))
	assert.NotContains(t, hash, "some-secret")
}
