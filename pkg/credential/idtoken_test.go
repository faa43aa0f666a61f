package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueIDToken(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)

	token, err := codec.IssueIDToken("user@example.test", "client-audience", "https://github.sso.broker")
	require.NoError(t, err)

	claims, err := codec.ParseIDToken(token)
	require.NoError(t, err)

	assert.Equal(t, "https://github.sso.broker", claims["iss"])
	assert.Equal(t, "user@example.test", claims["sub"])
	assert.Equal(t, "client-audience", claims["aud"])
	assert.Equal(t, "user@example.test", claims["email"])
	assert.Equal(t, true, claims["email_verified"])

	iat, ok := claims["iat"].(float64)
	require.True(t, ok)
	exp, ok := claims["exp"].(float64)
	require.True(t, ok)
	assert.Equal(t, float64(3600), exp-iat)
}

func TestParseIDTokenWrongSecret(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)
	other, err := NewCodec("another-secret")
	require.NoError(t, err)

	token, err := codec.IssueIDToken("user@example.test", "aud", "iss")
	require.NoError(t, err)

	_, err = other.ParseIDToken(token)
	assert.Error(t, err)
}
