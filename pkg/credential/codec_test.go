package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodec(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)
	assert.NotNil(t, codec)

	_, err = NewCodec("")
	assert.Error(t, err)
}

func TestClientIDRoundTrip(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)

	tests := []struct {
		name         string
		clientName   string
		redirectURIs []string
	}{
		{
			name:         "single redirect uri",
			clientName:   "Demo",
			redirectURIs: []string{"https://app.test/cb"},
		},
		{
			name:         "multiple redirect uris",
			clientName:   "My App",
			redirectURIs: []string{"https://app.test/cb", "https://app.test/cb2"},
		},
		{
			name:         "name with special characters",
			clientName:   "Ärger & Söhne GmbH",
			redirectURIs: []string{"http://localhost:3000/callback"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientID, err := codec.IssueClientID(tt.clientName, tt.redirectURIs)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(clientID, "c"))

			identity, err := codec.VerifyClientID(clientID)
			require.NoError(t, err)
			assert.Equal(t, tt.clientName, identity.Name)
			assert.Equal(t, tt.redirectURIs, identity.RedirectURIs)
			assert.NotEmpty(t, identity.AppGUID)
			assert.False(t, identity.IssuedAt.IsZero())

			// Same token always recovers the same GUID.
			again, err := codec.VerifyClientID(clientID)
			require.NoError(t, err)
			assert.Equal(t, identity.AppGUID, again.AppGUID)
		})
	}
}

func TestVerifyClientIDRejectsTampering(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)

	clientID, err := codec.IssueClientID("Demo", []string{"https://app.test/cb"})
	require.NoError(t, err)

	// Flip a single character at every position after the type marker.
	for i := 1; i < len(clientID); i++ {
		mutated := []byte(clientID)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if string(mutated) == clientID {
			continue
		}
		_, err := codec.VerifyClientID(string(mutated))
		assert.Error(t, err, "position %d", i)
	}
}

func TestVerifyClientIDWrongSecret(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)
	other, err := NewCodec("another-secret")
	require.NoError(t, err)

	clientID, err := codec.IssueClientID("Demo", []string{"https://app.test/cb"})
	require.NoError(t, err)

	_, err = other.VerifyClientID(clientID)
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestClientSecretDeterministic(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)

	secret1 := codec.ClientSecret("4f9d0b6a-9f2a-4c41-90fb-0f0a3a1e8a77")
	secret2 := codec.ClientSecret("4f9d0b6a-9f2a-4c41-90fb-0f0a3a1e8a77")
	assert.Equal(t, secret1, secret2)
	assert.True(t, strings.HasPrefix(secret1, "s"))
	assert.Len(t, secret1, 33) // marker + 32 hex chars

	different := codec.ClientSecret("00000000-0000-0000-0000-000000000000")
	assert.NotEqual(t, secret1, different)
}

func TestVerifyClientCredentials(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)

	clientID, err := codec.IssueClientID("Demo", []string{"https://app.test/cb"})
	require.NoError(t, err)
	identity, err := codec.VerifyClientID(clientID)
	require.NoError(t, err)
	secret := codec.ClientSecret(identity.AppGUID)

	verified, err := codec.VerifyClientCredentials(clientID, secret)
	require.NoError(t, err)
	assert.Equal(t, "Demo", verified.Name)

	_, err = codec.VerifyClientCredentials(clientID, "swrongsecretwrongsecretwrongsecr")
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = codec.VerifyClientCredentials("cnotavalidtoken", secret)
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestHasRedirectURI(t *testing.T) {
	identity := &ClientIdentity{RedirectURIs: []string{"https://app.test/cb"}}
	assert.True(t, identity.HasRedirectURI("https://app.test/cb"))
	assert.False(t, identity.HasRedirectURI("https://evil.test/cb"))
	assert.False(t, identity.HasRedirectURI(""))
}

func TestPeekClientName(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)
	other, err := NewCodec("another-secret")
	require.NoError(t, err)

	clientID, err := codec.IssueClientID("Demo", []string{"https://app.test/cb"})
	require.NoError(t, err)

	// Peek works even without the right master secret.
	name, err := other.PeekClientName(clientID)
	require.NoError(t, err)
	assert.Equal(t, "Demo", name)

	_, err = other.PeekClientName("garbage")
	assert.Error(t, err)
}

func TestIssueAccessToken(t *testing.T) {
	codec, err := NewCodec("test-master-secret")
	require.NoError(t, err)

	token1, err := codec.IssueAccessToken()
	require.NoError(t, err)
	token2, err := codec.IssueAccessToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token1, "a"))
	assert.NotEqual(t, token1, token2)
}

func TestDecodeStrict(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}

	var p payload
	require.NoError(t, DecodeStrict([]byte(`{"email":"a@b.test"}`), &p))
	assert.Equal(t, "a@b.test", p.Email)

	err := DecodeStrict([]byte(`{"email":"a@b.test","extra":1}`), &p)
	assert.Error(t, err)
}
