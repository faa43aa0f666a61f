package consent

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	p, err := NewPresenter()
	require.NoError(t, err)

	var buf bytes.Buffer
	err = p.Render(&buf, Data{
		Title:       "Authorization",
		Heading:     "Authorize Application",
		Description: "This application wants to access your account information.",
		AppName:     "Example App",
		Protocol:    "oidc",
		Provider:    "github",
		RedirectURI: "https://app.example.test/callback",
		AllowURL:    "https://github.sso.broker/consent?consent=allow&state=abc",
		DenyURL:     "https://github.sso.broker/consent?consent=deny&state=abc",
	})
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, "Example App")
	assert.Contains(t, html, "https://app.example.test/callback")
	assert.Contains(t, html, "consent=allow")
	assert.Contains(t, html, "consent=deny")
}

func TestRenderEscapesAppName(t *testing.T) {
	p, err := NewPresenter()
	require.NoError(t, err)

	var buf bytes.Buffer
	err = p.Render(&buf, Data{AppName: "<script>alert(1)</script>"})
	require.NoError(t, err)

	assert.NotContains(t, buf.String(), "<script>alert(1)</script>")
}
