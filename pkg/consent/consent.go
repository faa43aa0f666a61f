package consent

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed consent.html
var consentTemplate string

// Data carries everything the consent page displays. AllowURL and DenyURL
// already contain the encoded state; the page only links to them.
type Data struct {
	Title       string
	Heading     string
	Description string
	AppName     string
	Protocol    string
	Provider    string
	RedirectURI string
	AllowURL    string
	DenyURL     string
}

// Presenter renders the consent page.
type Presenter struct {
	tmpl *template.Template
}

// NewPresenter parses the embedded template. Parsing happens once at
// construction so a broken template is caught at startup.
func NewPresenter() (*Presenter, error) {
	tmpl, err := template.New("consent.html").Parse(consentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse consent template: %w", err)
	}
	return &Presenter{tmpl: tmpl}, nil
}

// Render writes the consent page for the given data.
func (p *Presenter) Render(w io.Writer, data Data) error {
	if err := p.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render consent page: %w", err)
	}
	return nil
}
