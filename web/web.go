// Package web renders the documents the bridge hands to the browser.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var content embed.FS

var bootstrapTemplate = template.Must(template.ParseFS(content, "templates/bootstrap.html"))

// Bootstrap is the data for the post-login bootstrap document. The document
// stores Token under TokenKey in localStorage, sets the flag cookie for
// MaxAge seconds and replaces the location with Target plus a cache-busting
// timestamp.
type Bootstrap struct {
	Nonce      string
	TokenKey   string
	Token      string
	FlagCookie string
	MaxAge     int
	Target     string
}

// RenderBootstrap writes the bootstrap document. Every value is escaped for
// the context it lands in, so Token can never break out of the script.
func RenderBootstrap(w io.Writer, data Bootstrap) error {
	if data.Nonce == "" {
		return fmt.Errorf("bootstrap document requires a CSP nonce")
	}
	if err := bootstrapTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("rendering bootstrap document: %w", err)
	}
	return nil
}
