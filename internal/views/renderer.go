// Package views renders the server side pages of the portal.
package views

import (
	"embed"
	"html/template"
	"io"

	"github.com/SwissDataScienceCenter/renku-portal/internal/correlation"
	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFiles embed.FS

// parseTemplates loads every page, each file defines one named template.
func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFiles, "templates/*.html")
}

type TemplateRenderer struct {
	templates *template.Template
}

// Render executes the named template. Map data gets the request's correlation ID under
// "requestID" unless the caller already set one.
func (tr *TemplateRenderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	if values, ok := data.(map[string]any); ok && c != nil {
		if _, found := values["requestID"]; !found {
			values["requestID"] = correlation.ID(c)
		}
	}
	return tr.templates.ExecuteTemplate(w, name, data)
}

func (tr *TemplateRenderer) Register(e *echo.Echo) {
	e.Renderer = tr
}

func NewTemplateRenderer() (*TemplateRenderer, error) {
	templates, err := parseTemplates()
	if err != nil {
		return &TemplateRenderer{}, err
	}
	return &TemplateRenderer{templates: templates}, nil
}
