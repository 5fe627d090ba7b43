// Package web serves the chat frontend embedded in the binary.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

type indexData struct {
	Title   string
	Version string
}

// Site renders the chat page and its static assets.
type Site struct {
	index   *template.Template
	static  http.Handler
	title   string
	version string
}

// New parses the embedded templates.
func New(title, version string) (*Site, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}
	return &Site{
		index:   tmpl,
		static:  http.StripPrefix("/static/", http.FileServer(http.FS(sub))),
		title:   title,
		version: version,
	}, nil
}

// Index handles GET /.
func (s *Site) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, indexData{Title: s.title, Version: s.version}); err != nil {
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

// Static handles GET /static/*.
func (s *Site) Static() http.Handler { return s.static }
