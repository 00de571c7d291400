package server

import (
	"embed"
	"html/template"
)

//go:embed assets/templates/*.html
var templateFS embed.FS

//go:embed assets/static/manifest.json
var manifestJSON []byte

//go:embed assets/static/service_worker.js
var serviceWorkerJS []byte

func loadTemplates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "assets/templates/*.html"))
}
