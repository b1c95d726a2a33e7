package api

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

var docsTmpl = template.Must(template.New("docs").Parse(`<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}} {{.Version}}</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0;">
  <elements-api apiDescriptionUrl="{{.SpecURL}}" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" darkMode />
</body>
</html>`))

// docsHandler renders the API reference page once and serves it as-is.
func docsHandler(title, version, specURL string) http.HandlerFunc {
	var buf bytes.Buffer
	err := docsTmpl.Execute(&buf, struct{ Title, Version, SpecURL string }{title, version, specURL})
	if err != nil {
		slog.Error("render docs page", "error", err)
	}
	page := buf.Bytes()
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(page); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}
