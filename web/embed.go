// Package web embeds the chat console (dist/) and serves it as a
// single-page application.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// reservedPrefixes never fall back to the console page.
var reservedPrefixes = []string{"api/", "ws/"}

// SPAHandler serves the console. Unknown paths get index.html, except
// under the API and websocket prefixes where they get a 404.
func SPAHandler() http.Handler {
	console, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	files := http.FileServer(http.FS(console))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		for _, p := range reservedPrefixes {
			if strings.HasPrefix(name, p) {
				http.NotFound(w, r)
				return
			}
		}

		if name != "" && name != "index.html" && exists(console, name) {
			files.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		files.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	if err := f.Close(); err != nil {
		slog.Debug("web: failed to close embedded file", "path", name, "error", err)
	}
	return true
}
