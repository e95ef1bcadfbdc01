// Package web embeds the operator chat console and serves it with
// client-side routing: unknown paths fall back to index.html.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// Console returns an http.Handler serving the embedded console. Paths under
// /api/ and /ws/ are never rewritten, so a missing API route stays a 404.
func Console() http.Handler {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: embedded console missing: " + err.Error())
	}
	return consoleHandler(sub)
}

func consoleHandler(root fs.FS) http.Handler {
	files := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if f, err := root.Open(name); err == nil {
			if cerr := f.Close(); cerr != nil {
				slog.Debug("web: close embedded file", "path", name, "error", cerr)
			}
			w.Header().Set("Cache-Control", "no-cache")
			files.ServeHTTP(w, r)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		files.ServeHTTP(w, r2)
	})
}
