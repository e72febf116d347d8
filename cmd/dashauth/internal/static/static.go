// Package static serves the login surface shown to anonymous clients.
package static

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed assets
var embedded embed.FS

const indexFile = "index.html"

// Default returns the embedded login page and its assets.
func Default() fs.FS {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}

// FS returns os.DirFS(dir) when dir is set, otherwise the embedded assets.
// A configured directory must exist and contain an index.html.
func FS(dir string) (fs.FS, error) {
	if dir == "" {
		return Default(), nil
	}
	fsys := os.DirFS(dir)
	if _, err := fs.Stat(fsys, indexFile); err != nil {
		return nil, fmt.Errorf("static dir %s: %w", dir, err)
	}
	return fsys, nil
}

// Handler serves regular files from fsys. "/" serves index.html; directories,
// missing files and paths escaping the root are 404.
func Handler(fsys fs.FS) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = indexFile
		}

		info, err := fs.Stat(fsys, name)
		if err != nil || !info.Mode().IsRegular() {
			if err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid) {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		http.ServeFileFS(w, r, fsys, name)
	})
}
