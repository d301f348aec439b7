package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// handleSPA serves the device client from dir. Unknown paths get
// index.html so client-side routes survive a reload.
func handleSPA(dir string) http.HandlerFunc {
	root := os.DirFS(dir)
	files := http.FileServerFS(root)

	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" {
			name = "."
		}
		info, err := fs.Stat(root, name)
		if err == nil && !info.IsDir() {
			files.ServeHTTP(w, r)
			return
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid) {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		http.ServeFileFS(w, r, root, "index.html")
	}
}
