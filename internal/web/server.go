package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Server serves the built dashboard. Paths that do not name a file fall
// back to index.html so client-side routes work on reload.
type Server struct {
	Dir string
}

func (s *Server) Handler() http.Handler {
	fs := http.FileServer(http.Dir(s.Dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		index := filepath.Join(s.Dir, "index.html")
		if _, err := os.Stat(index); err != nil {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Frontend not built yet"))
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if name != "/" && !strings.HasSuffix(name, "/index.html") {
			if info, err := os.Stat(filepath.Join(s.Dir, filepath.FromSlash(name))); err == nil && !info.IsDir() {
				fs.ServeHTTP(w, r)
				return
			}
		}
		http.ServeFile(w, r, index)
	})
}
