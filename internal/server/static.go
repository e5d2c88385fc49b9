package server

import (
	"fmt"
	"io/fs"
	"net/http"

	"example.com/certgate/internal/common"
	ui "example.com/certgate/web/ui"
)

// newUIHandler serves the embedded form at "/". The page is read once and
// tagged with its SHA-256 so browsers revalidate instead of refetching.
func newUIHandler() (http.Handler, error) {
	page, err := fs.ReadFile(ui.Files, "index.html")
	if err != nil {
		return nil, fmt.Errorf("ui: %w", err)
	}
	etag := `"` + common.Sha256OfBytes(page)[:16] + `"`
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", fmt.Sprint(len(page)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(page)
		}
	}), nil
}
