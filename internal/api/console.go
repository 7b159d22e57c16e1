package api

import (
	"io"
	"net/http"
	"time"
)

// handleConsole serves the embedded operator console at the root path.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	file, err := staticFiles.Open("static/index.html")
	if err != nil {
		http.Error(w, "console not available", http.StatusNotFound)
		return
	}
	defer file.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, "index.html", time.Time{}, file.(io.ReadSeeker))
}
