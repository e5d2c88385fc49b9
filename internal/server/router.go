package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) (http.Handler, error) {
	mux := http.NewServeMux()
	m := s.metrics
	mux.HandleFunc("/upload", m.instrument("upload", s.handleUpload))
	mux.HandleFunc("/generate", m.instrument("generate", s.handleGenerate))
	mux.HandleFunc("/preview", m.instrument("preview", s.handlePreview))
	mux.HandleFunc("/verify", m.instrument("verify", s.handleVerify))
	mux.HandleFunc("/fonts", m.instrument("fonts", s.handleFonts))
	mux.HandleFunc("/artifacts/", m.instrument("artifacts", s.handleArtifactDownload))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", m.handler())
	ui, err := newUIHandler()
	if err != nil {
		return nil, err
	}
	mux.Handle("/", ui)
	return mux, nil
}
