//go:build docs
// +build docs

// This serves the engine's bundled API documentation under /docs.

package services

import (
	"embed"
	"net/http"

	"github.com/gorilla/mux"
)

// true when this build carries the documentation endpoints
var HaveDocEndpoints bool = true

// the static documentation bundle produced by go generate
//
//go:embed docs
var docs embed.FS

// Registers a handler that serves the embedded documentation bundle.
func AddDocEndpoints(r *mux.Router) {
	docServer := http.FileServer(http.FS(docs))
	r.PathPrefix("/docs").Handler(docServer).Methods("GET")
}
