//go:build !docs
// +build !docs

// This build leaves the bundled API documentation out of the engine.

package services

import (
	"github.com/gorilla/mux"
)

// true when this build carries the documentation endpoints
var HaveDocEndpoints bool = false

// Registers nothing; documentation isn't bundled into this build.
func AddDocEndpoints(r *mux.Router) {
}
