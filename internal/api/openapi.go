// SPDX-License-Identifier: MIT

package api

import (
	_ "embed"
	"net/http"
)

// openAPIDocument describes every route under APIPrefix plus the health
// endpoints. Route parity with the chi tree is enforced by tests.
//
//go:embed openapi.yaml
var openAPIDocument []byte

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(openAPIDocument)
}
