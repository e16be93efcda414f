// Package httpserver constructs the custodia API server.
package httpserver

import (
	"net/http"
	"time"
)

// New returns the API server. Header reads and idle keep-alives are
// bounded so a stalled client cannot pin a connection; per-request
// deadlines come from the router's timeout middleware.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
