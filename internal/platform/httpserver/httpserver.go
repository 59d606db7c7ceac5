package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server. WriteTimeout covers the slowest command, an
// analysis call bounded by analysisTimeout.
func New(addr string, handler http.Handler, analysisTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      analysisTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
