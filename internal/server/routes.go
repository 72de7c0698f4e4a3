// Package server wires HTTP handlers into a ServeMux for the relaychat
// application via routing helpers.
package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application
// routes: health check and the WebSocket endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HandleHealth)
	mux.HandleFunc("/ws", s.HandleWebSocket)
	return mux
}
