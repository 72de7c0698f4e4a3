// Package server implements the WebSocket transport for the relaychat core.
//
// The implementation is organized into specialized files for clients,
// session supervision, HTTP handlers, routing, origin checks, and rate
// limiting to keep the codebase maintainable and testable as it grows.
package server
