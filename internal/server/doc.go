// Package server wires configuration, logging, metrics, the PTY host,
// the session manager, and the HTTP/WebSocket surfaces into a running
// service.
package server
