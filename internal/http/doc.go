// Package http exposes the session manager as a REST API.
//
// Routes:
//
//	GET    /                      service banner
//	GET    /health                health check
//	GET    /stats                 metrics snapshot (JSON)
//	POST   /sessions              create a session (blocks until ready)
//	GET    /sessions              list sessions
//	GET    /sessions/:id          session info
//	POST   /sessions/:id/execute  run a command, returns output + exit code
//	POST   /sessions/:id/interrupt  cooperative ^C
//	POST   /sessions/:id/resize   change terminal dimensions
//	DELETE /sessions/:id          close a session
//
// The WebSocket attachment endpoint lives in package ws.
package http
