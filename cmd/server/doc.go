// Command server runs the terminal session host: a REST and WebSocket
// service that owns long-lived interactive shell sessions and executes
// commands on them.
package main
