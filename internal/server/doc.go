// Package server owns the lifecycle of the admin HTTP server: non-blocking
// start, graceful shutdown, and signal handling.
package server
