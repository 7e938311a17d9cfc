// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws to receive the job and run
// events of one run as they are published.
package websocket
