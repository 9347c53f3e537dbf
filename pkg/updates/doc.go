// Package updates fans application state snapshots out to websocket clients:
// a connection pool, the upgrade handler for the update endpoint, and a
// forwarder that bridges a message subscriber onto the pool.
package updates
