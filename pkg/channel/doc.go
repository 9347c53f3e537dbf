// Package channel implements a reconnecting, receive-only websocket channel.
//
// A Channel owns at most one live connection at a time. Each well-formed
// inbound text frame is decoded as a JSON object and handed to the caller's
// handler; malformed frames are logged and dropped without disturbing the
// connection. Any connection loss, including a failed dial, schedules a new
// attempt after a fixed delay (1000ms by default, no backoff) until Close is
// called.
//
// Open returns immediately and never fails synchronously; connection
// establishment and message delivery happen asynchronously. Close cancels the
// pending reconnect timer and guarantees that no further attempts or handler
// invocations happen after it returns.
package channel
