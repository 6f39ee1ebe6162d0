// Package session owns the edge<->host transport vocabulary above raw
// framing: hello/ack handshake, alarm and health control messages, the video
// frame wire shape, and reconnect backoff primitives.
package session
