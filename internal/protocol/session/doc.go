// Package session owns per-connection reliability helpers for the bridge.
//
// Ownership boundary:
// - connection timeouts, keepalive and send queue sizing
// - dial retry/backoff
// - pending relayed service calls
package session
