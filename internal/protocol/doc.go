// Package protocol owns the bridge wire contract.
//
// Ownership boundary:
// - field-access helpers over decoded documents
// - decode dispatch from wire bytes to Endpoint calls
// - encoders from domain events to wire bytes
//
// Wire formats live in serializer, the vocabulary and per-op contracts in
// schema, and transport framing in frame.
package protocol
