// Package websocket implements RFC 6455 WebSocket protocol for real-time bidirectional communication.
//
// This package provides a synchronous, blocking-or-nonblocking-capable engine: the opening
// handshake state machine for both client and server roles, the frame codec (masking,
// fragmentation, payload length encoding), and the message-level session state machine
// (control-frame handling, ping/pong automation, close handshake, write backpressure).
//
// It takes ownership of an already-established byte-oriented duplex stream (plain TCP, TLS,
// or anything satisfying the Stream contract) and exposes message-level Read/Write/Close.
//
// RFC Reference: https://datatracker.ietf.org/doc/html/rfc6455
package websocket
