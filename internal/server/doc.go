// Package server implements the HTTP and WebSocket surface of relaychat.
//
// The Hub keeps one live connection per user and delivers envelopes to it;
// each Client runs a read pump that decodes and dispatches inbound frames
// and a write pump that drains the connection's bounded send buffer. The
// remaining files cover configuration, origin checks, rate limiting,
// presence and routes.
package server
