// Package peer implements the JSON-RPC 2.0 multiplexer that owns one
// ACP connection and both directions of RPC on it.
//
// An [Endpoint] issues outbound requests with correlated ids, dispatches
// inbound requests to an installed [Handler], publishes inbound
// notifications to subscribers, and mirrors traffic to an optional
// debug [Tap]. Both ACP roles use the same endpoint; only the handler
// and the routed method set differ.
package peer
