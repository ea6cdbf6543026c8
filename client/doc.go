// Package client is the editor-side facade over a peer endpoint.
//
// A [Conn] installs the client routing table (file I/O, terminals,
// permission prompts) as the endpoint's handler and exposes typed
// wrappers for the agent-side methods: initialize, session creation
// and loading, prompt turns, and cancellation.
package client
