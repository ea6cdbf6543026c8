// Package acpeer provides the shared vocabulary for a bidirectional
// JSON-RPC 2.0 peer runtime speaking the Agent Client Protocol (ACP).
//
// ACP is newline-delimited JSON-RPC 2.0 over a byte stream — most commonly
// the standard streams of a child process. One connection simultaneously
// carries outbound requests awaiting responses, inbound requests dispatched
// to local handlers, and one-way notifications in both directions.
//
// The root package defines the wire vocabulary and error vocabulary shared
// by both roles:
//
//   - [Request], [Response], [Notification] — the envelope tagged union
//   - [RequestID] — an integer-or-string correlation id, usable as a map key
//   - [FrameReader] — extracts whole JSON values from a noisy byte stream
//   - [RPCError] — a peer-reported JSON-RPC error object
//   - Sentinel errors ([ErrPeerNotRunning], [ErrConnClosed], …)
//
// Feature packages build on this vocabulary:
//
//   - peer — the Endpoint multiplexer owning one connection
//   - transport — byte-stream transports (child stdio, websocket)
//   - supervise — subprocess supervisor with a persistent orphan registry
//   - terminal — shell-command sessions run on behalf of the remote peer
//   - shellenv — cached login-shell environment snapshot
//   - client, agent — role facades with the routed ACP method sets
//
// # Quick Start
//
//	sup, err := supervise.New()
//	if err != nil { log.Fatal(err) }
//	proc, err := sup.Start(supervise.Spawn{Path: "my-agent"})
//	if err != nil { log.Fatal(err) }
//	defer proc.Terminate(ctx)
//
//	ep := peer.New(proc.Transport())
//	defer ep.Close()
//	conn := client.Attach(ep)
//	sess, err := conn.NewSession(ctx, acpeer.NewSessionParams{CWD: "/repo"})
package acpeer
