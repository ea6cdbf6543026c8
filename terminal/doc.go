// Package terminal runs shell commands on behalf of the remote peer
// and tracks them as addressable sessions.
//
// A [Manager] spawns each command with stdout and stderr merged into a
// byte-capped rolling buffer, hands back an opaque id, and exposes
// output retrieval, exit waiting, kill, and release. Released sessions
// keep their final output readable through a bounded cache after the
// child is gone.
package terminal
