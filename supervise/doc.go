// Package supervise spawns and terminates remote peer subprocesses.
//
// A [Supervisor] resolves the peer executable (following one symlink
// level and detecting env-node launcher scripts), builds the child
// environment from the login-shell snapshot, and starts the child in
// its own process group so termination can address the whole tree.
// Every live child is recorded in a persistent registry; a host that
// crashed leaves records behind, and the next Supervisor reaps those
// orphans on startup.
package supervise
