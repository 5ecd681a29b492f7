// Package session maintains the authoritative registry of connected
// clients: identity, remote address, last-seen time, and the per-session
// codec pipeline. State is sharded across independent locks so many
// concurrent senders do not contend on one mutex.
package session
