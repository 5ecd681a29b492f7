// Package protocol implements the relay's binary wire format.
// Every datagram starts with a one-byte type tag followed by the sender's
// 128-bit client identifier; the remainder is type-specific. Decoding is
// pure and allocation-light so malformed traffic can be rejected cheaply
// on the hot path.
package protocol
