// Package voicegroup manages voice groups: membership, isolation,
// password protection, and lifecycle. An isolated group restricts audio to
// its members regardless of distance; a non-isolated group lets members
// hear each other in addition to proximity listeners.
package voicegroup
