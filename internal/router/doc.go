// Package router decides which listeners receive a speaker's audio frame,
// combining spatial proximity within one world with voice group overlays.
package router
