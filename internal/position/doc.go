// Package position tracks each client's last-known 3-D position and world
// identifier. Purely last-write-wins; the external game process pushes
// updates and the proximity router reads them.
package position
