// Package server owns the relay's network surfaces: the UDP transport loop
// that receives, routes, and fans out voice frames, and the HTTP server for
// monitoring and the position/group facts feed.
package server
