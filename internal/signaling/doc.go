// Package signaling implements the relay's WebSocket control plane: a hub
// goroutine that owns the room and participant directories and brokers
// two-party call rendezvous, plus per-connection read/write pumps.
//
// SDP offers, answers and ICE candidates are opaque to the relay; it forwards
// them verbatim to the other room member and never touches media.
package signaling
