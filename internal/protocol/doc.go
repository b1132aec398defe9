// Package protocol owns the Spread wire contract shared by every layer.
//
// Ownership boundary:
// - error taxonomy and daemon status codes
// - wire/ integer and byte-order primitives
// - names/ fixed-width name slots and text codec
// - frame/ service and data frame codec
// - handshake/ connect sequence
package protocol
