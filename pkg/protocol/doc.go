// Package protocol defines the wire records exchanged with a translation
// server: message identifiers, the fixed 8-byte header, memory requests and
// the configuration records sent once during the handshake.
//
// All records are encoded explicitly, little-endian, in declaration order
// and without padding, so the layout does not depend on the compiler or the
// host architecture.
package protocol
