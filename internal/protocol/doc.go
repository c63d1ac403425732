// Package protocol groups the BandBridge wire layers.
//
// Layering:
// - frame: length-prefixed message boundaries on a byte stream
// - tlv: typed field primitives
// - envelope: command code plus tagged payload, TLV or CBOR encoded
package protocol
