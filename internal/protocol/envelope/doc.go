// Package envelope owns the application message contract carried inside frames.
//
// Ownership boundary:
// - command codes and the tagged payload sum type
// - self-describing codecs (tlv default, cbor alternative)
//
// Decoding is permissive: a payload whose shape does not match its code, or
// whose tagged body cannot be parsed, still decodes. Callers validate the
// payload type before acting on it.
package envelope
