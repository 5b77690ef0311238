// Package keycodec turns a device fingerprint and an expiry into a short,
// checksummed license key that can be read aloud or typed by hand.
//
// # Key Format
//
// A key is built from a compact JSON payload:
//
//	{"d":"<fingerprint>","e":<expiry epoch seconds>,"v":1}
//
// The payload is followed by "|" and the first 8 hex digits of
// MD5(payload || secret). The whole string is Base64 encoded, padding is
// removed, "+" becomes "P" and "/" becomes "S", the result is right-padded
// with "X" to a multiple of four and split into hyphen-joined groups of
// four, upper-cased.
//
// # Display Keys and Sealed Tokens
//
// The key handed to customers (Generate, Encode) keeps only the first five
// groups, so it is always 24 characters long and cannot be decoded on its
// own. Seal produces the same text without the truncation; the display key
// is a prefix of the sealed token and Decode accepts sealed tokens.
//
// Upper-casing and the P/S substitution are lossy, so Decode searches the
// small set of readings of every group, keeps the ones that still parse as
// a payload and returns the reading whose checksum verifies.
//
// The scheme detects transcription errors and casual edits. It is not a
// signature: anyone holding the secret can mint keys.
package keycodec
