package keycodec

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

// DefaultSecret is used when no secret is configured.
const DefaultSecret = "VFX_SECRET_2024_THOTOOL"

const (
	// PayloadVersion is the schema version embedded in every key.
	PayloadVersion = 1
	// FingerprintLength is the number of identifier characters kept.
	FingerprintLength = 8
	// DisplayGroups is the number of groups kept in a display key.
	DisplayGroups = 5

	groupSize     = 4
	checksumLen   = 8
	secondsPerDay = 86400
	filler        = "X"
)

var (
	// ErrMalformedKey is returned when a key is not made of four-character
	// [A-Z0-9] groups or is too short to hold a payload.
	ErrMalformedKey = errors.New("malformed license key")
	// ErrChecksumMismatch is returned when no reading of a well-formed key
	// parses as a payload with a valid checksum.
	ErrChecksumMismatch = errors.New("license key checksum mismatch")
)

var substitution = strings.NewReplacer("=", "", "+", "P", "/", "S")

// Payload is the data covered by the key checksum.
type Payload struct {
	Fingerprint string `json:"d"`
	ExpiresAt   int64  `json:"e"`
	Version     int    `json:"v"`
}

// Expiry returns the expiry as a UTC time.
func (p Payload) Expiry() time.Time {
	return time.Unix(p.ExpiresAt, 0).UTC()
}

// Codec generates and decodes license keys with a fixed secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used by Generate.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a codec. An empty secret falls back to DefaultSecret.
func New(secret string, opts ...Option) *Codec {
	if secret == "" {
		secret = DefaultSecret
	}
	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint returns the upper-cased first eight characters of a device
// identifier. Shorter identifiers are kept whole.
func Fingerprint(deviceID string) string {
	if utf8.RuneCountInString(deviceID) > FingerprintLength {
		deviceID = string([]rune(deviceID)[:FingerprintLength])
	}
	return strings.ToUpper(deviceID)
}

// Generate returns the display key for deviceID valid for validityDays
// from now. Negative durations produce an already expired key.
func (c *Codec) Generate(deviceID string, validityDays int) string {
	return c.GenerateAt(deviceID, validityDays, c.now())
}

// GenerateAt is Generate with an explicit current time.
func (c *Codec) GenerateAt(deviceID string, validityDays int, now time.Time) string {
	return c.Encode(NewPayload(deviceID, validityDays, now))
}

// NewPayload builds the payload Generate would embed.
func NewPayload(deviceID string, validityDays int, now time.Time) Payload {
	return Payload{
		Fingerprint: Fingerprint(deviceID),
		ExpiresAt:   now.Unix() + int64(validityDays)*secondsPerDay,
		Version:     PayloadVersion,
	}
}

// Encode returns the five-group display key for p.
func (c *Codec) Encode(p Payload) string {
	groups := c.groups(p)
	if len(groups) > DisplayGroups {
		groups = groups[:DisplayGroups]
	}
	return strings.Join(groups, "-")
}

// Seal returns the complete key for p, every group included.
func (c *Codec) Seal(p Payload) string {
	return strings.Join(c.groups(p), "-")
}

// Verify reports whether key is a sealed token minted with this codec's secret.
func (c *Codec) Verify(key string) error {
	_, err := c.Decode(key)
	return err
}

func (c *Codec) groups(p Payload) []string {
	encoded := base64.StdEncoding.EncodeToString(c.plaintext(p))
	encoded = substitution.Replace(encoded)
	if rem := len(encoded) % groupSize; rem != 0 {
		encoded += strings.Repeat(filler, groupSize-rem)
	}
	encoded = strings.ToUpper(encoded)

	groups := make([]string, 0, len(encoded)/groupSize)
	for i := 0; i < len(encoded); i += groupSize {
		groups = append(groups, encoded[i:i+groupSize])
	}
	return groups
}

// plaintext is payload + "|" + checksum.
func (c *Codec) plaintext(p Payload) []byte {
	payload := canonicalJSON(p)
	out := make([]byte, 0, len(payload)+1+checksumLen)
	out = append(out, payload...)
	out = append(out, '|')
	return append(out, c.checksum(payload)...)
}

func (c *Codec) checksum(payload []byte) string {
	h := md5.New()
	h.Write(payload)
	h.Write(c.secret)
	return hex.EncodeToString(h.Sum(nil))[:checksumLen]
}

// canonicalJSON encodes p compactly in d, e, v order with every non-ASCII
// character written as a \u escape.
func canonicalJSON(p Payload) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		// Payload only holds a string and two integers.
		panic(fmt.Sprintf("keycodec: encode payload: %v", err))
	}
	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func escapeNonASCII(b []byte) []byte {
	ascii := true
	for _, c := range b {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return b
	}

	var out bytes.Buffer
	for _, r := range string(b) {
		switch {
		case r < utf8.RuneSelf:
			out.WriteByte(byte(r))
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&out, `\u%04x`, r)
		}
	}
	return out.Bytes()
}
