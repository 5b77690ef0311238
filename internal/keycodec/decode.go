package keycodec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

var rawStrict = base64.RawStdEncoding.Strict()

// minSealedLength is the length of the shortest sealed token without hyphens:
// an empty fingerprint, a one digit expiry and version, plus the checksum.
var minSealedLength = func() int {
	n := base64.RawStdEncoding.EncodedLen(len(`{"d":"","e":0,"v":0}|`) + checksumLen)
	if rem := n % groupSize; rem != 0 {
		n += groupSize - rem
	}
	return n
}()

// Decode recovers the payload from a sealed token produced by Seal with the
// same secret. Display keys are too short to decode and yield ErrMalformedKey.
func (c *Codec) Decode(key string) (Payload, error) {
	token, err := normalize(key)
	if err != nil {
		return Payload{}, err
	}
	want := strings.Join(splitGroups(token), "-")

	// Up to two trailing X characters may be filler rather than data.
	for k := 0; k <= 2; k++ {
		if k > 0 && !strings.HasSuffix(token, strings.Repeat(filler, k)) {
			break
		}
		d := &keyDecoder{codec: c, want: want, chunks: splitGroups(token[:len(token)-k])}
		if p, ok := d.walk(0); ok {
			return p, nil
		}
	}
	return Payload{}, ErrChecksumMismatch
}

// normalize validates grouping and alphabet and returns the key without
// hyphens, upper-cased.
func normalize(key string) (string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return "", ErrMalformedKey
	}
	var b strings.Builder
	for _, group := range strings.Split(key, "-") {
		if len(group) != groupSize {
			return "", ErrMalformedKey
		}
		for i := 0; i < len(group); i++ {
			ch := group[i]
			if !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') {
				return "", ErrMalformedKey
			}
		}
		b.WriteString(group)
	}
	if b.Len() < minSealedLength {
		return "", ErrMalformedKey
	}
	return b.String(), nil
}

func splitGroups(s string) []string {
	out := make([]string, 0, len(s)/groupSize+1)
	for len(s) > groupSize {
		out = append(out, s[:groupSize])
		s = s[groupSize:]
	}
	return append(out, s)
}

// keyDecoder walks the readings of each chunk depth first, pruning any
// prefix that cannot belong to a payload.
type keyDecoder struct {
	codec  *Codec
	want   string
	chunks []string
	buf    []byte
}

func (d *keyDecoder) walk(i int) (Payload, bool) {
	if i == len(d.chunks) {
		return d.finish()
	}
	for _, chunk := range readings(d.chunks[i]) {
		n := len(d.buf)
		d.buf = append(d.buf, chunk...)
		if scanPlaintext(d.buf) != scanBad {
			if p, ok := d.walk(i + 1); ok {
				return p, true
			}
		}
		d.buf = d.buf[:n]
	}
	return Payload{}, false
}

func (d *keyDecoder) finish() (Payload, bool) {
	if scanPlaintext(d.buf) != scanComplete {
		return Payload{}, false
	}
	sep := bytes.LastIndexByte(d.buf, '|')
	payload, sum := d.buf[:sep], string(d.buf[sep+1:])
	if d.codec.checksum(payload) != sum {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Payload{}, false
	}
	// Resealing rejects readings that verify but are not canonical.
	if d.codec.Seal(p) != d.want {
		return Payload{}, false
	}
	return p, true
}

// readings decodes every Base64 spelling of an upper-cased chunk.
func readings(chunk string) [][]byte {
	spellings := []string{""}
	for i := 0; i < len(chunk); i++ {
		alts := alternatives(chunk[i])
		next := make([]string, 0, len(spellings)*len(alts))
		for _, prefix := range spellings {
			for _, a := range alts {
				next = append(next, prefix+string(a))
			}
		}
		spellings = next
	}

	out := make([][]byte, 0, len(spellings))
	for _, s := range spellings {
		if b, err := rawStrict.DecodeString(s); err == nil {
			out = append(out, b)
		}
	}
	return out
}

func alternatives(ch byte) []byte {
	switch {
	case ch >= '0' && ch <= '9':
		return []byte{ch}
	case ch == 'P':
		return []byte{'P', 'p', '+'}
	case ch == 'S':
		return []byte{'S', 's', '/'}
	default:
		return []byte{ch, ch + ('a' - 'A')}
	}
}

const (
	scanBad = iota
	scanPartial
	scanComplete
)

const (
	stepOK = iota
	stepMore
	stepBad
)

// scanPlaintext classifies b against the grammar
//
//	{"d":"<FP>","e":<-?digits>,"v":<digits>}|<8 lowercase hex>
func scanPlaintext(b []byte) int {
	s := &plainScanner{b: b}
	steps := []func() int{
		s.literal(`{"d":"`),
		s.fingerprint,
		s.literal(`","e":`),
		s.integer(true),
		s.literal(`,"v":`),
		s.integer(false),
		s.literal(`}|`),
		s.checksum,
	}
	for _, step := range steps {
		switch step() {
		case stepMore:
			return scanPartial
		case stepBad:
			return scanBad
		}
	}
	return scanComplete
}

type plainScanner struct {
	b []byte
	i int
}

func (s *plainScanner) literal(lit string) func() int {
	return func() int {
		for j := 0; j < len(lit); j++ {
			if s.i == len(s.b) {
				return stepMore
			}
			if s.b[s.i] != lit[j] {
				return stepBad
			}
			s.i++
		}
		return stepOK
	}
}

// fingerprint consumes an upper-cased JSON string body up to its closing quote.
func (s *plainScanner) fingerprint() int {
	for {
		if s.i == len(s.b) {
			return stepMore
		}
		ch := s.b[s.i]
		switch {
		case ch == '"':
			return stepOK
		case ch == '\\':
			if s.i+1 == len(s.b) {
				return stepMore
			}
			switch s.b[s.i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
				s.i += 2
			case 'u':
				s.i += 2
				for k := 0; k < 4; k++ {
					if s.i == len(s.b) {
						return stepMore
					}
					if !isLowerHex(s.b[s.i]) {
						return stepBad
					}
					s.i++
				}
			default:
				return stepBad
			}
		case ch < 0x20 || ch >= 0x80:
			return stepBad
		case ch >= 'a' && ch <= 'z':
			return stepBad
		default:
			s.i++
		}
	}
}

func (s *plainScanner) integer(signed bool) func() int {
	return func() int {
		if signed && s.i < len(s.b) && s.b[s.i] == '-' {
			s.i++
		}
		start := s.i
		for s.i < len(s.b) && s.b[s.i] >= '0' && s.b[s.i] <= '9' {
			s.i++
		}
		if s.i == len(s.b) {
			return stepMore
		}
		if s.i == start {
			return stepBad
		}
		return stepOK
	}
}

func (s *plainScanner) checksum() int {
	for k := 0; k < checksumLen; k++ {
		if s.i == len(s.b) {
			return stepMore
		}
		if !isLowerHex(s.b[s.i]) {
			return stepBad
		}
		s.i++
	}
	if s.i != len(s.b) {
		return stepBad
	}
	return stepOK
}

func isLowerHex(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f')
}
