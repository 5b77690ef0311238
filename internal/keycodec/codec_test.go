package keycodec

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow       = time.Unix(1700000000, 0)
	displayKeyForm = regexp.MustCompile(`^[A-Z0-9]{4}(-[A-Z0-9]{4}){4}$`)
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		want     string
	}{
		{"long identifier truncated", "4210ef496f68665f", "4210EF49"},
		{"exactly eight", "abcdefgh", "ABCDEFGH"},
		{"shorter kept whole", "abc", "ABC"},
		{"empty", "", ""},
		{"multibyte counted as characters", "gerätabcdef", "GERÄTABC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fingerprint(tt.deviceID))
		})
	}
}

func TestGenerateMatchesReferenceVector(t *testing.T) {
	c := New("")

	key := c.GenerateAt("4210EF496F68665F", 30, fixedNow)

	assert.Equal(t, "EYJK-IJOI-NDIX-MEVG-NDKI", key)
	assert.Len(t, key, 24)
	assert.Regexp(t, displayKeyForm, key)
	assert.NotContains(t, key, "+")
	assert.NotContains(t, key, "/")
	assert.NotContains(t, key, "=")
}

func TestSealMatchesReferenceVectors(t *testing.T) {
	c := New(DefaultSecret)

	tests := []struct {
		name string
		p    Payload
		want string
	}{
		{
			name: "eight character fingerprint",
			p:    Payload{Fingerprint: "4210EF49", ExpiresAt: 1702592000, Version: 1},
			want: "EYJK-IJOI-NDIX-MEVG-NDKI-LCJL-IJOX-NZAY-NTKY-MDAW-LCJ2-IJOX-FXXM-YTFL-NZG3-ZAXX",
		},
		{
			name: "short fingerprint",
			p:    Payload{Fingerprint: "ABC", ExpiresAt: 1699913600, Version: 1},
			want: "EYJK-IJOI-QUJD-IIWI-ZSI6-MTY5-OTKX-MZYW-MCWI-DII6-MX18-OTK5-OGUW-OTIX",
		},
		{
			name: "empty fingerprint",
			p:    Payload{Fingerprint: "", ExpiresAt: 0, Version: 1},
			want: "EYJK-IJOI-IIWI-ZSI6-MCWI-DII6-MX18-OWFI-OWFH-YTYX",
		},
		{
			name: "non-ascii fingerprint escaped",
			p:    Payload{Fingerprint: "GERÄTABC", ExpiresAt: 1700000000, Version: 1},
			want: "EYJK-IJOI-R0VS-XHUW-MGM0-VEFC-QYIS-IMUI-OJE3-MDAW-MDAW-MDAS-INYI-OJF9-FGNH-MZI5-MJCY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Seal(tt.p))
		})
	}
}

func TestGenerateIsDeterministicForFixedTime(t *testing.T) {
	c := New("secret")

	assert.Equal(t, c.GenerateAt("device-1234", 30, fixedNow), c.GenerateAt("device-1234", 30, fixedNow))
}

func TestSealChangesWithTime(t *testing.T) {
	c := New("secret")

	a := c.Seal(NewPayload("4210EF496F68665F", 30, fixedNow))
	b := c.Seal(NewPayload("4210EF496F68665F", 30, fixedNow.Add(time.Second)))

	assert.NotEqual(t, a, b)
}

func TestDisplayKeyOnlyCoversFingerprintForLongIdentifiers(t *testing.T) {
	c := New("secret")

	// Five groups hold 15 bytes, exactly {"d":"XXXXXXXX"
	a := c.GenerateAt("4210EF496F68665F", 30, fixedNow)
	b := c.GenerateAt("4210EF496F68665F", 365, fixedNow.Add(time.Hour))

	assert.Equal(t, a, b)
}

func TestGenerateUsesClock(t *testing.T) {
	c := New("secret", WithClock(func() time.Time { return fixedNow }))

	assert.Equal(t, c.GenerateAt("ABCDEFGH", 7, fixedNow), c.Generate("ABCDEFGH", 7))
}

func TestGenerateEmptyIdentifier(t *testing.T) {
	c := New("secret")

	key := c.GenerateAt("", 30, fixedNow)

	assert.Regexp(t, displayKeyForm, key)
	p, err := c.Decode(c.Seal(NewPayload("", 30, fixedNow)))
	require.NoError(t, err)
	assert.Empty(t, p.Fingerprint)
}

func TestDisplayKeyIsPrefixOfSealedToken(t *testing.T) {
	c := New("secret")
	p := NewPayload("4210EF496F68665F", 30, fixedNow)

	assert.True(t, strings.HasPrefix(c.Seal(p), c.Encode(p)))
}

func TestDecodeRoundTrip(t *testing.T) {
	c := New("round-trip-secret")

	tests := []struct {
		name     string
		deviceID string
		days     int
	}{
		{"hex identifier", "4210EF496F68665F", 30},
		{"lower case identifier", "deadbeefcafe", 365},
		{"short identifier", "ab", 1},
		{"empty identifier", "", 30},
		{"negative validity", "EXPIRED1", -10},
		{"punctuation", "A+B/C=D\"", 5},
		{"non-ascii", "gerätabcdef", 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := NewPayload(tt.deviceID, tt.days, fixedNow)

			got, err := c.Decode(c.Seal(want))

			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Equal(t, Fingerprint(tt.deviceID), got.Fingerprint)
			assert.Equal(t, fixedNow.Unix()+int64(tt.days)*86400, got.Expiry().Unix())
		})
	}
}

func TestDecodeAcceptsLowerCaseInput(t *testing.T) {
	c := New("secret")
	want := NewPayload("4210EF496F68665F", 30, fixedNow)

	got, err := c.Decode("  " + strings.ToLower(c.Seal(want)) + "\n")

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeDetectsSingleCharacterChanges(t *testing.T) {
	c := New("secret")
	token := c.Seal(NewPayload("4210EF496F68665F", 30, fixedNow))
	lastGroup := strings.LastIndex(token, "-") + 1

	for i := 0; i < len(token); i++ {
		if token[i] == '-' {
			continue
		}
		if i >= lastGroup && token[i] == 'X' {
			// trailing filler
			continue
		}
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]

		_, err := c.Decode(tampered)
		assert.ErrorIs(t, err, ErrChecksumMismatch, "position %d", i)
	}
}

func TestDecodeRejectsForeignSecret(t *testing.T) {
	issuer := New("issuer-secret")
	verifier := New("other-secret")

	_, err := verifier.Decode(issuer.Seal(NewPayload("4210EF496F68665F", 30, fixedNow)))

	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeMalformed(t *testing.T) {
	c := New("secret")

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"display key is truncated", c.GenerateAt("4210EF496F68665F", 30, fixedNow)},
		{"short group", "EYJK-IJO"},
		{"invalid characters", "EYJK-IJ+I-NDIX-MEVG-NDKI-LCJL-IJOX-NZAY-NTKY-MDAW"},
		{"double hyphen", "EYJK--IJOI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.key)
			assert.ErrorIs(t, err, ErrMalformedKey)
		})
	}
}

func TestVerify(t *testing.T) {
	c := New("secret")
	token := c.Seal(NewPayload("4210EF496F68665F", 30, fixedNow))

	assert.NoError(t, c.Verify(token))
	assert.ErrorIs(t, New("nope").Verify(token), ErrChecksumMismatch)
}
