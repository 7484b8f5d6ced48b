package ctframe

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fieldAlphabet = "abcdefABCDEF0123456789-_. "

func randomFields(rnd *rand.Rand) []string {
	n := 4 + rnd.IntN(27)
	fields := make([]string, n)
	for i := range fields {
		var sb strings.Builder
		for j := rnd.IntN(20); j > 0; j-- {
			sb.WriteByte(fieldAlphabet[rnd.IntN(len(fieldAlphabet))])
		}
		fields[i] = sb.String()
	}
	return fields
}

func TestEncodeParseRoundTrip(t *testing.T) {

	require := require.New(t)

	rnd := rand.New(rand.NewPCG(42, 7))
	for i := 0; i < 2000; i++ {
		fields := randomFields(rnd)
		frame := Encode(fields)
		parsed, err := ParseRequest(frame)
		require.NoError(err, "frame %q", frame)
		require.Equal(fields, parsed)
	}
}

func TestEncodeLengthIsSelfConsistent(t *testing.T) {

	assert := assert.New(t)

	for bodyLen := 1; bodyLen < 2000; bodyLen++ {
		total := frameLength(bodyLen)
		digits := len(strconv.Itoa(total))
		assert.Equal(2+digits+bodyLen+1+2, total, "body length %d", bodyLen)
	}
}

func TestBuildResponse(t *testing.T) {

	require := require.New(t)

	req := []string{"HMG-50", "001122334455", "HME-4", "009c17abcdef"}
	frame := BuildResponse(req, Identity{CTType: "HME-4", CTMac: "009c17abcdef"}, 120, -30, 7)

	fields, err := ParseRequest(frame)
	require.NoError(err)
	require.Len(fields, len(ResponseLabels))
	require.Equal([]string{"HMG-50", "001122334455", "HME-4", "009c17abcdef", "120", "-30", "7", "97"}, fields[:8])
	for _, f := range fields[8:] {
		require.Equal("0", f)
	}
	require.Equal(len(frame), mustAtoi(t, string(frame[2:strings.IndexByte(string(frame), '|')])))
}

func mustAtoi(t *testing.T, s string) int {
	v, err := strconv.Atoi(s)
	require.NoError(t, err)
	return v
}

// frameWithChecksum searches for a frame whose checksum equals want. Two
// free printable bytes reach every 7-bit XOR value.
func frameWithChecksum(t *testing.T, want byte) []byte {
	for a := byte(0x20); a <= 0x7e; a++ {
		for b := byte(0x20); b <= 0x7e; b++ {
			if a == '|' || b == '|' {
				continue
			}
			frame := Encode([]string{"HMG-50", "001122334455", "HME-4", "000000000000", string([]byte{a, b})})
			if Checksum(frame[:len(frame)-2]) == want {
				return frame
			}
		}
	}
	t.Fatalf("no frame with checksum %02x", want)
	return nil
}

func TestFrameWithChecksumReachesAllValues(t *testing.T) {

	assert := assert.New(t)

	for _, want := range []byte{0x00, 0x03, 0x0f, 0x13, 0x4b, 0x7f} {
		frame := frameWithChecksum(t, want)
		assert.Equal(fmt.Sprintf("%02x", want), string(frame[len(frame)-2:]))
	}
}

func TestChecksumSpacePadding(t *testing.T) {

	assert := assert.New(t)

	frame := frameWithChecksum(t, 0x03)
	assert.Equal("03", string(frame[len(frame)-2:]))

	_, err := ParseRequest(frame)
	assert.NoError(err)

	padded := append([]byte(nil), frame...)
	copy(padded[len(padded)-2:], " 3")
	_, err = ParseRequest(padded)
	assert.NoError(err)

	for _, bad := range []string{"13", " 4", "30", "  "} {
		corrupt := append([]byte(nil), frame...)
		copy(corrupt[len(corrupt)-2:], bad)
		_, err = ParseRequest(corrupt)
		assert.ErrorIs(err, ErrChecksumMismatch, bad)
	}
}

func TestChecksumSpacePaddingOnlyForSingleDigit(t *testing.T) {

	assert := assert.New(t)

	frame := frameWithChecksum(t, 0x13)
	copy(frame[len(frame)-2:], " 3")
	_, err := ParseRequest(frame)
	assert.ErrorIs(err, ErrChecksumMismatch)
}

func TestChecksumUppercase(t *testing.T) {

	assert := assert.New(t)

	frame := frameWithChecksum(t, 0x4b)
	copy(frame[len(frame)-2:], "4B")
	_, err := ParseRequest(frame)
	assert.NoError(err)
}

func TestParseRequestErrors(t *testing.T) {

	valid := Encode([]string{"HMG-50", "001122334455", "HME-4", "000000000000"})

	withByte := func(i int, b byte) []byte {
		out := append([]byte(nil), valid...)
		out[i] = b
		return out
	}

	cases := []struct {
		name  string
		frame []byte
		err   error
	}{
		{"too short", []byte{SOH, STX, '9', '|'}, ErrTooShort},
		{"missing soh", withByte(0, 'x'), ErrMissingStart},
		{"missing stx", withByte(1, 'x'), ErrMissingStart},
		{"no separator", []byte{SOH, STX, '1', '2', '3', '4', '5', '6', '7', ETX, '0', '0'}, ErrInvalidLength},
		{"bad length", append([]byte{SOH, STX, 'x', 'y'}, valid[4:]...), ErrInvalidLength},
		{"length mismatch", append(append([]byte(nil), valid...), 'z'), ErrLengthMismatch},
		{"missing etx", withByte(len(valid)-3, 'x'), ErrMissingETX},
		{"checksum", withByte(len(valid)-1, 'z'), ErrChecksumMismatch},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseRequest(c.frame)
			assert.ErrorIs(t, err, c.err)
		})
	}
}

func TestParseRequestRejectsNonASCII(t *testing.T) {

	assert := assert.New(t)

	frame := Encode([]string{"HMG-50", "00112233445\xe9"})
	_, err := ParseRequest(frame)
	assert.ErrorIs(err, ErrInvalidEncoding)
}

func TestReadable(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("<SOH><STX>12|a<ETX><0xFF>", Readable([]byte{SOH, STX, '1', '2', '|', 'a', ETX, 0xff}))
}

func FuzzParseRequest(f *testing.F) {
	f.Add(Encode([]string{"HMG-50", "001122334455", "HME-4", "000000000000"}))
	f.Add([]byte("hame"))
	f.Add([]byte{SOH, STX, '1', '0', '|', ETX, ' ', '3'})
	f.Fuzz(func(t *testing.T, data []byte) {
		fields, err := ParseRequest(data)
		if err != nil {
			return
		}
		reencoded := Encode(fields)
		if len(reencoded) < minFrameSize {
			return
		}
		again, err := ParseRequest(reencoded)
		if err != nil {
			t.Fatalf("re-encoded frame rejected: %v", err)
		}
		if fmt.Sprint(again) != fmt.Sprint(fields) {
			t.Fatalf("fields changed: %q != %q", again, fields)
		}
	})
}
