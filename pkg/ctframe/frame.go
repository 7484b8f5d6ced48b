// Package ctframe encodes and decodes the framed ASCII protocol spoken by
// CT002 style meters: SOH STX <length> |field|field... ETX <xor checksum>.
package ctframe

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	SOH       byte = 0x01
	STX       byte = 0x02
	ETX       byte = 0x03
	Separator      = "|"

	minFrameSize = 10
	maxLenDigits = 4
)

var (
	ErrTooShort         = errors.New("too short")
	ErrMissingStart     = errors.New("missing SOH/STX")
	ErrInvalidLength    = errors.New("invalid length field")
	ErrLengthMismatch   = errors.New("length mismatch")
	ErrMissingETX       = errors.New("missing ETX")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidEncoding  = errors.New("invalid ASCII encoding")
)

// ResponseLabels is the field order of a meter response.
var ResponseLabels = []string{
	"meter_dev_type", "meter_mac_code", "hhm_dev_type", "hhm_mac_code",
	"A_phase_power", "B_phase_power", "C_phase_power", "total_power",
	"A_chrg_nb", "B_chrg_nb", "C_chrg_nb", "ABC_chrg_nb", "wifi_rssi", "info_idx",
	"x_chrg_power", "A_chrg_power", "B_chrg_power", "C_chrg_power", "ABC_chrg_power",
	"x_dchrg_power", "A_dchrg_power", "B_dchrg_power", "C_dchrg_power", "ABC_dchrg_power",
}

// Checksum is the XOR of every byte in data.
func Checksum(data []byte) byte {
	var xor byte
	for _, b := range data {
		xor ^= b
	}
	return xor
}

// ParseRequest validates a frame and returns its fields. The returned error
// wraps one of the package sentinels.
func ParseRequest(data []byte) ([]string, error) {
	if len(data) < minFrameSize {
		return nil, ErrTooShort
	}
	if data[0] != SOH || data[1] != STX {
		return nil, ErrMissingStart
	}
	sep := bytes.IndexByte(data[2:], Separator[0])
	if sep < 0 {
		return nil, fmt.Errorf("%w: no separator after length", ErrInvalidLength)
	}
	lengthField := string(data[2 : 2+sep])
	length, err := parseLength(lengthField)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLength, lengthField)
	}
	if length != len(data) {
		return nil, fmt.Errorf("%w (expected %d, got %d)", ErrLengthMismatch, length, len(data))
	}
	if data[len(data)-3] != ETX {
		return nil, ErrMissingETX
	}
	expected := Checksum(data[:len(data)-2])
	if !checksumMatches(expected, data[len(data)-2:]) {
		return nil, fmt.Errorf("%w (expected %02x, got %q)", ErrChecksumMismatch, expected, data[len(data)-2:])
	}
	body := data[4 : len(data)-3]
	for _, b := range body {
		if b > 0x7f {
			return nil, ErrInvalidEncoding
		}
	}
	fields := strings.Split(string(body), Separator)
	return fields[1:], nil
}

func parseLength(field string) (int, error) {
	if field == "" {
		return 0, ErrInvalidLength
	}
	for i := 0; i < len(field); i++ {
		if field[i] < '0' || field[i] > '9' {
			return 0, ErrInvalidLength
		}
	}
	return strconv.Atoi(field)
}

// checksumMatches compares case-insensitively. Checksums below 0x10 are also
// accepted when padded with a leading space instead of a zero.
func checksumMatches(expected byte, actual []byte) bool {
	want := fmt.Sprintf("%02x", expected)
	got := strings.ToLower(string(actual))
	if got == want {
		return true
	}
	return expected < 0x10 && got[0] == ' ' && got[1] == want[1]
}

// Encode assembles a frame carrying fields, computing the self-referential
// length prefix and trailing checksum.
func Encode(fields []string) []byte {
	body := Separator + strings.Join(fields, Separator)
	total := frameLength(len(body))

	frame := make([]byte, 0, total)
	frame = append(frame, SOH, STX)
	frame = strconv.AppendInt(frame, int64(total), 10)
	frame = append(frame, body...)
	frame = append(frame, ETX)
	return fmt.Appendf(frame, "%02x", Checksum(frame))
}

// frameLength finds the smallest digit count d such that the whole frame,
// d length digits included, is exactly d digits long.
func frameLength(bodyLen int) int {
	base := 2 + bodyLen + 1 + 2
	for d := 1; d <= maxLenDigits; d++ {
		if len(strconv.Itoa(base+d)) == d {
			return base + d
		}
	}
	return base + maxLenDigits
}

// Identity is the meter side of a response.
type Identity struct {
	CTType string
	CTMac  string
}

// BuildResponse answers request fields with the given per-phase power values.
func BuildResponse(request []string, id Identity, phaseA, phaseB, phaseC int) []byte {
	fields := make([]string, len(ResponseLabels))
	fields[0] = fieldAt(request, 0)
	fields[1] = fieldAt(request, 1)
	fields[2] = id.CTType
	fields[3] = id.CTMac
	fields[4] = strconv.Itoa(phaseA)
	fields[5] = strconv.Itoa(phaseB)
	fields[6] = strconv.Itoa(phaseC)
	fields[7] = strconv.Itoa(phaseA + phaseB + phaseC)
	for i := 8; i < len(fields); i++ {
		fields[i] = "0"
	}
	return Encode(fields)
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// Readable renders control bytes as labels for logging.
func Readable(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		switch {
		case b == SOH:
			sb.WriteString("<SOH>")
		case b == STX:
			sb.WriteString("<STX>")
		case b == ETX:
			sb.WriteString("<ETX>")
		case b >= 32 && b <= 126:
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "<0x%02X>", b)
		}
	}
	return sb.String()
}
