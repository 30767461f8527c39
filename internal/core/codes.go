package core

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Room codes are human-shareable: six characters from [A-Z0-9] in two
// groups, e.g. "7QF-K2A". Input is case-insensitive; storage and
// comparison always use the normalized uppercase form.
const roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9]{3}-[A-Z0-9]{3}$`)

// GenerateRoomCode draws 6 independent uniform characters from the
// charset. A fresh code is generated on every attempt; a code from a
// failed create is never reused.
func GenerateRoomCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room code: %w", err)
	}
	chars := make([]byte, 7)
	for i, b := range buf {
		pos := i
		if i >= 3 {
			pos++ // skip the separator slot
		}
		chars[pos] = roomCodeCharset[int(b)%len(roomCodeCharset)]
	}
	chars[3] = '-'
	return string(chars), nil
}

// NormalizeRoomCode trims surrounding whitespace and uppercases the
// code. It does not validate.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateRoomCode normalizes and checks the code format, returning
// the normalized code. The error is ErrInvalidRoomCode on bad input;
// no remote call has been made by the time this fails.
func ValidateRoomCode(code string) (string, error) {
	normalized := NormalizeRoomCode(code)
	if !roomCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomCode, code)
	}
	return normalized, nil
}
