package team

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

// keyAlphabet omits characters that are easy to confuse when a key is read
// aloud or copied by hand (0/O, 1/I/L).
const keyAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	DefaultKeyLength = 8
	minKeyLength     = 6
	maxKeyLength     = 32

	maxNameLength        = 100
	maxDescriptionLength = 500

	minMessageLength = 8
	maxMessageLength = 200
)

// GenerateKey returns a random team key of the given length drawn from an
// unambiguous upper-case alphabet. Uniqueness is enforced by the store.
func GenerateKey(length int) (string, error) {
	if length < minKeyLength || length > maxKeyLength {
		return "", fmt.Errorf("team key length must be between %d and %d, got %d", minKeyLength, maxKeyLength, length)
	}
	base := big.NewInt(int64(len(keyAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generating team key: %w", err)
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func checkLength(field, value string, limit int) error {
	if n := utf8.RuneCountInString(value); n > limit {
		return validationf("%s must be at most %d characters, got %d", field, limit, n)
	}
	return nil
}

// normalizeMessage trims a join request message and checks its bounds. An
// empty message is valid and means no message.
func normalizeMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", nil
	}
	n := utf8.RuneCountInString(msg)
	if n < minMessageLength || n > maxMessageLength {
		return "", validationf("message must be between %d and %d characters, got %d", minMessageLength, maxMessageLength, n)
	}
	return msg, nil
}
