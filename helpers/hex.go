package helpers

import (
	"encoding/hex"
	"strings"
)

// ParseHex decodes hex string, spaces are ignored so "44 00" works too.
// Empty input returns nil slice.
func ParseHex(s string) ([]byte, error) {
	s = strings.Replace(s, " ", "", -1)
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func MustHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}
