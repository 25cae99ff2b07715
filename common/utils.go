package common

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// GenerateRandomBytes generates a slice of random bytes of the specified size
func GenerateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %d random bytes: %w", size, err)
	}
	return b, nil
}

// RandomKey picks a nonzero obfuscation key.
func RandomKey() (uint64, error) {
	for {
		b, err := GenerateRandomBytes(1)
		if err != nil {
			return 0, err
		}
		if b[0] != 0 {
			return uint64(b[0]), nil
		}
	}
}

// MatchesPattern checks if a string matches any of the given exact names or prefixes
func MatchesPattern(target string, exactNames, prefixNames []string) bool {
	// Check exact matches
	for _, name := range exactNames {
		if name != "" && target == name {
			return true
		}
	}

	// Check prefix matches
	for _, prefix := range prefixNames {
		if prefix != "" && strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

// SectionName renders a fixed 8-byte section name, stopping at the first NUL.
func SectionName(raw [8]byte) string {
	for i, c := range raw {
		if c == 0 {
			return string(raw[:i])
		}
	}
	return string(raw[:])
}
