// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"crypto/rand"
)

// GenerateSecureRandom generates n cryptographically secure random bytes,
// used by internal/operator to draw fresh connector-tree preimages.
func GenerateSecureRandom(n int) ([]byte, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return nil, err
	}
	return bytes, nil
}
