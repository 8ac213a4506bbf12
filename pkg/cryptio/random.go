package cryptio

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// RandomSource supplies cryptographically secure random bytes for IVs and salts.
type RandomSource interface {
	io.Reader
}

var (
	defaultRandomOnce sync.Once
	defaultRandom     RandomSource
)

// DefaultRandom returns the process-wide source backed by crypto/rand.
// It is created on first use.
func DefaultRandom() RandomSource {
	defaultRandomOnce.Do(func() {
		defaultRandom = rand.Reader
	})
	return defaultRandom
}

// NewSalt returns SaltSize fresh bytes from r, or from DefaultRandom when r is nil.
func NewSalt(r RandomSource) ([]byte, error) {
	if r == nil {
		r = DefaultRandom()
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
