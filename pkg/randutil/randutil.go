// Package randutil implements random utilities.
package randutil

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand"
)

const chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// String returns a random string of the given length.
func String(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = chars[mrand.Intn(len(chars))]
	}
	return string(b)
}

// Bytes returns cryptographically random bytes.
func Bytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = chars[mrand.Intn(len(chars))]
		}
	}
	return b
}

// Hex returns a random hex string of the given length.
func Hex(n int) string {
	s := hex.EncodeToString(Bytes(n))
	return s[:n]
}
