// Package randsrc generates the random tokens used by the login flow.
package randsrc

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// StateBytes is the entropy of an anti-forgery state token.
const StateBytes = 16

// Source draws from crypto/rand.
type Source struct{}

func (p Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

func (p Source) randString(n int) string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	ret := make([]byte, n)
	for i := range n {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

// State returns a hex encoded 128-bit anti-forgery token.
func (p Source) State() string {
	return hex.EncodeToString(p.randBytes(StateBytes))
}

func (p Source) SessionID() string {
	return p.randString(32) // Entropy E = L * log2(63) = 32 * log2(63) = 191.3 bits
}
