// Package token generates short base62 crawl ids.
package token

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// DefaultLength is the crawl id length. 62^6 is about 5.7e10 ids.
const DefaultLength = 6

// Generator creates fixed-length base62 tokens from random UUID bytes.
type Generator struct {
	length int
}

// New creates a Generator producing ids of the given length.
// Non-positive lengths fall back to DefaultLength.
func New(length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{length: length}
}

// NewID returns a random base62 token.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	n := new(big.Int).SetBytes(id[:])
	base := big.NewInt(int64(len(alphabet)))
	mod := new(big.Int)

	out := make([]byte, g.length)
	for i := range out {
		n.DivMod(n, base, mod)
		out[i] = alphabet[mod.Int64()]
	}
	return string(out), nil
}
