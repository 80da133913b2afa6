// Package reference produces human-readable booking references of the form
// {PREFIX}{YYYY}-{TOKEN}.
package reference

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

const (
	alphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength = 6

	// MaxAttempts bounds the collision retry loop of callers.
	MaxAttempts = 10
)

// Generator creates booking references.
type Generator struct {
	prefix string
	now    func() time.Time
	random io.Reader
}

// NewGenerator creates a generator with the given prefix.
func NewGenerator(prefix string) *Generator {
	return &Generator{
		prefix: strings.ToUpper(strings.TrimSpace(prefix)),
		now:    time.Now,
		random: rand.Reader,
	}
}

// Next returns a fresh reference. Uniqueness is enforced by the database.
func (g *Generator) Next() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	token := make([]byte, tokenLength)
	for i := range token {
		n, err := rand.Int(g.random, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		token[i] = alphabet[n.Int64()]
	}
	return fmt.Sprintf("%s%d-%s", g.prefix, g.now().UTC().Year(), token), nil
}

// Valid reports whether s has the shape of a reference produced by g.
func (g *Generator) Valid(s string) bool {
	if !strings.HasPrefix(s, g.prefix) {
		return false
	}
	rest := s[len(g.prefix):]
	dash := strings.IndexByte(rest, '-')
	if dash != 4 || len(rest) != 4+1+tokenLength {
		return false
	}
	for _, c := range rest[:4] {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range rest[5:] {
		if !strings.ContainsRune(alphabet, c) {
			return false
		}
	}
	return true
}
