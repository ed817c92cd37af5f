package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	SessionCodeLen    = 6
	MinSessionCodeLen = 4
	MaxSessionCodeLen = 32
)

// Ambiguous glyphs (0/O, 1/I) are left out so codes survive being read aloud.
const sessionCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var ErrInvalidSessionCode = errors.New("invalid session code")

type SessionCode string

// Session is the ephemeral coordination object shared by the parties of one code.
type Session struct {
	Code      SessionCode `json:"code"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NormalizeSessionCode ensures consistent formatting (uppercase, trimmed).
func NormalizeSessionCode(code string) SessionCode {
	return SessionCode(strings.ToUpper(strings.TrimSpace(code)))
}

// ParseSessionCode normalizes and validates a caller supplied code.
func ParseSessionCode(code string) (SessionCode, error) {
	c := NormalizeSessionCode(code)
	if !c.Valid() {
		return "", ErrInvalidSessionCode
	}
	return c, nil
}

func (c SessionCode) Valid() bool {
	if len(c) < MinSessionCodeLen || len(c) > MaxSessionCodeLen {
		return false
	}
	for _, r := range c {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// GenerateSessionCode returns a random SessionCodeLen code.
func GenerateSessionCode() (SessionCode, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(sessionCodeAlphabet)))
	for n := 0; n < SessionCodeLen; n++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		b.WriteByte(sessionCodeAlphabet[n.Int64()])
	}
	return SessionCode(b.String()), nil
}
