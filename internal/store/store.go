// Package store reserves session codes handed out by the REST api so two
// sessions never get the same code while it is live.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Pairing/internal/domain"
)

var ErrCodeSpaceExhausted = errors.New("could not reserve a free session code")

const reserveAttempts = 8

type CodeStore interface {
	// Reserve claims code for ttl. It reports false when code is taken.
	Reserve(ctx context.Context, code domain.SessionCode, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, code domain.SessionCode) (bool, error)
	Release(ctx context.Context, code domain.SessionCode) error
	Close() error
}

// NewCode generates and reserves a fresh code.
func NewCode(ctx context.Context, s CodeStore, ttl time.Duration) (domain.SessionCode, error) {
	for n := 0; n < reserveAttempts; n++ {
		code, err := domain.GenerateSessionCode()
		if err != nil {
			return "", err
		}
		ok, err := s.Reserve(ctx, code, ttl)
		if err != nil {
			return "", fmt.Errorf("reserve %s: %w", code, err)
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
