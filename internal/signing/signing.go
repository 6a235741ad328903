// Package signing produces the MAC stored with every ledger entry. The
// ledger is an append-only signed log: entries carry a keyed blake2b digest
// over their immutable fields so the reconciler can detect rows altered
// behind the engine's back.
package signing

import (
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
)

type Signer struct {
	key []byte
}

func New(key string) (*Signer, error) {
	if key == "" {
		return nil, errors.New("signing key must not be empty")
	}

	// blake2b accepts keys up to 64 bytes only
	raw := []byte(key)
	if len(raw) > 64 {
		sum := blake2b.Sum256(raw)
		raw = sum[:]
	}

	return &Signer{key: raw}, nil
}

// Sign computes the MAC over the fields that make a ledger entry unique.
// CreatedAt is truncated to microseconds to match postgres timestamp
// precision, so a row read back verifies against the same digest.
func (s *Signer) Sign(id uuid.UUID, userID uuid.UUID, entryType string, amount decimal.Decimal, createdAt time.Time) ([]byte, error) {
	mac, err := blake2b.New256(s.key)
	if err != nil {
		return nil, fmt.Errorf("error while creating blake2b mac. Err: %w", err)
	}

	payload := fmt.Sprintf(
		"%s|%s|%s|%s|%d",
		id, userID, entryType, amount.String(), createdAt.UTC().Truncate(time.Microsecond).UnixMicro(),
	)

	_, err = mac.Write([]byte(payload))
	if err != nil {
		return nil, err
	}

	return mac.Sum(nil), nil
}

// Verify reports whether sig matches the entry fields.
func (s *Signer) Verify(sig []byte, id uuid.UUID, userID uuid.UUID, entryType string, amount decimal.Decimal, createdAt time.Time) (bool, error) {
	expected, err := s.Sign(id, userID, entryType, amount, createdAt)
	if err != nil {
		return false, err
	}

	return hmac.Equal(sig, expected), nil
}
