package signing

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSigner(t *testing.T) {
	t.Run("empty key fail", func(t *testing.T) {
		_, err := New("")

		require.Error(t, err, "empty key must be rejected")
	})

	t.Run("long key is accepted", func(t *testing.T) {
		_, err := New(strings.Repeat("k", 100))

		require.NoError(t, err, "keys over blake2b limit should be folded, not rejected")
	})

	t.Run("sign and verify", func(t *testing.T) {
		signer, err := New("test-secret")
		require.NoError(t, err)

		id := uuid.New()
		userID := uuid.New()
		amount := decimal.NewFromFloat(12.5)
		createdAt := time.Now().UTC().Truncate(time.Microsecond)

		sig, err := signer.Sign(id, userID, "deposit", amount, createdAt)
		require.NoError(t, err)
		require.NotEmpty(t, sig)

		ok, err := signer.Verify(sig, id, userID, "deposit", amount, createdAt)
		require.NoError(t, err)
		require.True(t, ok, "signature should verify against the same fields")
	})

	t.Run("tampered fields fail verification", func(t *testing.T) {
		signer, err := New("test-secret")
		require.NoError(t, err)

		id := uuid.New()
		userID := uuid.New()
		amount := decimal.NewFromInt(100)
		createdAt := time.Now().UTC().Truncate(time.Microsecond)

		sig, err := signer.Sign(id, userID, "deposit", amount, createdAt)
		require.NoError(t, err)

		ok, err := signer.Verify(sig, id, userID, "deposit", decimal.NewFromInt(200), createdAt)
		require.NoError(t, err)
		require.False(t, ok, "changed amount must not verify")

		ok, err = signer.Verify(sig, id, userID, "wheel_prize", amount, createdAt)
		require.NoError(t, err)
		require.False(t, ok, "changed type must not verify")
	})

	t.Run("different keys do not cross verify", func(t *testing.T) {
		first, err := New("first-secret")
		require.NoError(t, err)
		second, err := New("second-secret")
		require.NoError(t, err)

		id := uuid.New()
		userID := uuid.New()
		amount := decimal.NewFromInt(1)
		createdAt := time.Now().UTC().Truncate(time.Microsecond)

		sig, err := first.Sign(id, userID, "deposit", amount, createdAt)
		require.NoError(t, err)

		ok, err := second.Verify(sig, id, userID, "deposit", amount, createdAt)
		require.NoError(t, err)
		require.False(t, ok)
	})
}
