package withdrawal

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultVoucherAlg = "HS256"
	defaultVoucherTTL = 72 * time.Hour
)

// VoucherClaims is what the external payout processor verifies before
// paying: which request, whose, where to and how much, at which rate.
type VoucherClaims struct {
	jwt.RegisteredClaims
	WithdrawalID    uuid.UUID `json:"wid"`
	UserID          uuid.UUID `json:"uid"`
	ExternalAddress string    `json:"addr"`
	ExternalAmount  string    `json:"amt"`
	ExchangeRate    string    `json:"rate"`
}

type voucherSigner struct {
	key []byte
	alg jwt.SigningMethod
	ttl time.Duration
}

func newVoucherSigner(secret string, ttl time.Duration) (*voucherSigner, error) {
	if secret == "" {
		return nil, errors.New("voucher secret must not be empty")
	}
	if ttl == 0 {
		ttl = defaultVoucherTTL
	}

	return &voucherSigner{
		key: []byte(secret),
		alg: jwt.GetSigningMethod(defaultVoucherAlg),
		ttl: ttl,
	}, nil
}

func (v *voucherSigner) Sign(withdrawalID, userID uuid.UUID, address string, externalAmount, rate decimal.Decimal) (string, error) {
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(v.alg, VoucherClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
		WithdrawalID:    withdrawalID,
		UserID:          userID,
		ExternalAddress: address,
		ExternalAmount:  externalAmount.String(),
		ExchangeRate:    rate.String(),
	})

	signed, err := token.SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("error while signing payout voucher. Err: %w", err)
	}

	return signed, nil
}

// VerifyVoucher parses and verifies a payout voucher with the same secret
// the processor was configured with.
func VerifyVoucher(voucher string, secret string) (VoucherClaims, error) {
	var claims VoucherClaims

	_, err := jwt.ParseWithClaims(voucher, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{defaultVoucherAlg}))
	if err != nil {
		return claims, fmt.Errorf("invalid payout voucher: %w", err)
	}

	return claims, nil
}
