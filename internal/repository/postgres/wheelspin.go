package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mystlabs/mystledger/internal/models"
)

type WheelSpinRepo struct {
	DB DBTX
}

const createWheelSpin = `-- name: CreateWheelSpin
INSERT INTO wheel_spins (id, user_id, prize_awarded)
VALUES ($1, $2, $3)
RETURNING id, user_id, prize_awarded, created_at
`

func (r *WheelSpinRepo) Create(ctx context.Context, spin models.WheelSpin) (models.WheelSpin, error) {
	rows, _ := r.DB.Query(ctx, createWheelSpin, spin.ID, spin.UserID, spin.PrizeAwarded)
	created, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.WheelSpin, error) {
		var s models.WheelSpin
		err := row.Scan(&s.ID, &s.UserID, &s.PrizeAwarded, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const countSpinsSince = `-- name: CountSpinsSince
SELECT COUNT(*) FROM wheel_spins
WHERE user_id = $1 AND created_at >= $2
`

func (r *WheelSpinRepo) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.DB.QueryRow(ctx, countSpinsSince, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return count, nil
}
