package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mystlabs/mystledger/internal/models"
)

type ReferralRepo struct {
	DB DBTX
}

const createReferralEvent = `-- name: CreateReferralEvent
INSERT INTO referral_events (id, user_id, level1_id, reward_level1, level2_id, reward_level2, amount_spent, spend_type, reference_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, user_id, level1_id, reward_level1, level2_id, reward_level2, amount_spent, spend_type, reference_id, created_at
`

func (r *ReferralRepo) CreateEvent(ctx context.Context, event models.ReferralEvent) (models.ReferralEvent, error) {
	rows, _ := r.DB.Query(ctx, createReferralEvent,
		event.ID, event.UserID,
		event.Level1ID, event.RewardLevel1,
		event.Level2ID, event.RewardLevel2,
		event.AmountSpent, event.SpendType, event.ReferenceID)
	created, err := pgx.CollectOneRow(rows, rowToReferralEvent)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const topReferrers = `-- name: TopReferrers
SELECT level1_id, SUM(reward_level1) AS rewards, COUNT(*) AS spends FROM referral_events
WHERE level1_id IS NOT NULL AND reward_level1 > 0 AND created_at >= $1
GROUP BY level1_id
ORDER BY rewards DESC
LIMIT $2
`

func (r *ReferralRepo) TopReferrers(ctx context.Context, since time.Time, limit int) ([]models.TopReferrer, error) {
	rows, _ := r.DB.Query(ctx, topReferrers, since, limit)
	referrers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TopReferrer, error) {
		var t models.TopReferrer
		err := row.Scan(&t.UserID, &t.Rewards, &t.Spends)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return referrers, nil
}

func rowToReferralEvent(row pgx.CollectableRow) (models.ReferralEvent, error) {
	var e models.ReferralEvent
	err := row.Scan(&e.ID, &e.UserID,
		&e.Level1ID, &e.RewardLevel1,
		&e.Level2ID, &e.RewardLevel2,
		&e.AmountSpent, &e.SpendType, &e.ReferenceID, &e.CreatedAt)
	return e, err
}
