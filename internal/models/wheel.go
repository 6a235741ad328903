package models

import (
	"time"

	"github.com/google/uuid"
)

type WheelSpin struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PrizeAwarded string
	CreatedAt    time.Time
}
