package model

import (
	"errors"
	"time"
)

// ErrWatermarkMissing means the row could not be read back after losing a create race.
var ErrWatermarkMissing = errors.New("watermark missing after create race")

type WatermarkState struct {
	Address                string    `db:"address"`
	LastProcessedTimestamp int64     `db:"last_processed_timestamp"` // milliseconds
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

// EnsureOutcome tells the caller how Ensure obtained the watermark.
type EnsureOutcome int

const (
	EnsureExisting EnsureOutcome = iota
	EnsureCreated
	// EnsureLostRace means another writer created the row between our read and insert.
	EnsureLostRace
)

func (o EnsureOutcome) String() string {
	switch o {
	case EnsureExisting:
		return "existing"
	case EnsureCreated:
		return "created"
	case EnsureLostRace:
		return "lost_race"
	}
	return "unknown"
}
