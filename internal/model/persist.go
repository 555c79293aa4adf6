package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnswersSnapshot is one autosave queued for persistence. Snapshots of the
// same attempt are applied in queue order, so the latest one wins.
type AnswersSnapshot struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Answers   Answers   `json:"answers"`
	SavedAt   time.Time `json:"saved_at"`
}

// OrderSnapshot is a presentation order queued for persistence. Order is the
// JSON form produced by the shuffle package.
type OrderSnapshot struct {
	AttemptID uuid.UUID       `json:"attempt_id"`
	Order     json.RawMessage `json:"order"`
}
