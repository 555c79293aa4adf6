package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditKind enumerates proctoring audit events.
type AuditKind string

const (
	AuditFocusLost        AuditKind = "focus_lost"
	AuditVisibilityHidden AuditKind = "visibility_hidden"
	AuditCopyPasteBlocked AuditKind = "copy_paste_blocked"
	AuditPhotoTaken       AuditKind = "photo_taken"
)

// IsViolation reports whether the kind counts toward the escalation threshold.
func (k AuditKind) IsViolation() bool {
	return k == AuditFocusLost || k == AuditVisibilityHidden
}

// AuditEvent is an append-only proctoring record. Never updated or deleted.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id"`
	AttemptID uuid.UUID      `json:"attempt_id"`
	ExamID    uuid.UUID      `json:"exam_id"`
	UserID    int            `json:"user_id"`
	Kind      AuditKind      `json:"kind"`
	At        time.Time      `json:"at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
