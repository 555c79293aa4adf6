package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsMonitor allows following the live proctoring feed of an exam.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionAuditRead allows reading an attempt's audit trail and identity photos.
	PermissionAuditRead Permission = "audit:read"
)
