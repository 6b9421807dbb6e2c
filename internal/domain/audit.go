package domain

import "time"

// AuditAction names an entry in a transaction's audit trail.
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditApproved AuditAction = "approved"
	AuditRejected AuditAction = "rejected"
	AuditReviewed AuditAction = "reviewed"
)

// AuditEntry is one append-only record in a transaction's audit trail.
type AuditEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Action    AuditAction `json:"action"`
	Details   string      `json:"details"`
}

// AuditTrail is the response body of GET /transactions/{id}/audit.
type AuditTrail struct {
	Entries []AuditEntry `json:"audit_trail"`
}
