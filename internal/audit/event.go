package audit

import "time"

// Action names a security-relevant session event.
type Action string

const (
	ActionSessionIssued     Action = "session.issued"
	ActionSessionRotated    Action = "session.rotated"
	ActionReuseDetected     Action = "session.reuse_detected"
	ActionSessionRevoked    Action = "session.revoked"
	ActionSessionRevokedAll Action = "session.revoked_all"
	ActionLoginFailed       Action = "auth.login_failed"
)

// Event is one audit entry. Fingerprint is truncated before it leaves the process.
type Event struct {
	ID          string    `json:"id"`
	Action      Action    `json:"action"`
	UserID      string    `json:"user_id,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Count       int64     `json:"count,omitempty"`
	At          time.Time `json:"at"`
}
