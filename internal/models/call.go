package models

import "time"

// Call kinds.
const (
	CallKindAudio = "audio"
	CallKindVideo = "video"
)

// Call statuses. A call starts ringing and ends in exactly one terminal
// status; it is never resurrected.
const (
	CallStatusRinging   = "ringing"
	CallStatusOngoing   = "ongoing"
	CallStatusCompleted = "completed"
	CallStatusMissed    = "missed"
	CallStatusRejected  = "rejected"
	CallStatusCancelled = "cancelled"
	CallStatusFailed    = "failed"
)

// Per-call participant states.
const (
	CallPartInvited  = "invited"
	CallPartJoined   = "joined"
	CallPartLeft     = "left"
	CallPartDeclined = "declined"
)

// Call is one signaling attempt. ChatID is optional: ad-hoc peer calls
// stand alone. TimeoutAt is the ring deadline enforced by the sweep.
type Call struct {
	ID              int        `db:"id" json:"id"`
	ChatID          *int       `db:"chat_id" json:"chat_id,omitempty"`
	CallerID        int        `db:"caller_id" json:"caller_id"`
	Kind            string     `db:"kind" json:"kind"`
	Status          string     `db:"status" json:"status"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	AnsweredAt      *time.Time `db:"answered_at" json:"answered_at,omitempty"`
	EndedAt         *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	DurationSeconds int        `db:"duration_seconds" json:"duration_seconds"`
	TimeoutAt       *time.Time `db:"timeout_at" json:"timeout_at,omitempty"`
}

// CallParticipant tracks one invited user's state within a call.
type CallParticipant struct {
	CallID   int        `db:"call_id" json:"call_id"`
	UserID   int        `db:"user_id" json:"user_id"`
	State    string     `db:"state" json:"state"`
	JoinedAt *time.Time `db:"joined_at" json:"joined_at,omitempty"`
	LeftAt   *time.Time `db:"left_at" json:"left_at,omitempty"`
}

// IsTerminal reports whether the status admits no further transitions.
func (c Call) IsTerminal() bool {
	switch c.Status {
	case CallStatusCompleted, CallStatusMissed, CallStatusRejected, CallStatusCancelled, CallStatusFailed:
		return true
	}
	return false
}
