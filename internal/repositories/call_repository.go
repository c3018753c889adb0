package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

var (
	ErrCallNotFound       = apperr.NotFound("call not found")
	ErrCallerBusy         = apperr.Validation("caller already in an active call")
	ErrNotCallParticipant = apperr.Authorization("not a call participant")
	ErrCallTerminal       = apperr.StateViolation("call already ended")
)

const callColumns = `id, chat_id, caller_id, kind, status, started_at, answered_at,
    ended_at, duration_seconds, timeout_at`

// CallRepository drives the call lifecycle. Every transition is a
// compare-and-set on the expected prior status, so user-triggered
// transitions and the timeout sweep can race safely on the same row.
type CallRepository interface {
	Start(ctx context.Context, callerID int, chatID *int, participantIDs []int, kind string, ringTimeout time.Duration, groupCap int) (models.Call, error)
	Get(ctx context.Context, callID int) (models.Call, error)
	Participants(ctx context.Context, callID int) ([]models.CallParticipant, error)
	Accept(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error)
	Reject(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error)
	End(ctx context.Context, callID int, userID int, clientDuration *int, maxDuration time.Duration, now time.Time) (models.Call, error)
	Join(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error)
	Leave(ctx context.Context, callID int, userID int, maxDuration time.Duration, now time.Time) (models.Call, error)
	SweepTimeouts(ctx context.Context, now time.Time) ([]models.Call, error)
}

// CallRepo is a sqlx implementation of CallRepository.
type CallRepo struct {
	db *sqlx.DB
}

// NewCallRepo constructs a CallRepo.
func NewCallRepo(db *sqlx.DB) *CallRepo {
	return &CallRepo{db: db}
}

// Start creates a ringing call. participantIDs are the callees, excluding
// the caller. All validation happens before any row is written.
func (r *CallRepo) Start(ctx context.Context, callerID int, chatID *int, participantIDs []int, kind string, ringTimeout time.Duration, groupCap int) (models.Call, error) {
	if kind != models.CallKindAudio && kind != models.CallKindVideo {
		return models.Call{}, apperr.Validation("unknown call kind")
	}

	callees := make([]int, 0, len(participantIDs))
	seen := map[int]struct{}{callerID: {}}
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		callees = append(callees, id)
	}
	if len(callees) == 0 {
		return models.Call{}, apperr.Validation("call requires at least one other participant")
	}
	if len(callees)+1 > groupCap {
		return models.Call{}, apperr.Validation("group call participant cap exceeded")
	}

	busy, err := r.userInActiveCall(ctx, callerID)
	if err != nil {
		return models.Call{}, err
	}
	if busy {
		return models.Call{}, ErrCallerBusy
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Call{}, err
	}
	defer tx.Rollback()

	var call models.Call
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO calls (chat_id, caller_id, kind, status, timeout_at)
        VALUES ($1, $2, $3, 'ringing', $4) RETURNING `+callColumns,
		chatID, callerID, kind, time.Now().Add(ringTimeout)).StructScan(&call); err != nil {
		// Two concurrent starts by the same caller race past the busy
		// check; the partial unique index on active calls catches the loser.
		if isUniqueViolation(err) {
			return models.Call{}, ErrCallerBusy
		}
		return models.Call{}, err
	}

	// The caller counts as joined from the start.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO call_participants (call_id, user_id, state, joined_at) VALUES ($1, $2, 'joined', $3)`,
		call.ID, callerID, call.StartedAt); err != nil {
		return models.Call{}, err
	}
	for _, id := range callees {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO call_participants (call_id, user_id, state) VALUES ($1, $2, 'invited')`,
			call.ID, id); err != nil {
			return models.Call{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Call{}, err
	}
	return call, nil
}

// Get fetches a call.
func (r *CallRepo) Get(ctx context.Context, callID int) (models.Call, error) {
	var call models.Call
	err := r.db.GetContext(ctx, &call, `SELECT `+callColumns+` FROM calls WHERE id=$1`, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Call{}, ErrCallNotFound
	}
	return call, err
}

// Participants returns all participant rows of a call.
func (r *CallRepo) Participants(ctx context.Context, callID int) ([]models.CallParticipant, error) {
	var parts []models.CallParticipant
	err := r.db.SelectContext(ctx, &parts,
		`SELECT call_id, user_id, state, joined_at, left_at FROM call_participants
        WHERE call_id=$1 ORDER BY user_id`, callID)
	return parts, err
}

// Accept answers a ringing call. The first acceptor flips the status to
// ongoing; later acceptors on group calls join without re-transitioning.
func (r *CallRepo) Accept(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error) {
	call, err := r.Get(ctx, callID)
	if err != nil {
		return models.Call{}, err
	}
	if call.CallerID == userID {
		return models.Call{}, apperr.Validation("caller cannot accept their own call")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Call{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE call_participants SET state='joined', joined_at=$3
        WHERE call_id=$1 AND user_id=$2 AND state='invited'`, callID, userID, now)
	if err != nil {
		return models.Call{}, err
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return models.Call{}, err
	}
	if changed == 0 {
		exists, err := participantExists(ctx, tx, callID, userID)
		if err != nil {
			return models.Call{}, err
		}
		if !exists {
			return models.Call{}, ErrNotCallParticipant
		}
		return models.Call{}, apperr.StateViolation("already answered or declined")
	}

	// Guarded transition: only one acceptor can move ringing -> ongoing.
	res, err = tx.ExecContext(ctx,
		`UPDATE calls SET status='ongoing', answered_at=$2 WHERE id=$1 AND status='ringing'`,
		callID, now)
	if err != nil {
		return models.Call{}, err
	}
	transitioned, err := res.RowsAffected()
	if err != nil {
		return models.Call{}, err
	}
	if transitioned == 0 {
		// Someone else answered first, or the call already resolved.
		var status string
		if err := tx.GetContext(ctx, &status, `SELECT status FROM calls WHERE id=$1`, callID); err != nil {
			return models.Call{}, err
		}
		if status != models.CallStatusOngoing {
			return models.Call{}, apperr.StateViolation("call is not ringing")
		}
		group, err := isGroupCall(ctx, tx, callID)
		if err != nil {
			return models.Call{}, err
		}
		if !group {
			return models.Call{}, apperr.StateViolation("call already answered")
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Call{}, err
	}
	return r.Get(ctx, callID)
}

// Reject declines a ringing or ongoing call. The caller rejecting their own
// call cancels it; when the last undecided callee declines, the call
// resolves as missed.
func (r *CallRepo) Reject(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error) {
	call, err := r.Get(ctx, callID)
	if err != nil {
		return models.Call{}, err
	}
	if call.IsTerminal() {
		return models.Call{}, ErrCallTerminal
	}

	if userID == call.CallerID {
		res, err := r.db.ExecContext(ctx,
			`UPDATE calls SET status='cancelled', ended_at=$2
            WHERE id=$1 AND status IN ('ringing', 'ongoing')`, callID, now)
		if err != nil {
			return models.Call{}, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return models.Call{}, err
		} else if n == 0 {
			return models.Call{}, ErrCallTerminal
		}
		return r.Get(ctx, callID)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Call{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE call_participants SET state='declined'
        WHERE call_id=$1 AND user_id=$2 AND state='invited'`, callID, userID)
	if err != nil {
		return models.Call{}, err
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return models.Call{}, err
	}
	if changed == 0 {
		exists, err := participantExists(ctx, tx, callID, userID)
		if err != nil {
			return models.Call{}, err
		}
		if !exists {
			return models.Call{}, ErrNotCallParticipant
		}
		return models.Call{}, apperr.StateViolation("already answered or declined")
	}

	// When every callee has declined and nobody answered, the ring is over.
	var undecided int
	if err := tx.GetContext(ctx, &undecided,
		`SELECT COUNT(*) FROM call_participants
        WHERE call_id=$1 AND user_id <> $2 AND state IN ('invited', 'joined')`,
		callID, call.CallerID); err != nil {
		return models.Call{}, err
	}
	if undecided == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE calls SET status='missed', ended_at=$2 WHERE id=$1 AND status='ringing'`,
			callID, now); err != nil {
			return models.Call{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Call{}, err
	}
	return r.Get(ctx, callID)
}

// End finalizes a ringing or ongoing call. A call ended while still ringing
// with no acceptors resolves as missed, not completed.
func (r *CallRepo) End(ctx context.Context, callID int, userID int, clientDuration *int, maxDuration time.Duration, now time.Time) (models.Call, error) {
	call, err := r.Get(ctx, callID)
	if err != nil {
		return models.Call{}, err
	}
	if call.Status != models.CallStatusRinging && call.Status != models.CallStatusOngoing {
		return models.Call{}, apperr.StateViolation("call is not active")
	}
	if clientDuration != nil && time.Duration(*clientDuration)*time.Second > maxDuration {
		return models.Call{}, apperr.Validation("client duration exceeds maximum call duration")
	}

	exists, err := participantExists(ctx, r.db, callID, userID)
	if err != nil {
		return models.Call{}, err
	}
	if !exists {
		return models.Call{}, ErrNotCallParticipant
	}

	if call.Status == models.CallStatusRinging {
		res, err := r.db.ExecContext(ctx,
			`UPDATE calls SET status='missed', ended_at=$2 WHERE id=$1 AND status='ringing'`,
			callID, now)
		if err != nil {
			return models.Call{}, err
		}
		if n, err := res.RowsAffected(); err != nil {
			return models.Call{}, err
		} else if n == 0 {
			return models.Call{}, apperr.StateViolation("call is not ringing")
		}
		return r.Get(ctx, callID)
	}

	duration := CallDuration(call, now, maxDuration)
	res, err := r.db.ExecContext(ctx,
		`UPDATE calls SET status='completed', ended_at=$2, duration_seconds=$3
        WHERE id=$1 AND status='ongoing'`, callID, now, duration)
	if err != nil {
		return models.Call{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return models.Call{}, err
	} else if n == 0 {
		return models.Call{}, apperr.StateViolation("call is not ongoing")
	}
	return r.Get(ctx, callID)
}

// Join adds a listed participant to an ongoing group call without touching
// the top-level status.
func (r *CallRepo) Join(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error) {
	call, err := r.Get(ctx, callID)
	if err != nil {
		return models.Call{}, err
	}
	if call.Status != models.CallStatusOngoing {
		return models.Call{}, apperr.StateViolation("call is not ongoing")
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE call_participants SET state='joined', joined_at=$3, left_at=NULL
        WHERE call_id=$1 AND user_id=$2 AND state IN ('invited', 'left')`, callID, userID, now)
	if err != nil {
		return models.Call{}, err
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return models.Call{}, err
	}
	if changed == 0 {
		exists, err := participantExists(ctx, r.db, callID, userID)
		if err != nil {
			return models.Call{}, err
		}
		if !exists {
			return models.Call{}, ErrNotCallParticipant
		}
		return models.Call{}, apperr.StateViolation("already joined")
	}
	return r.Get(ctx, callID)
}

// Leave removes a joined participant. When the joined set becomes empty the
// call finalizes: duration computed, status completed.
func (r *CallRepo) Leave(ctx context.Context, callID int, userID int, maxDuration time.Duration, now time.Time) (models.Call, error) {
	call, err := r.Get(ctx, callID)
	if err != nil {
		return models.Call{}, err
	}
	if call.Status != models.CallStatusOngoing {
		return models.Call{}, apperr.StateViolation("call is not ongoing")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Call{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE call_participants SET state='left', left_at=$3
        WHERE call_id=$1 AND user_id=$2 AND state='joined'`, callID, userID, now)
	if err != nil {
		return models.Call{}, err
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return models.Call{}, err
	}
	if changed == 0 {
		exists, err := participantExists(ctx, tx, callID, userID)
		if err != nil {
			return models.Call{}, err
		}
		if !exists {
			return models.Call{}, ErrNotCallParticipant
		}
		return models.Call{}, apperr.StateViolation("not currently joined")
	}

	var joined int
	if err := tx.GetContext(ctx, &joined,
		`SELECT COUNT(*) FROM call_participants WHERE call_id=$1 AND state='joined'`, callID); err != nil {
		return models.Call{}, err
	}
	if joined == 0 {
		duration := CallDuration(call, now, maxDuration)
		if _, err := tx.ExecContext(ctx,
			`UPDATE calls SET status='completed', ended_at=$2, duration_seconds=$3
            WHERE id=$1 AND status='ongoing'`, callID, now, duration); err != nil {
			return models.Call{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Call{}, err
	}
	return r.Get(ctx, callID)
}

// SweepTimeouts resolves every call still ringing past its deadline as
// missed. The status guard in the update makes the sweep lose cleanly to a
// concurrent accept.
func (r *CallRepo) SweepTimeouts(ctx context.Context, now time.Time) ([]models.Call, error) {
	var missed []models.Call
	err := r.db.SelectContext(ctx, &missed,
		`UPDATE calls SET status='missed', ended_at=$1
        WHERE status='ringing' AND timeout_at IS NOT NULL AND timeout_at < $1
        RETURNING `+callColumns, now)
	return missed, err
}

func (r *CallRepo) userInActiveCall(ctx context.Context, userID int) (bool, error) {
	var busy bool
	err := r.db.GetContext(ctx, &busy,
		`SELECT EXISTS(
            SELECT 1 FROM calls c
            JOIN call_participants p ON p.call_id = c.id
            WHERE c.status IN ('ringing', 'ongoing')
            AND p.user_id=$1 AND p.state IN ('invited', 'joined'))`, userID)
	return busy, err
}

func participantExists(ctx context.Context, ext sqlx.ExtContext, callID int, userID int) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, ext, &exists,
		`SELECT EXISTS(SELECT 1 FROM call_participants WHERE call_id=$1 AND user_id=$2)`,
		callID, userID)
	return exists, err
}

func isGroupCall(ctx context.Context, ext sqlx.ExtContext, callID int) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, ext, &count,
		`SELECT COUNT(*) FROM call_participants WHERE call_id=$1`, callID)
	return count > 2, err
}

// CallDuration computes the duration of a call ending now, anchored at
// answer time when the call was answered, clamped to [0, max].
func CallDuration(call models.Call, endedAt time.Time, max time.Duration) int {
	anchor := call.StartedAt
	if call.AnsweredAt != nil {
		anchor = *call.AnsweredAt
	}
	d := endedAt.Sub(anchor)
	if d < 0 {
		d = 0
	}
	if d > max {
		d = max
	}
	return int(d / time.Second)
}
