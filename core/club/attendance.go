package club

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session already closed")
	ErrInvalidStatus   = errors.New("invalid attendance status")
	ErrNotMember       = errors.New("student is not a member of this group")
)

// Notifier delivers fire-and-forget attendance notices to linked parents.
type Notifier interface {
	NotifyAttendance(studentID string, status Status, checkIn string, coins int)
}

// AttendanceEngine drives the per-(group, date) session state machine:
// absent -> open (lazily created) -> closed (terminal). Rewards stay pending
// on the records until Close materializes them into the ledger exactly once.
type AttendanceEngine struct {
	repo     *Repository
	notifier Notifier // optional
	nowFunc  func() time.Time
}

func NewAttendanceEngine(repo *Repository, notifier Notifier) *AttendanceEngine {
	return &AttendanceEngine{repo: repo, notifier: notifier, nowFunc: time.Now}
}

// Open returns the session for (groupID, date), creating it on first access
// with the group's configured time window. Never duplicates: a second call
// for the same pair returns the same session.
func (e *AttendanceEngine) Open(groupID, date string) (Session, error) {
	group, ok := e.repo.GroupByID(groupID)
	if !ok {
		return Session{}, ErrGroupNotFound
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Session{}, pkgerrors.Wrap(err, "parsing session date")
	}

	sessions := e.repo.Sessions()
	for _, s := range sessions {
		if s.GroupID == groupID && s.Date == date {
			return s, nil
		}
	}

	session := Session{
		ID:        e.repo.GenerateID(),
		GroupID:   groupID,
		Date:      date,
		StartTime: group.StartTime,
		EndTime:   group.EndTime,
	}
	if err := e.repo.SaveSessions(append(sessions, session)); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Mark sets or overwrites the student's record for the session. Re-marking
// resets the pending flag; the check-in time is stamped with local wall-clock
// time except for ABSENT.
func (e *AttendanceEngine) Mark(sessionID, studentID string, status Status) (Record, error) {
	if !status.Valid() {
		return Record{}, ErrInvalidStatus
	}
	session, ok := e.sessionByID(sessionID)
	if !ok {
		return Record{}, ErrSessionNotFound
	}
	if session.IsClosed {
		return Record{}, ErrSessionClosed
	}

	isMember := false
	for _, m := range e.repo.ActiveMembers(session.GroupID) {
		if m.ID == studentID {
			isMember = true
			break
		}
	}
	if !isMember {
		return Record{}, ErrNotMember
	}

	checkIn := ""
	if status != StatusAbsent {
		checkIn = e.nowFunc().Format(TimeOfDayLayout)
	}

	records := e.repo.Records()
	var rec Record
	idx := -1
	for i, r := range records {
		if r.SessionID == sessionID && r.StudentID == studentID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		records[idx].Status = status
		records[idx].CheckInTime = checkIn
		records[idx].Coins = status.Coins()
		records[idx].Applied = false
		rec = records[idx]
	} else {
		rec = Record{
			ID:          e.repo.GenerateID(),
			SessionID:   sessionID,
			StudentID:   studentID,
			Status:      status,
			CheckInTime: checkIn,
			Coins:       status.Coins(),
		}
		records = append(records, rec)
	}

	if err := e.repo.SaveRecords(records); err != nil {
		return Record{}, err
	}

	if e.notifier != nil && status != StatusAbsent {
		go e.notifier.NotifyAttendance(studentID, status, checkIn, rec.Coins)
	}
	return rec, nil
}

// Close finalizes the session, irreversibly. For every active, non-frozen
// member: unmarked students get a synthesized ABSENT record already applied;
// unapplied records with positive coins get one ATTENDANCE ledger entry and
// are flipped applied. All mutations are collected first and written in a
// single batch cycle (ledger once, records once, session flag once) so the
// partial-failure window stays minimal. Closing an already-closed session is
// a no-op; the applied flags guarantee no double posting either way.
func (e *AttendanceEngine) Close(sessionID string) error {
	sessions := e.repo.Sessions()
	idx := -1
	for i, s := range sessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrSessionNotFound
	}
	if sessions[idx].IsClosed {
		return nil
	}
	session := sessions[idx]

	records := e.repo.Records()
	ledger := e.repo.Ledger()
	now := e.nowFunc().UTC()
	ledgerChanged := false

	for _, member := range e.repo.ActiveMembers(session.GroupID) {
		recIdx := -1
		for i, r := range records {
			if r.SessionID == session.ID && r.StudentID == member.ID {
				recIdx = i
				break
			}
		}

		if recIdx < 0 {
			// never marked: absent, nothing to post
			records = append(records, Record{
				ID:        e.repo.GenerateID(),
				SessionID: session.ID,
				StudentID: member.ID,
				Status:    StatusAbsent,
				Applied:   true,
			})
			continue
		}
		if records[recIdx].Applied {
			continue
		}
		if records[recIdx].Coins > 0 {
			ledger = append(ledger, Entry{
				ID:        e.repo.GenerateID(),
				StudentID: member.ID,
				Time:      now,
				Amount:    records[recIdx].Coins,
				Type:      EntryAttendance,
				RefID:     records[recIdx].ID,
			})
			ledgerChanged = true
		}
		records[recIdx].Applied = true
	}

	if ledgerChanged {
		if err := e.repo.SaveLedger(ledger); err != nil {
			return pkgerrors.Wrap(err, "finalizing session: writing ledger")
		}
	}
	if err := e.repo.SaveRecords(records); err != nil {
		return pkgerrors.Wrap(err, "finalizing session: writing records")
	}
	sessions[idx].IsClosed = true
	if err := e.repo.SaveSessions(sessions); err != nil {
		return pkgerrors.Wrap(err, "finalizing session: closing")
	}
	return nil
}

// SessionRecords returns the records of one session.
func (e *AttendanceEngine) SessionRecords(sessionID string) []Record {
	out := []Record{}
	for _, r := range e.repo.Records() {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

func (e *AttendanceEngine) sessionByID(id string) (Session, bool) {
	for _, s := range e.repo.Sessions() {
		if s.ID == id {
			return s, true
		}
	}
	return Session{}, false
}
