package club

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttendanceEngine_OpenIsIdempotent(t *testing.T) {
	repo, svc := setup(t)
	group := createGroup(t, svc, "Beginners")
	engine := NewAttendanceEngine(repo, nil)

	s1, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)
	assert.Equal(t, group.StartTime, s1.StartTime)
	assert.Equal(t, group.EndTime, s1.EndTime)
	assert.False(t, s1.IsClosed)

	s2, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Len(t, repo.Sessions(), 1)

	// a different date is a different session
	s3, err := engine.Open(group.ID, "2026-08-05")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s3.ID)

	_, err = engine.Open("nope", "2026-08-03")
	assert.Equal(t, ErrGroupNotFound, err)

	_, err = engine.Open(group.ID, "03/08/2026")
	assert.Error(t, err)
}

func TestAttendanceEngine_MarkUpsertsSingleRecord(t *testing.T) {
	repo, svc := setup(t)
	student := createStudent(t, svc, "1001", "Anna", 0)
	group := createGroup(t, svc, "Beginners")
	enroll(t, svc, group.ID, student.ID)
	engine := NewAttendanceEngine(repo, nil)
	engine.nowFunc = atDate(2026, time.August, 3)

	session, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)

	rec, err := engine.Mark(session.ID, student.ID, StatusPresent)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Coins)
	assert.NotEmpty(t, rec.CheckInTime)
	assert.False(t, rec.Applied)

	// re-marking corrects in place, no second record
	rec, err = engine.Mark(session.ID, student.ID, StatusLate)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Coins)
	assert.Len(t, engine.SessionRecords(session.ID), 1)

	rec, err = engine.Mark(session.ID, student.ID, StatusAbsent)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Coins)
	assert.Empty(t, rec.CheckInTime)

	_, err = engine.Mark(session.ID, student.ID, Status("MAYBE"))
	assert.Equal(t, ErrInvalidStatus, err)

	outsider := createStudent(t, svc, "1002", "Boris", 0)
	_, err = engine.Mark(session.ID, outsider.ID, StatusPresent)
	assert.Equal(t, ErrNotMember, err)

	_, err = engine.Mark("nope", student.ID, StatusPresent)
	assert.Equal(t, ErrSessionNotFound, err)
}

func TestAttendanceEngine_CloseMaterializesRewardsOnce(t *testing.T) {
	repo, svc := setup(t)
	anna := createStudent(t, svc, "1001", "Anna", 0)
	boris := createStudent(t, svc, "1002", "Boris", 0)
	group := createGroup(t, svc, "Beginners")
	enroll(t, svc, group.ID, anna.ID, boris.ID)
	engine := NewAttendanceEngine(repo, nil)

	session, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)

	_, err = engine.Mark(session.ID, anna.ID, StatusLate)
	require.NoError(t, err)
	// boris never marked

	require.NoError(t, engine.Close(session.ID))

	// one attendance entry for anna, referencing her record
	ledger := repo.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, anna.ID, ledger[0].StudentID)
	assert.Equal(t, 3, ledger[0].Amount)
	assert.Equal(t, EntryAttendance, ledger[0].Type)
	assert.NotEmpty(t, ledger[0].RefID)

	// boris got a synthesized, already-applied absence
	records := engine.SessionRecords(session.ID)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.Applied)
		if r.StudentID == boris.ID {
			assert.Equal(t, StatusAbsent, r.Status)
			assert.Equal(t, 0, r.Coins)
		}
	}

	// closed is terminal
	_, err = engine.Mark(session.ID, anna.ID, StatusPresent)
	assert.Equal(t, ErrSessionClosed, err)

	// closing again posts nothing
	require.NoError(t, engine.Close(session.ID))
	assert.Len(t, repo.Ledger(), 1)

	assert.Equal(t, ErrSessionNotFound, engine.Close("nope"))
}

func TestAttendanceEngine_CloseSkipsFrozenMembers(t *testing.T) {
	repo, svc := setup(t)
	anna := createStudent(t, svc, "1001", "Anna", 0)
	group := createGroup(t, svc, "Beginners")
	enroll(t, svc, group.ID, anna.ID)
	require.NoError(t, svc.SetFrozen(anna.ID, true))
	engine := NewAttendanceEngine(repo, nil)

	session, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)
	require.NoError(t, engine.Close(session.ID))

	// no synthesized absence for a frozen member
	assert.Empty(t, engine.SessionRecords(session.ID))
	assert.Empty(t, repo.Ledger())
}

type notifierRecorder struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (n *notifierRecorder) NotifyAttendance(studentID string, _ Status, _ string, _ int) {
	n.mu.Lock()
	n.calls = append(n.calls, studentID)
	n.mu.Unlock()
	n.done <- struct{}{}
}

func TestAttendanceEngine_MarkNotifies(t *testing.T) {
	repo, svc := setup(t)
	anna := createStudent(t, svc, "1001", "Anna", 0)
	group := createGroup(t, svc, "Beginners")
	enroll(t, svc, group.ID, anna.ID)

	notifier := &notifierRecorder{done: make(chan struct{}, 2)}
	engine := NewAttendanceEngine(repo, notifier)

	session, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)

	_, err = engine.Mark(session.ID, anna.ID, StatusPresent)
	require.NoError(t, err)
	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}

	// no notice for an absence
	_, err = engine.Mark(session.ID, anna.ID, StatusAbsent)
	require.NoError(t, err)
	select {
	case <-notifier.done:
		t.Fatal("unexpected notice for ABSENT")
	case <-time.After(50 * time.Millisecond):
	}
}
