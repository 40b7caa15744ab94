package club

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_LeaderboardWindows(t *testing.T) {
	repo, svc := setup(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)
	svc.nowFunc = func() time.Time { return now }

	anna := createStudent(t, svc, "1001", "Anna", 0)
	boris := createStudent(t, svc, "1002", "Boris", 0)
	group := createGroup(t, svc, "Beginners")
	enroll(t, svc, group.ID, anna.ID, boris.ID)

	// anna: an old bonus (July) and a pending record in an August session
	svc.nowFunc = func() time.Time { return time.Date(2026, time.July, 10, 12, 0, 0, 0, time.UTC) }
	_, err := svc.AwardBonus(NewBonus{StudentID: anna.ID, Amount: 10, Note: "tournament"})
	require.NoError(t, err)

	engine := NewAttendanceEngine(repo, nil)
	engine.nowFunc = func() time.Time { return now }
	session, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)
	_, err = engine.Mark(session.ID, anna.ID, StatusPresent) // +5 pending
	require.NoError(t, err)

	// boris: a finalized session in August
	_, err = engine.Mark(session.ID, boris.ID, StatusLate) // +3
	require.NoError(t, err)

	agg := NewAggregator(repo)
	agg.nowFunc = func() time.Time { return now }

	lifetime := agg.Leaderboard(WindowLifetime, "")
	require.Len(t, lifetime, 2)
	assert.Equal(t, anna.ID, lifetime[0].Student.ID)
	assert.Equal(t, 15, lifetime[0].Total) // 10 bonus + 5 pending
	assert.Equal(t, 3, lifetime[1].Total)

	// month window drops the July bonus but keeps this month's pending coins
	month := agg.Leaderboard(WindowMonth, "")
	require.Len(t, month, 2)
	assert.Equal(t, anna.ID, month[0].Student.ID)
	assert.Equal(t, 5, month[0].Total)
	assert.Equal(t, 3, month[1].Total)

	// closing the session moves coins from pending to posted, totals unchanged
	require.NoError(t, engine.Close(session.ID))
	month = agg.Leaderboard(WindowMonth, "")
	assert.Equal(t, 5, month[0].Total)
	assert.Equal(t, 3, month[1].Total)
}

func TestAggregator_LeaderboardGroupFilter(t *testing.T) {
	repo, svc := setup(t)
	anna := createStudent(t, svc, "1001", "Anna", 0)
	boris := createStudent(t, svc, "1002", "Boris", 0)
	beginners := createGroup(t, svc, "Beginners")
	advanced := createGroup(t, svc, "Advanced")
	enroll(t, svc, beginners.ID, anna.ID)
	enroll(t, svc, advanced.ID, boris.ID)

	agg := NewAggregator(repo)

	board := agg.Leaderboard(WindowLifetime, beginners.ID)
	require.Len(t, board, 1)
	assert.Equal(t, anna.ID, board[0].Student.ID)
}

func TestAggregator_LeaderboardSkipsInactive(t *testing.T) {
	repo, svc := setup(t)
	anna := createStudent(t, svc, "1001", "Anna", 0)
	_, err := svc.AwardBonus(NewBonus{StudentID: anna.ID, Amount: 10})
	require.NoError(t, err)

	req, err := svc.SubmitDeleteRequest(NewDeleteRequest{
		EntityKind: EntityStudent, EntityID: anna.ID, RequestedBy: "admin", Reason: "left the club",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ApproveDeleteRequest(req.ID))

	assert.Empty(t, NewAggregator(repo).Leaderboard(WindowLifetime, ""))
}

func TestAggregator_ResetRewardsKeepsBillingHistory(t *testing.T) {
	repo, svc := setup(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	anna, err := svc.CreateStudent(NewStudent{
		Code: "1001", FirstName: "Anna", LastName: "Petrova",
		EnrolledAt: now.AddDate(0, 0, -35), MonthlyFee: 300000,
	})
	require.NoError(t, err)
	group := createGroup(t, svc, "Beginners")
	enroll(t, svc, group.ID, anna.ID)

	_, err = svc.AwardBonus(NewBonus{StudentID: anna.ID, Amount: 10})
	require.NoError(t, err)

	billing := NewBillingEngine(repo)
	billing.nowFunc = func() time.Time { return now }
	_, err = billing.RunPass()
	require.NoError(t, err)

	engine := NewAttendanceEngine(repo, nil)
	session, err := engine.Open(group.ID, "2026-08-03")
	require.NoError(t, err)
	_, err = engine.Mark(session.ID, anna.ID, StatusPresent)
	require.NoError(t, err)

	agg := NewAggregator(repo)
	require.NoError(t, agg.ResetRewards())

	// only the charge survives
	ledger := repo.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, EntryCharge, ledger[0].Type)
	assert.Equal(t, -300000, billing.Balance(anna.ID))

	// all record coins zeroed and settled
	for _, r := range repo.Records() {
		assert.Zero(t, r.Coins)
		assert.True(t, r.Applied)
	}
	board := agg.Leaderboard(WindowLifetime, "")
	require.Len(t, board, 1)
	assert.Zero(t, board[0].Total)
}
