package club

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingEngine_RunPassBackfillsMissedCycles(t *testing.T) {
	repo, svc := setup(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	anna, err := svc.CreateStudent(NewStudent{
		Code:       "1001",
		FirstName:  "Anna",
		LastName:   "Petrova",
		EnrolledAt: now.AddDate(0, 0, -65),
		MonthlyFee: 300000,
	})
	require.NoError(t, err)

	engine := NewBillingEngine(repo)
	engine.nowFunc = func() time.Time { return now }

	// 65 days enrolled: exactly two cycles elapsed
	posted, err := engine.RunPass()
	require.NoError(t, err)
	assert.Equal(t, 2, posted)

	ledger := repo.Ledger()
	require.Len(t, ledger, 2)
	assert.Equal(t, anna.EnrolledAt.AddDate(0, 0, 30), ledger[0].Time)
	assert.Equal(t, anna.EnrolledAt.AddDate(0, 0, 60), ledger[1].Time)
	for _, entry := range ledger {
		assert.Equal(t, -300000, entry.Amount)
		assert.Equal(t, EntryCharge, entry.Type)
		assert.Equal(t, "Monthly fee - "+entry.Time.Format("January 2006"), entry.Note)
	}

	// the anchor advanced to the last charged due date
	anna, _ = repo.StudentByID(anna.ID)
	require.NotNil(t, anna.LastChargeAt)
	assert.Equal(t, anna.EnrolledAt.AddDate(0, 0, 60), *anna.LastChargeAt)
	assert.Equal(t, anna.EnrolledAt.AddDate(0, 0, 90), engine.NextDue(anna))

	// an immediate second pass posts nothing
	posted, err = engine.RunPass()
	require.NoError(t, err)
	assert.Equal(t, 0, posted)
	assert.Len(t, repo.Ledger(), 2)
}

func TestBillingEngine_RunPassSkipsNonBillable(t *testing.T) {
	repo, svc := setup(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)
	enrolled := now.AddDate(0, 0, -40)

	frozen, err := svc.CreateStudent(NewStudent{
		Code: "1001", FirstName: "Frozen", LastName: "Petrov",
		EnrolledAt: enrolled, MonthlyFee: 100000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.SetFrozen(frozen.ID, true))

	_, err = svc.CreateStudent(NewStudent{
		Code: "1002", FirstName: "Free", LastName: "Petrov",
		EnrolledAt: enrolled, MonthlyFee: 0, // no fee configured
	})
	require.NoError(t, err)

	engine := NewBillingEngine(repo)
	engine.nowFunc = func() time.Time { return now }

	posted, err := engine.RunPass()
	require.NoError(t, err)
	assert.Equal(t, 0, posted)
	assert.Empty(t, repo.Ledger())
}

func TestBillingEngine_BalanceCombinesPaymentsAndCharges(t *testing.T) {
	repo, svc := setup(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	anna, err := svc.CreateStudent(NewStudent{
		Code: "1001", FirstName: "Anna", LastName: "Petrova",
		EnrolledAt: now.AddDate(0, 0, -35), MonthlyFee: 300000,
	})
	require.NoError(t, err)

	engine := NewBillingEngine(repo)
	engine.nowFunc = func() time.Time { return now }

	_, err = engine.RunPass()
	require.NoError(t, err)
	assert.Equal(t, -300000, engine.Balance(anna.ID))

	_, err = svc.RecordPayment(NewPayment{StudentID: anna.ID, Amount: 300000})
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Balance(anna.ID))

	// coins never touch the money balance
	_, err = svc.AwardBonus(NewBonus{StudentID: anna.ID, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, engine.Balance(anna.ID))
}

func TestBillingEngine_AccountsSortedByNextDue(t *testing.T) {
	repo, svc := setup(t)
	now := time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

	late, err := svc.CreateStudent(NewStudent{
		Code: "1001", FirstName: "Late", LastName: "Petrov",
		EnrolledAt: now.AddDate(0, 0, -24), MonthlyFee: 100000,
	})
	require.NoError(t, err)
	soon, err := svc.CreateStudent(NewStudent{
		Code: "1002", FirstName: "Soon", LastName: "Petrov",
		EnrolledAt: now.AddDate(0, 0, -29), MonthlyFee: 100000,
	})
	require.NoError(t, err)

	engine := NewBillingEngine(repo)
	engine.nowFunc = func() time.Time { return now }

	accounts := engine.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, soon.ID, accounts[0].Student.ID)
	assert.Equal(t, late.ID, accounts[1].Student.ID)
	assert.False(t, accounts[0].Overdue)

	// a charged, unpaid student shows up overdue
	engine.nowFunc = func() time.Time { return now.AddDate(0, 0, 5) }
	posted, err := engine.RunPass()
	require.NoError(t, err)
	assert.Equal(t, 1, posted) // only soon's cycle has elapsed

	for _, acc := range engine.Accounts() {
		if acc.Student.ID == soon.ID {
			assert.True(t, acc.Overdue)
			assert.Equal(t, -100000, acc.Balance)
		} else {
			assert.False(t, acc.Overdue)
		}
	}
}
