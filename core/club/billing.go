package club

import (
	"sort"
	"time"
)

// CycleDays is the billing interval: a charge accrues every 30 days starting
// 30 days after enrollment (or after the last charge).
const CycleDays = 30

// BillingEngine posts the recurring monthly charges and answers balance and
// due-date queries. Reward coins never touch the money balance.
type BillingEngine struct {
	repo    *Repository
	nowFunc func() time.Time
}

func NewBillingEngine(repo *Repository) *BillingEngine {
	return &BillingEngine{repo: repo, nowFunc: time.Now}
}

// Account is one row of the billing listing.
type Account struct {
	Student Student   `json:"student"`
	Balance int       `json:"balance"`
	NextDue time.Time `json:"next_due"`
	Overdue bool      `json:"overdue"`
}

// RunPass charges every active, non-frozen student whose fee cycle has
// elapsed. A student several cycles behind gets one back-dated CHARGE per
// missed cycle, not a lump sum, and their anchor advances to the last charged
// due date, so an immediate second pass posts nothing. All students share a
// single ledger write and a single student-collection write.
func (e *BillingEngine) RunPass() (posted int, err error) {
	now := e.nowFunc().UTC()
	students := e.repo.Students()
	ledger := e.repo.Ledger()
	changed := false

	for i := range students {
		s := &students[i]
		if !s.Billable() {
			continue
		}

		anchor := s.EnrolledAt
		if s.LastChargeAt != nil {
			anchor = *s.LastChargeAt
		}

		charged := false
		next := anchor.AddDate(0, 0, CycleDays)
		for !next.After(now) {
			ledger = append(ledger, Entry{
				ID:        e.repo.GenerateID(),
				StudentID: s.ID,
				Time:      next,
				Amount:    -s.MonthlyFee,
				Type:      EntryCharge,
				Note:      "Monthly fee - " + next.Format("January 2006"),
			})
			posted++
			charged = true
			anchor = next
			next = anchor.AddDate(0, 0, CycleDays)
		}
		if charged {
			due := anchor
			s.LastChargeAt = &due
			changed = true
		}
	}

	if !changed {
		return 0, nil
	}
	if err = e.repo.SaveLedger(ledger); err != nil {
		return 0, err
	}
	if err = e.repo.SaveStudents(students); err != nil {
		return 0, err
	}
	return posted, nil
}

// Balance is purely a function of payments and CHARGE entries:
// sum(payments) + sum(charges), charges being negative.
func (e *BillingEngine) Balance(studentID string) int {
	total := 0
	for _, p := range e.repo.Payments() {
		if p.StudentID == studentID {
			total += p.Amount
		}
	}
	for _, l := range e.repo.Ledger() {
		if l.StudentID == studentID && l.Type == EntryCharge {
			total += l.Amount
		}
	}
	return total
}

// NextDue returns when the student's next charge falls due.
func (e *BillingEngine) NextDue(s Student) time.Time {
	anchor := s.EnrolledAt
	if s.LastChargeAt != nil {
		anchor = *s.LastChargeAt
	}
	return anchor.AddDate(0, 0, CycleDays)
}

// Accounts lists every active student's balance sorted soonest-due-first,
// flagging overdue (negative balance) rows.
func (e *BillingEngine) Accounts() []Account {
	accounts := []Account{}
	for _, s := range e.repo.Students() {
		if !s.IsActive {
			continue
		}
		balance := e.Balance(s.ID)
		accounts = append(accounts, Account{
			Student: s,
			Balance: balance,
			NextDue: e.NextDue(s),
			Overdue: balance < 0,
		})
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].NextDue.Before(accounts[j].NextDue)
	})
	return accounts
}
