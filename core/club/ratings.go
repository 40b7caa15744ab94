package club

import (
	"sort"
	"strings"
	"time"
)

// Leaderboard windows.
type Window string

const (
	WindowLifetime Window = "lifetime"
	WindowMonth    Window = "month"
)

// Ranked is one leaderboard row: posted rewards plus pending (not yet
// finalized) attendance coins.
type Ranked struct {
	Student Student `json:"student"`
	Total   int     `json:"total"`
}

// Aggregator is the read-side reward projection. It keeps no state of its
// own: displayed totals always combine the ledger and the records' pending
// coins at read time.
type Aggregator struct {
	repo    *Repository
	nowFunc func() time.Time
}

func NewAggregator(repo *Repository) *Aggregator {
	return &Aggregator{repo: repo, nowFunc: time.Now}
}

// Leaderboard totals each active student's ATTENDANCE and BONUS entries in
// the window plus unapplied record coins whose parent session date falls in
// the window, optionally filtered to one group. Sorted descending, stable:
// ties keep their original roster order.
func (a *Aggregator) Leaderboard(window Window, groupID string) []Ranked {
	students := a.repo.Students()
	ledger := a.repo.Ledger()
	records := a.repo.Records()
	month := a.nowFunc().Format("2006-01")

	// pending records need their session resolved for the month check
	sessionDates := make(map[string]string)
	for _, s := range a.repo.Sessions() {
		sessionDates[s.ID] = s.Date
	}

	var inGroup map[string]bool
	if groupID != "" {
		inGroup = make(map[string]bool)
		for _, m := range a.repo.Members() {
			if m.GroupID == groupID {
				inGroup[m.StudentID] = true
			}
		}
	}

	board := []Ranked{}
	for _, s := range students {
		if !s.IsActive {
			continue
		}
		if inGroup != nil && !inGroup[s.ID] {
			continue
		}

		total := 0
		for _, l := range ledger {
			if l.StudentID != s.ID || l.Type == EntryCharge {
				continue
			}
			if window == WindowMonth && l.Time.Format("2006-01") != month {
				continue
			}
			total += l.Amount
		}
		for _, r := range records {
			if r.StudentID != s.ID || r.Applied {
				continue
			}
			if window == WindowMonth && !strings.HasPrefix(sessionDates[r.SessionID], month) {
				continue
			}
			total += r.Coins
		}
		board = append(board, Ranked{Student: s, Total: total})
	}

	sort.SliceStable(board, func(i, j int) bool { return board[i].Total > board[j].Total })
	return board
}

// ResetRewards irreversibly purges reward history: every non-CHARGE ledger
// entry is dropped and every record is zeroed and marked applied. Billing
// history survives untouched.
func (a *Aggregator) ResetRewards() error {
	ledger := a.repo.Ledger()
	kept := ledger[:0]
	for _, l := range ledger {
		if l.Type == EntryCharge {
			kept = append(kept, l)
		}
	}
	if err := a.repo.SaveLedger(kept); err != nil {
		return err
	}

	records := a.repo.Records()
	for i := range records {
		records[i].Coins = 0
		records[i].Applied = true
	}
	return a.repo.SaveRecords(records)
}
