// Package club holds the domain core: the roster collections, the attendance
// session engine, the billing cycle engine and the ratings aggregator.
package club

import "time"

// DateLayout is the calendar-date format used for session dates.
const DateLayout = "2006-01-02"

// TimeOfDayLayout is the wall-clock format used for check-in times and group schedules.
const TimeOfDayLayout = "15:04"

// Attendance statuses.
type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
)

// Coins returns the reward derived from an attendance status.
func (s Status) Coins() int {
	switch s {
	case StatusPresent:
		return 5
	case StatusLate:
		return 3
	default:
		return 0
	}
}

func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// Ledger entry types.
type EntryType string

const (
	EntryAttendance EntryType = "ATTENDANCE" // reward posted at session close
	EntryBonus      EntryType = "BONUS"      // manual award
	EntryCharge     EntryType = "CHARGE"     // monthly fee, always negative
)

type Student struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	EnrolledAt   time.Time  `json:"enrolled_at"`
	MonthlyFee   int        `json:"monthly_fee"`
	LastChargeAt *time.Time `json:"last_charge_at,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Address      string     `json:"address,omitempty"`
	FatherName   string     `json:"father_name,omitempty"`
	FatherPhone  string     `json:"father_phone,omitempty"`
	MotherName   string     `json:"mother_name,omitempty"`
	MotherPhone  string     `json:"mother_phone,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsFrozen     bool       `json:"is_frozen,omitempty"`
	FacePhoto    string     `json:"face_photo,omitempty"` // base64 reference image
	CreatedAt    time.Time  `json:"created_at"`
}

func (s Student) FullName() string { return s.FirstName + " " + s.LastName }

// Billable reports whether the monthly charge cycle applies to the student.
func (s Student) Billable() bool { return s.IsActive && !s.IsFrozen && s.MonthlyFee > 0 }

type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Weekdays  []string `json:"weekdays"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	IsActive  bool     `json:"is_active"`
}

// GroupMember joins a student into a group. Many-to-many; duplicates are only
// prevented by the membership toggle, not by the data layer.
type GroupMember struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	StudentID string `json:"student_id"`
}

// Session is the attendance-taking unit of one group on one calendar date.
// At most one exists per (GroupID, Date); it is created lazily on first
// access and closed exactly once.
type Session struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Date      string `json:"date"` // DateLayout
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsClosed  bool   `json:"is_closed"`
}

// Record is one student's attendance in one session; upserts are keyed by
// (SessionID, StudentID). Applied marks whether Coins has been materialized
// into the ledger.
type Record struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	StudentID   string `json:"student_id"`
	Status      Status `json:"status"`
	CheckInTime string `json:"check_in_time,omitempty"`
	Coins       int    `json:"coins"`
	Applied     bool   `json:"coins_applied"`
}

// Entry is an immutable, append-only ledger line: a signed coin or money
// amount attributed to a student.
type Entry struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Time      time.Time `json:"time"`
	Amount    int       `json:"amount"`
	Type      EntryType `json:"type"`
	RefID     string    `json:"ref_id,omitempty"` // source record for ATTENDANCE entries
	Note      string    `json:"note,omitempty"`
}

// Payment records money received. Editable/deletable only via an explicit
// admin action; balance reflects the change immediately.
type Payment struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Amount    int       `json:"amount"`
	PaidAt    time.Time `json:"paid_at"`
}

// Delete-request workflow.
type (
	RequestStatus string
	EntityKind    string
)

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"

	EntityStudent EntityKind = "student"
	EntityGroup   EntityKind = "group"
	EntityPayment EntityKind = "payment"
)

type DeleteRequest struct {
	ID          string        `json:"id"`
	EntityKind  EntityKind    `json:"entity_kind"`
	EntityID    string        `json:"entity_id"`
	RequestedBy string        `json:"requested_by"`
	Reason      string        `json:"reason"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Parent is a linked Telegram recipient for one student.
type Parent struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	ChatID    string    `json:"chat_id"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
