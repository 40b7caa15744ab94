package club

import "github.com/trezcool/chessclub/storage/kvstore"

// Partition keys. The chess_crm_ prefix is shared with the sync table, so
// every device addressing a collection addresses the same remote row.
const (
	KeyStudents       = "chess_crm_students"
	KeyGroups         = "chess_crm_groups"
	KeyGroupMembers   = "chess_crm_group_members"
	KeySessions       = "chess_crm_attendance_sessions"
	KeyRecords        = "chess_crm_attendance_records"
	KeyLedger         = "chess_crm_coin_ledger"
	KeyPayments       = "chess_crm_payments"
	KeyDeleteRequests = "chess_crm_delete_requests"
	KeyParents        = "chess_crm_telegram_parents"
)

// Repository exposes the typed collections over the store. Every write
// replaces the whole collection for its key: there is no sub-record patch,
// and readers must tolerate a collection being replaced underneath them
// (stale-then-fresh, never torn).
type Repository struct {
	store *kvstore.Store
}

func NewRepository(store *kvstore.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) GenerateID() string { return r.store.GenerateID() }

// Store exposes the underlying store for change subscriptions.
func (r *Repository) Store() *kvstore.Store { return r.store }

func (r *Repository) Students() []Student {
	out := []Student{}
	r.store.Get(KeyStudents, &out)
	return out
}

func (r *Repository) Groups() []Group {
	out := []Group{}
	r.store.Get(KeyGroups, &out)
	return out
}

func (r *Repository) Members() []GroupMember {
	out := []GroupMember{}
	r.store.Get(KeyGroupMembers, &out)
	return out
}

func (r *Repository) Sessions() []Session {
	out := []Session{}
	r.store.Get(KeySessions, &out)
	return out
}

func (r *Repository) Records() []Record {
	out := []Record{}
	r.store.Get(KeyRecords, &out)
	return out
}

func (r *Repository) Ledger() []Entry {
	out := []Entry{}
	r.store.Get(KeyLedger, &out)
	return out
}

func (r *Repository) Payments() []Payment {
	out := []Payment{}
	r.store.Get(KeyPayments, &out)
	return out
}

func (r *Repository) DeleteRequests() []DeleteRequest {
	out := []DeleteRequest{}
	r.store.Get(KeyDeleteRequests, &out)
	return out
}

func (r *Repository) Parents() []Parent {
	out := []Parent{}
	r.store.Get(KeyParents, &out)
	return out
}

func (r *Repository) SaveStudents(ss []Student) error    { return r.store.Set(KeyStudents, ss) }
func (r *Repository) SaveGroups(gs []Group) error        { return r.store.Set(KeyGroups, gs) }
func (r *Repository) SaveMembers(ms []GroupMember) error { return r.store.Set(KeyGroupMembers, ms) }
func (r *Repository) SaveSessions(ss []Session) error    { return r.store.Set(KeySessions, ss) }
func (r *Repository) SaveRecords(rs []Record) error      { return r.store.Set(KeyRecords, rs) }
func (r *Repository) SaveLedger(es []Entry) error        { return r.store.Set(KeyLedger, es) }
func (r *Repository) SavePayments(ps []Payment) error    { return r.store.Set(KeyPayments, ps) }
func (r *Repository) SaveParents(ps []Parent) error      { return r.store.Set(KeyParents, ps) }
func (r *Repository) SaveDeleteRequests(ds []DeleteRequest) error {
	return r.store.Set(KeyDeleteRequests, ds)
}

// Lookup helpers. They read the collection fresh on every call, so a
// replication event between two calls is simply the newer state.

func (r *Repository) StudentByID(id string) (Student, bool) {
	for _, s := range r.Students() {
		if s.ID == id {
			return s, true
		}
	}
	return Student{}, false
}

func (r *Repository) StudentByCode(code string) (Student, bool) {
	for _, s := range r.Students() {
		if s.Code == code {
			return s, true
		}
	}
	return Student{}, false
}

func (r *Repository) GroupByID(id string) (Group, bool) {
	for _, g := range r.Groups() {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// ActiveMembers returns the current, active, non-frozen students of a group.
func (r *Repository) ActiveMembers(groupID string) []Student {
	ids := make(map[string]bool)
	for _, m := range r.Members() {
		if m.GroupID == groupID {
			ids[m.StudentID] = true
		}
	}
	out := make([]Student, 0, len(ids))
	for _, s := range r.Students() {
		if ids[s.ID] && s.IsActive && !s.IsFrozen {
			out = append(out, s)
		}
	}
	return out
}
