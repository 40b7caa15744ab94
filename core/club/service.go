package club

import (
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/trezcool/chessclub/core"
)

var (
	// errors
	ErrStudentNotFound = errors.New("student not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrRequestNotFound = errors.New("delete request not found")
	ErrRequestResolved = errors.New("delete request already resolved")
	ErrCodeExists      = errors.New("a student with this code already exists")
	errUnknownEntity   = errors.New("unknown entity kind")
)

// Service owns the roster writes: student and group lifecycle, membership
// toggling, payments and the delete-request workflow.
type Service struct {
	repo    *Repository
	mailSvc core.EmailService
	conf    *core.Config
	nowFunc func() time.Time // mockable
}

func NewService(repo *Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, conf: conf, nowFunc: time.Now}
}

func (svc *Service) checkCodeUniqueness(code string) error {
	if _, ok := svc.repo.StudentByCode(code); ok {
		return core.NewValidationError(ErrCodeExists, core.FieldError{Field: "code", Error: ErrCodeExists.Error()})
	}
	return nil
}

func (svc *Service) CreateStudent(ns NewStudent) (Student, error) {
	if err := ns.Validate(svc); err != nil {
		return Student{}, err
	}

	now := svc.nowFunc().UTC()
	enrolled := ns.EnrolledAt
	if enrolled.IsZero() {
		enrolled = now
	}
	student := Student{
		ID:          svc.repo.GenerateID(),
		Code:        ns.Code,
		FirstName:   ns.FirstName,
		LastName:    ns.LastName,
		EnrolledAt:  enrolled,
		MonthlyFee:  ns.MonthlyFee,
		Phone:       ns.Phone,
		Address:     ns.Address,
		FatherName:  ns.FatherName,
		FatherPhone: ns.FatherPhone,
		MotherName:  ns.MotherName,
		MotherPhone: ns.MotherPhone,
		FacePhoto:   ns.FacePhoto,
		IsActive:    true,
		CreatedAt:   now,
	}

	students := append(svc.repo.Students(), student)
	if err := svc.repo.SaveStudents(students); err != nil {
		return Student{}, err
	}
	return student, nil
}

func (svc *Service) UpdateStudent(id string, us UpdateStudent) (Student, error) {
	students := svc.repo.Students()
	idx := -1
	for i, s := range students {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Student{}, ErrStudentNotFound
	}
	if err := us.Validate(students[idx], svc); err != nil {
		return Student{}, err
	}

	s := &students[idx]
	if us.Code != "" {
		s.Code = us.Code
	}
	if us.FirstName != "" {
		s.FirstName = us.FirstName
	}
	if us.LastName != "" {
		s.LastName = us.LastName
	}
	if us.MonthlyFee != nil {
		s.MonthlyFee = *us.MonthlyFee
	}
	if us.Phone != "" {
		s.Phone = us.Phone
	}
	if us.Address != "" {
		s.Address = us.Address
	}
	if us.FatherName != "" {
		s.FatherName = us.FatherName
	}
	if us.FatherPhone != "" {
		s.FatherPhone = us.FatherPhone
	}
	if us.MotherName != "" {
		s.MotherName = us.MotherName
	}
	if us.MotherPhone != "" {
		s.MotherPhone = us.MotherPhone
	}
	if us.FacePhoto != "" {
		s.FacePhoto = us.FacePhoto
	}

	if err := svc.repo.SaveStudents(students); err != nil {
		return Student{}, err
	}
	return *s, nil
}

// SetFrozen suspends (or resumes) billing and attendance participation.
func (svc *Service) SetFrozen(id string, frozen bool) error {
	students := svc.repo.Students()
	for i := range students {
		if students[i].ID == id {
			students[i].IsFrozen = frozen
			return svc.repo.SaveStudents(students)
		}
	}
	return ErrStudentNotFound
}

func (svc *Service) CreateGroup(ng NewGroup) (Group, error) {
	if err := ng.Validate(); err != nil {
		return Group{}, err
	}
	group := Group{
		ID:        svc.repo.GenerateID(),
		Name:      ng.Name,
		Weekdays:  ng.Weekdays,
		StartTime: ng.StartTime,
		EndTime:   ng.EndTime,
		IsActive:  true,
	}
	groups := append(svc.repo.Groups(), group)
	if err := svc.repo.SaveGroups(groups); err != nil {
		return Group{}, err
	}
	return group, nil
}

func (svc *Service) UpdateGroup(id string, ng NewGroup) (Group, error) {
	if err := ng.Validate(); err != nil {
		return Group{}, err
	}
	groups := svc.repo.Groups()
	for i := range groups {
		if groups[i].ID == id {
			groups[i].Name = ng.Name
			groups[i].Weekdays = ng.Weekdays
			groups[i].StartTime = ng.StartTime
			groups[i].EndTime = ng.EndTime
			if err := svc.repo.SaveGroups(groups); err != nil {
				return Group{}, err
			}
			return groups[i], nil
		}
	}
	return Group{}, ErrGroupNotFound
}

// ToggleMember adds the student to the group, or removes them if already a
// member. Returns true when the student is a member after the call.
func (svc *Service) ToggleMember(groupID, studentID string) (bool, error) {
	if _, ok := svc.repo.GroupByID(groupID); !ok {
		return false, ErrGroupNotFound
	}
	if _, ok := svc.repo.StudentByID(studentID); !ok {
		return false, ErrStudentNotFound
	}

	members := svc.repo.Members()
	for i, m := range members {
		if m.GroupID == groupID && m.StudentID == studentID {
			members = append(members[:i], members[i+1:]...)
			return false, svc.repo.SaveMembers(members)
		}
	}
	members = append(members, GroupMember{ID: svc.repo.GenerateID(), GroupID: groupID, StudentID: studentID})
	return true, svc.repo.SaveMembers(members)
}

func (svc *Service) RecordPayment(np NewPayment) (Payment, error) {
	if err := np.Validate(); err != nil {
		return Payment{}, err
	}
	if _, ok := svc.repo.StudentByID(np.StudentID); !ok {
		return Payment{}, ErrStudentNotFound
	}

	payment := Payment{
		ID:        svc.repo.GenerateID(),
		StudentID: np.StudentID,
		Amount:    np.Amount,
		PaidAt:    svc.nowFunc().UTC(),
	}
	payments := append(svc.repo.Payments(), payment)
	if err := svc.repo.SavePayments(payments); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// UpdatePayment is the explicit admin edit; the balance reflects it immediately.
func (svc *Service) UpdatePayment(id string, amount int) (Payment, error) {
	if amount <= 0 {
		return Payment{}, core.NewValidationError(nil, core.FieldError{Field: "amount", Error: "must be positive"})
	}
	payments := svc.repo.Payments()
	for i := range payments {
		if payments[i].ID == id {
			payments[i].Amount = amount
			if err := svc.repo.SavePayments(payments); err != nil {
				return Payment{}, err
			}
			return payments[i], nil
		}
	}
	return Payment{}, ErrPaymentNotFound
}

func (svc *Service) DeletePayment(id string) error {
	payments := svc.repo.Payments()
	for i, p := range payments {
		if p.ID == id {
			payments = append(payments[:i], payments[i+1:]...)
			return svc.repo.SavePayments(payments)
		}
	}
	return ErrPaymentNotFound
}

// AwardBonus posts a manual BONUS ledger entry.
func (svc *Service) AwardBonus(nb NewBonus) (Entry, error) {
	if err := nb.Validate(); err != nil {
		return Entry{}, err
	}
	if _, ok := svc.repo.StudentByID(nb.StudentID); !ok {
		return Entry{}, ErrStudentNotFound
	}

	entry := Entry{
		ID:        svc.repo.GenerateID(),
		StudentID: nb.StudentID,
		Time:      svc.nowFunc().UTC(),
		Amount:    nb.Amount,
		Type:      EntryBonus,
		Note:      nb.Note,
	}
	ledger := append(svc.repo.Ledger(), entry)
	if err := svc.repo.SaveLedger(ledger); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// SubmitDeleteRequest queues a removal for head-admin approval and alerts
// them by email, fire-and-forget.
func (svc *Service) SubmitDeleteRequest(nd NewDeleteRequest) (DeleteRequest, error) {
	if err := nd.Validate(); err != nil {
		return DeleteRequest{}, err
	}

	req := DeleteRequest{
		ID:          svc.repo.GenerateID(),
		EntityKind:  nd.EntityKind,
		EntityID:    nd.EntityID,
		RequestedBy: nd.RequestedBy,
		Reason:      nd.Reason,
		Status:      RequestPending,
		CreatedAt:   svc.nowFunc().UTC(),
	}
	reqs := append(svc.repo.DeleteRequests(), req)
	if err := svc.repo.SaveDeleteRequests(reqs); err != nil {
		return DeleteRequest{}, err
	}

	if svc.mailSvc != nil && svc.conf.AdminEmail != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:      []mail.Address{{Address: svc.conf.AdminEmail}},
			Subject: "Delete request pending approval",
			Body: fmt.Sprintf(
				"%s requested deletion of %s %s.\nReason: %s",
				req.RequestedBy, req.EntityKind, req.EntityID, req.Reason,
			),
		})
	}
	return req, nil
}

// ApproveDeleteRequest soft-deletes the target (payments are removed
// outright) and cascades membership cleanup. Resolved requests are terminal.
func (svc *Service) ApproveDeleteRequest(id string) error {
	reqs := svc.repo.DeleteRequests()
	idx := -1
	for i, r := range reqs {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrRequestNotFound
	}
	if reqs[idx].Status != RequestPending {
		return ErrRequestResolved
	}
	req := reqs[idx]

	switch req.EntityKind {
	case EntityStudent:
		students := svc.repo.Students()
		for i := range students {
			if students[i].ID == req.EntityID {
				students[i].IsActive = false
			}
		}
		if err := svc.repo.SaveStudents(students); err != nil {
			return err
		}
		if err := svc.removeMemberships(func(m GroupMember) bool { return m.StudentID == req.EntityID }); err != nil {
			return err
		}
	case EntityGroup:
		groups := svc.repo.Groups()
		for i := range groups {
			if groups[i].ID == req.EntityID {
				groups[i].IsActive = false
			}
		}
		if err := svc.repo.SaveGroups(groups); err != nil {
			return err
		}
		if err := svc.removeMemberships(func(m GroupMember) bool { return m.GroupID == req.EntityID }); err != nil {
			return err
		}
	case EntityPayment:
		if err := svc.DeletePayment(req.EntityID); err != nil && err != ErrPaymentNotFound {
			return err
		}
	default:
		return errUnknownEntity
	}

	reqs[idx].Status = RequestApproved
	return svc.repo.SaveDeleteRequests(reqs)
}

func (svc *Service) RejectDeleteRequest(id string) error {
	reqs := svc.repo.DeleteRequests()
	for i := range reqs {
		if reqs[i].ID == id {
			if reqs[i].Status != RequestPending {
				return ErrRequestResolved
			}
			reqs[i].Status = RequestRejected
			return svc.repo.SaveDeleteRequests(reqs)
		}
	}
	return ErrRequestNotFound
}

func (svc *Service) removeMemberships(drop func(GroupMember) bool) error {
	members := svc.repo.Members()
	kept := members[:0]
	for _, m := range members {
		if !drop(m) {
			kept = append(kept, m)
		}
	}
	return svc.repo.SaveMembers(kept)
}
