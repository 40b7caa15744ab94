package club

import (
	"time"

	"github.com/trezcool/chessclub/core"
)

// NewStudent contains information needed to enroll a new Student.
type NewStudent struct {
	Code        string    `json:"code" validate:"required,alphanum_"`
	FirstName   string    `json:"first_name" validate:"required"`
	LastName    string    `json:"last_name" validate:"required"`
	EnrolledAt  time.Time `json:"enrolled_at"`
	MonthlyFee  int       `json:"monthly_fee" validate:"gte=0"`
	Phone       string    `json:"phone"`
	Address     string    `json:"address"`
	FatherName  string    `json:"father_name"`
	FatherPhone string    `json:"father_phone"`
	MotherName  string    `json:"mother_name"`
	MotherPhone string    `json:"mother_phone"`
	FacePhoto   string    `json:"face_photo"`
}

func (ns *NewStudent) Validate(svc *Service) error {
	ns.Code = core.CleanString(ns.Code)
	ns.FirstName = core.CleanString(ns.FirstName)
	ns.LastName = core.CleanString(ns.LastName)

	if err := core.Validate.Struct(ns); err != nil {
		return err
	}
	return svc.checkCodeUniqueness(ns.Code)
}

// UpdateStudent defines what may be modified on an existing Student.
// Empty fields keep their current value.
type UpdateStudent struct {
	Code        string `json:"code" validate:"omitempty,alphanum_"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	MonthlyFee  *int   `json:"monthly_fee" validate:"omitempty,gte=0"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	FatherName  string `json:"father_name"`
	FatherPhone string `json:"father_phone"`
	MotherName  string `json:"mother_name"`
	MotherPhone string `json:"mother_phone"`
	FacePhoto   string `json:"face_photo"`
}

func (us *UpdateStudent) Validate(orig Student, svc *Service) error {
	us.Code = core.CleanString(us.Code)
	us.FirstName = core.CleanString(us.FirstName)
	us.LastName = core.CleanString(us.LastName)

	if err := core.Validate.Struct(us); err != nil {
		return err
	}
	if us.Code != "" && us.Code != orig.Code {
		return svc.checkCodeUniqueness(us.Code)
	}
	return nil
}

// NewGroup contains information needed to create a new Group.
type NewGroup struct {
	Name      string   `json:"name" validate:"required"`
	Weekdays  []string `json:"weekdays" validate:"required,min=1,dive,weekday"`
	StartTime string   `json:"start_time" validate:"required,timeofday"`
	EndTime   string   `json:"end_time" validate:"required,timeofday"`
}

func (ng *NewGroup) Validate() error {
	ng.Name = core.CleanString(ng.Name)
	return core.Validate.Struct(ng)
}

// NewPayment records money received from a student.
type NewPayment struct {
	StudentID string `json:"student_id" validate:"required"`
	Amount    int    `json:"amount" validate:"required,gt=0"`
}

func (np *NewPayment) Validate() error { return core.Validate.Struct(np) }

// NewBonus is a manual coin award.
type NewBonus struct {
	StudentID string `json:"student_id" validate:"required"`
	Amount    int    `json:"amount" validate:"required,gt=0"`
	Note      string `json:"note"`
}

func (nb *NewBonus) Validate() error {
	nb.Note = core.CleanString(nb.Note)
	return core.Validate.Struct(nb)
}

// NewDeleteRequest asks the head admin to remove an entity.
type NewDeleteRequest struct {
	EntityKind  EntityKind `json:"entity_kind" validate:"required,oneof=student group payment"`
	EntityID    string     `json:"entity_id" validate:"required"`
	RequestedBy string     `json:"requested_by" validate:"required"`
	Reason      string     `json:"reason" validate:"required"`
}

func (nd *NewDeleteRequest) Validate() error {
	nd.Reason = core.CleanString(nd.Reason)
	return core.Validate.Struct(nd)
}
