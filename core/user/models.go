// Package user holds the staff accounts: a small seeded set persisted like
// any other partition, checked at login.
package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/chessclub/core"
)

// Roles
const (
	RoleOwner = "owner" // head admin: approves delete requests, resets rewards
	RoleAdmin = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash []byte    `json:"password_hash"` // persisted: accounts replicate like any partition
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsOwner() bool { return u.Role == RoleOwner }

// ChangePassword carries a password update for the current account.
type ChangePassword struct {
	Current         string `json:"current" validate:"required"`
	Password        string `json:"password" validate:"required,min=4"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (cp ChangePassword) Validate() error { return core.Validate.Struct(cp) }
