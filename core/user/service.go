package user

import (
	"errors"
	"time"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/storage/kvstore"
)

// Key is the accounts partition.
const Key = "chess_crm_users"

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	errWrongCurrentPwd    = "current password is incorrect"
	defaultSeedPassword   = "123" // changed on first login in any real deployment
)

type Service struct {
	store *kvstore.Store
}

func NewService(store *kvstore.Store) *Service {
	return &Service{store: store}
}

func (svc *Service) All() []User {
	out := []User{}
	svc.store.Get(Key, &out)
	return out
}

// EnsureSeed creates the initial owner/admin accounts if the partition is
// absent, before any remote pull can race it. A remote snapshot later
// overwrites the seeds wholesale, which is the desired last-writer-wins.
func (svc *Service) EnsureSeed() error {
	if _, ok := svc.store.Raw(Key); ok {
		return nil
	}

	now := time.Now().UTC()
	seeds := []User{
		{ID: svc.store.GenerateID(), Username: "boshadmin", Role: RoleOwner, CreatedAt: now},
		{ID: svc.store.GenerateID(), Username: "admin", Role: RoleAdmin, CreatedAt: now},
	}
	for i := range seeds {
		if err := seeds[i].SetPassword(defaultSeedPassword); err != nil {
			return err
		}
	}
	return svc.store.Set(Key, seeds)
}

func (svc *Service) GetByUsername(username string) (User, error) {
	username = core.CleanString(username, true /* lower */)
	for _, u := range svc.All() {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

// Authenticate is the login check against the stored accounts partition.
func (svc *Service) Authenticate(username, password string) (User, error) {
	usr, err := svc.GetByUsername(username)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	if err = usr.CheckPassword(password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return usr, nil
}

func (svc *Service) UpdatePassword(id string, cp ChangePassword) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	users := svc.All()
	for i := range users {
		if users[i].ID != id {
			continue
		}
		if err := users[i].CheckPassword(cp.Current); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "current", Error: errWrongCurrentPwd})
		}
		if err := users[i].SetPassword(cp.Password); err != nil {
			return err
		}
		return svc.store.Set(Key, users)
	}
	return ErrNotFound
}
