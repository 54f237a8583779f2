package services

import (
	"context"
	"strings"

	"github.com/jalsetu/apiserver/types"
)

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
	GetByEmail(ctx context.Context, email string) (types.Account, error)
	ListByRole(ctx context.Context, role types.Role) ([]types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	SetEmailVerified(ctx context.Context, id int, verified bool) error
	UpdateProfile(ctx context.Context, profile types.Profile) (types.Profile, error)
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.Account, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByRole returns every account holding role. An empty role lists all accounts.
func (s *UserService) ListByRole(ctx context.Context, role types.Role) ([]types.Account, error) {
	if role != "" && !role.Valid() {
		return nil, invalid("role", "unknown role")
	}
	return s.repo.ListByRole(ctx, role)
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

// UpdateProfile changes the caller's personal details. The role cannot be changed.
func (s *UserService) UpdateProfile(ctx context.Context, userID int, update ProfileUpdate) (types.Account, error) {
	account, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return types.Account{}, err
	}

	profile := account.Profile
	if name := strings.TrimSpace(update.FullName); name != "" {
		profile.FullName = name
	}
	if phone := strings.TrimSpace(update.Phone); phone != "" {
		profile.Phone = phone
	}
	if address := strings.TrimSpace(update.Address); address != "" {
		profile.Address = address
	}

	updated, err := s.repo.UpdateProfile(ctx, profile)
	if err != nil {
		return types.Account{}, err
	}
	account.Profile = updated
	return account, nil
}
