package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sierrawings/backend/core/user"
)

type UserRepository struct {
	mu    sync.Mutex
	users map[string]user.User
}

var _ user.Repository = (*UserRepository)(nil)

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]user.User)}
}

func (repo *UserRepository) CheckUniqueness(ctx context.Context, uname, email string, excluded ...user.User) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

outer:
	for _, usr := range repo.users {
		for _, excl := range excluded {
			if usr.ID == excl.ID {
				continue outer
			}
		}
		if strings.EqualFold(usr.Username, uname) {
			return user.ErrUsernameExists
		}
		if strings.EqualFold(usr.Email, email) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *UserRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	usr.ID = uuid.New().String()
	repo.users[usr.ID] = usr
	return usr, nil
}

func (repo *UserRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if filter.ID != "" {
		if usr, ok := repo.users[filter.ID]; ok {
			return usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.users {
		switch {
		case filter.UsernameOrEmail != "":
			if strings.EqualFold(usr.Username, filter.UsernameOrEmail) || strings.EqualFold(usr.Email, filter.UsernameOrEmail) {
				return usr, nil
			}
		case filter.Username != "":
			if strings.EqualFold(usr.Username, filter.Username) {
				return usr, nil
			}
		case filter.Email != "":
			if strings.EqualFold(usr.Email, filter.Email) {
				return usr, nil
			}
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *UserRepository) QueryUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	users := make([]user.User, 0, len(repo.users))
	for _, usr := range repo.users {
		if filter.Role != "" && usr.Role != filter.Role {
			continue
		}
		if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
			continue
		}
		if filter.Search != "" && !matchesSearch(usr, filter.Search) {
			continue
		}
		users = append(users, usr)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (repo *UserRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.users[usr.ID] = usr
	return usr, nil
}

func matchesSearch(usr user.User, search string) bool {
	search = strings.ToLower(search)
	for _, field := range []string{usr.Name, usr.Username, usr.Email, usr.ClinicName} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}
