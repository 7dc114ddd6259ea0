package inmemdb

import (
	"context"
	"time"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/user"
)

type userRepository struct {
	db *table[user.User]
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, email string, excludedUsers []user.User, _ ...core.DBExecutor) error {
	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	found := repo.db.filter(func(u user.User) bool { return u.Email == email && !excluded[u.ID] })
	if len(found) > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	usr.ID = newID()
	repo.db.put(usr.ID, usr)
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]user.User, error) {
	users := repo.db.filter(func(u user.User) bool { return matchUser(u, filter) })
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sortRows(users, ordering, userField)
	return users, nil
}

func matchUser(u user.User, filter *user.QueryFilter) bool {
	if filter == nil {
		return true
	}
	// users with search keyword matching any FirstName, LastName or Email ?
	if filter.Search != "" && !(containsFold(u.FirstName, filter.Search) ||
		containsFold(u.LastName, filter.Search) ||
		containsFold(u.Email, filter.Search) ||
		containsFold(u.FullName(), filter.Search)) {
		return false
	}
	// users with any of the specified roles
	if len(filter.Roles) > 0 {
		hasRole := false
		for _, r := range filter.Roles {
			if u.RoleStartsWith(r) {
				hasRole = true
				break
			}
		}
		if !hasRole {
			return false
		}
	}
	if filter.Dojo != "" && u.Dojo != filter.Dojo {
		return false
	}
	if filter.IsActive != nil && u.IsActive != *filter.IsActive {
		return false
	}
	if filter.CurrentRankID != "" && u.CurrentRankID != filter.CurrentRankID {
		return false
	}
	if !filter.CreatedFrom.IsZero() && u.CreatedAt.Before(filter.CreatedFrom.UTC()) {
		return false
	}
	if !filter.CreatedTo.IsZero() && u.CreatedAt.After(filter.CreatedTo.UTC()) {
		return false
	}
	return true
}

func userField(u user.User, field string) string {
	switch field {
	case "first_name":
		return u.FirstName
	case "last_name":
		return u.LastName
	case "email":
		return u.Email
	case "dojo":
		return u.Dojo
	case "updated_at":
		return timeKey(u.UpdatedAt)
	case "last_login":
		return timeKey(u.LastLogin)
	}
	return timeKey(u.CreatedAt)
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, _ ...core.DBExecutor) (user.User, error) {
	switch {
	case filter.ID != "":
		if usr, ok := repo.db.get(filter.ID); ok {
			return usr, nil
		}
	case filter.Email != "":
		if found := repo.db.filter(func(u user.User) bool { return u.Email == filter.Email }); len(found) > 0 {
			return found[0], nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.UpdatedAt.IsZero() {
		usr.UpdatedAt = time.Now().UTC()
	}
	repo.db.rows[usr.ID] = usr
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	cnt := 0
	for _, id := range ids {
		if _, ok := repo.db.rows[id]; ok {
			delete(repo.db.rows, id)
			cnt++
		}
	}
	return cnt, nil
}
