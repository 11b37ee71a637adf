package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepository struct {
	s *Store
}

// NewUserRepository создаёт in-memory реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{s: store}
}

func (r *userRepository) GetUser(_ context.Context, id int64) (domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (r *userRepository) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username })
}

func (r *userRepository) GetUserByPhone(_ context.Context, phone string) (domain.User, error) {
	if phone == "" {
		return domain.User{}, domain.ErrUserNotFound
	}
	return r.find(func(u domain.User) bool { return u.Phone == phone })
}

func (r *userRepository) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	if email == "" {
		return domain.User{}, domain.ErrUserNotFound
	}
	return r.find(func(u domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *userRepository) find(match func(domain.User) bool) (domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range sortedKeys(r.s.users) {
		if u := r.s.users[id]; match(u) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *userRepository) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkUnique(u, 0); err != nil {
		return domain.User{}, err
	}
	u.ID = r.s.nextID("users")
	u.CreatedAt = r.s.now()
	r.s.users[u.ID] = u
	return u, nil
}

func (r *userRepository) UpdateUser(_ context.Context, u domain.User) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.users[u.ID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err := r.checkUnique(u, u.ID); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = current.CreatedAt
	r.s.users[u.ID] = u
	return u, nil
}

func (r *userRepository) checkUnique(u domain.User, exceptID int64) error {
	for id, existing := range r.s.users {
		if id == exceptID {
			continue
		}
		if existing.Username == u.Username {
			return domain.ErrUsernameTaken
		}
		if u.Phone != "" && existing.Phone == u.Phone {
			return domain.ErrPhoneTaken
		}
	}
	return nil
}

func (r *userRepository) SetEmailConfirmed(_ context.Context, id int64, confirmed bool) error {
	return r.mutate(id, func(u *domain.User) { u.EmailConfirmed = confirmed })
}

func (r *userRepository) DeactivateUser(_ context.Context, id int64) error {
	return r.mutate(id, func(u *domain.User) { u.Active = false })
}

func (r *userRepository) mutate(id int64, fn func(*domain.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	fn(&u)
	r.s.users[id] = u
	return nil
}

var _ domain.UserRepository = (*userRepository)(nil)
