package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

const userColumns = `
	id, username, COALESCE(phone, ''), email, first_name, last_name, COALESCE(city_id, 0),
	is_active, is_staff, email_confirmed, is_customer, created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Username, &u.Phone, &u.Email, &u.FirstName, &u.LastName, &u.CityID,
		&u.Active, &u.Staff, &u.EmailConfirmed, &u.IsCustomer, &u.CreatedAt,
	)
	return u, err
}

func (r *userRepository) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u, err := scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound)
	}
	return u, nil
}

func (r *userRepository) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return r.getUser(ctx, "id = $1", id)
}

func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return r.getUser(ctx, "username = $1", username)
}

func (r *userRepository) GetUserByPhone(ctx context.Context, phone string) (domain.User, error) {
	return r.getUser(ctx, "phone = $1", phone)
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getUser(ctx, "LOWER(email) = LOWER($1) ORDER BY id LIMIT 1", strings.TrimSpace(email))
}

func (r *userRepository) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u.CreatedAt = time.Now().UTC()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (
			username, phone, email, first_name, last_name, city_id,
			is_active, is_staff, email_confirmed, is_customer, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`,
		u.Username, nullText(u.Phone), u.Email, u.FirstName, u.LastName, nullID(u.CityID),
		u.Active, u.Staff, u.EmailConfirmed, u.IsCustomer, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		return domain.User{}, userWriteError(err)
	}
	return u, nil
}

func (r *userRepository) UpdateUser(ctx context.Context, u domain.User) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, phone = $3, email = $4, first_name = $5, last_name = $6, city_id = $7,
		    is_active = $8, is_staff = $9, email_confirmed = $10, is_customer = $11
		WHERE id = $1
	`,
		u.ID, u.Username, nullText(u.Phone), u.Email, u.FirstName, u.LastName, nullID(u.CityID),
		u.Active, u.Staff, u.EmailConfirmed, u.IsCustomer,
	)
	if err != nil {
		return domain.User{}, userWriteError(err)
	}
	if err := mustAffect(res, domain.ErrUserNotFound); err != nil {
		return domain.User{}, err
	}
	return r.GetUser(ctx, u.ID)
}

func userWriteError(err error) error {
	switch {
	case isUniqueViolation(err) && strings.Contains(constraintName(err), "phone"):
		return domain.ErrPhoneTaken
	case isUniqueViolation(err):
		return domain.ErrUsernameTaken
	case isForeignKeyViolation(err):
		return domain.ErrCityNotFound
	default:
		return fmt.Errorf("write user: %w", err)
	}
}

func (r *userRepository) SetEmailConfirmed(ctx context.Context, id int64, confirmed bool) error {
	return r.setFlag(ctx, id, "email_confirmed", confirmed)
}

func (r *userRepository) DeactivateUser(ctx context.Context, id int64) error {
	return r.setFlag(ctx, id, "is_active", false)
}

func (r *userRepository) setFlag(ctx context.Context, id int64, column string, value bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, "UPDATE users SET "+column+" = $2 WHERE id = $1", id, value)
	if err != nil {
		return fmt.Errorf("update user %s: %w", column, err)
	}
	return mustAffect(res, domain.ErrUserNotFound)
}

var _ domain.UserRepository = (*userRepository)(nil)
