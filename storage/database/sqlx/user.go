package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core/user"
)

type userRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	Username       string    `db:"username"`
	Email          string    `db:"email"`
	Role           string    `db:"role"`
	IsActive       bool      `db:"is_active"`
	PasswordHash   []byte    `db:"password_hash"`
	Phone          string    `db:"phone"`
	Address        string    `db:"address"`
	ClinicName     string    `db:"clinic_name"`
	ClinicVerified bool      `db:"clinic_verified"`
	EmailVerified  bool      `db:"email_verified"`
	OTPCode        string    `db:"otp_code"`
	OTPExpiresAt   null.Time `db:"otp_expires_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	LastLogin      null.Time `db:"last_login"`
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sql.DB) *userRepository {
	return &userRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo userRepository) row(usr user.User) userRow {
	r := userRow{
		ID:             usr.ID,
		Name:           usr.Name,
		Username:       usr.Username,
		Email:          usr.Email,
		Role:           usr.Role,
		IsActive:       usr.IsActive,
		PasswordHash:   usr.PasswordHash,
		Phone:          usr.Phone,
		Address:        usr.Address,
		ClinicName:     usr.ClinicName,
		ClinicVerified: usr.ClinicVerified,
		EmailVerified:  usr.EmailVerified,
		OTPCode:        usr.OTPCode,
		CreatedAt:      usr.CreatedAt.UTC(),
		UpdatedAt:      usr.UpdatedAt.UTC(),
	}
	if !usr.OTPExpiresAt.IsZero() {
		r.OTPExpiresAt = null.TimeFrom(usr.OTPExpiresAt.UTC())
	}
	if !usr.LastLogin.IsZero() {
		r.LastLogin = null.TimeFrom(usr.LastLogin.UTC())
	}
	return r
}

func (repo userRepository) unrow(r userRow) user.User {
	return user.User{
		ID:             r.ID,
		Name:           r.Name,
		Username:       r.Username,
		Email:          r.Email,
		Role:           r.Role,
		IsActive:       r.IsActive,
		PasswordHash:   r.PasswordHash,
		Phone:          r.Phone,
		Address:        r.Address,
		ClinicName:     r.ClinicName,
		ClinicVerified: r.ClinicVerified,
		EmailVerified:  r.EmailVerified,
		OTPCode:        r.OTPCode,
		OTPExpiresAt:   r.OTPExpiresAt.Time,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		LastLogin:      r.LastLogin.Time,
	}
}

func (repo userRepository) CheckUniqueness(ctx context.Context, uname, email string, excluded ...user.User) error {
	q := `SELECT username, email FROM "user" WHERE (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($2))`
	args := []interface{}{uname, email}
	for _, excl := range excluded {
		args = append(args, excl.ID)
		q += ` AND id <> $` + strconv.Itoa(len(args))
	}

	var rows []struct {
		Username string `db:"username"`
		Email    string `db:"email"`
	}
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, r := range rows {
		if strings.EqualFold(r.Username, uname) {
			return user.ErrUsernameExists
		}
		if strings.EqualFold(r.Email, email) {
			return user.ErrEmailExists
		}
	}
	return nil
}

const insertUserQuery = `
INSERT INTO "user" (
	id, name, username, email, role, is_active, password_hash, phone, address,
	clinic_name, clinic_verified, email_verified, otp_code, otp_expires_at,
	created_at, updated_at, last_login
) VALUES (
	:id, :name, :username, :email, :role, :is_active, :password_hash, :phone, :address,
	:clinic_name, :clinic_verified, :email_verified, :otp_code, :otp_expires_at,
	:created_at, :updated_at, :last_login
)`

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	if _, err := repo.db.NamedExecContext(ctx, insertUserQuery, repo.row(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		q    string
		args []interface{}
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		q, args = `SELECT * FROM "user" WHERE id = $1`, []interface{}{filter.ID}
	case filter.UsernameOrEmail != "":
		q = `SELECT * FROM "user" WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)`
		args = []interface{}{filter.UsernameOrEmail}
	case filter.Username != "":
		q, args = `SELECT * FROM "user" WHERE LOWER(username) = LOWER($1)`, []interface{}{filter.Username}
	case filter.Email != "":
		q, args = `SELECT * FROM "user" WHERE LOWER(email) = LOWER($1)`, []interface{}{filter.Email}
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	return repo.unrow(row), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	q := `SELECT * FROM "user" WHERE 1=1`
	args := make([]interface{}, 0, 3)

	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		q += ` AND (name ILIKE $` + n + ` OR username ILIKE $` + n +
			` OR email ILIKE $` + n + ` OR clinic_name ILIKE $` + n + `)`
	}
	if filter.Role != "" {
		args = append(args, filter.Role)
		q += ` AND role = $` + strconv.Itoa(len(args))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		q += ` AND is_active = $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY created_at`

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}

	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, repo.unrow(r))
	}
	return users, nil
}

const updateUserQuery = `
UPDATE "user" SET
	name = :name, username = :username, email = :email, role = :role, is_active = :is_active,
	password_hash = :password_hash, phone = :phone, address = :address, clinic_name = :clinic_name,
	clinic_verified = :clinic_verified, email_verified = :email_verified, otp_code = :otp_code,
	otp_expires_at = :otp_expires_at, updated_at = :updated_at, last_login = :last_login
WHERE id = :id`

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.UpdatedAt = time.Now().UTC()
	res, err := repo.db.NamedExecContext(ctx, updateUserQuery, repo.row(usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}
