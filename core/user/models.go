package user

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Roles. A user holds exactly one role; transition permissions are derived
// from these by the mission package's capability table.
const (
	RolePatient = "patient"
	RoleClinic  = "clinic"
	RoleAdmin   = "admin"

	// RoleSystem is an internal actor for telemetry-driven transitions
	// (launch/delivery confirmations). It is never assignable to a user.
	RoleSystem = "system"
)

var (
	AllRoles = []string{RolePatient, RoleClinic, RoleAdmin}

	rolePriorities = map[string]int{
		RoleAdmin:   30,
		RoleClinic:  20,
		RolePatient: 10,
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

func ValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`

	// clinic fields
	ClinicName     string `json:"clinic_name,omitempty"`
	ClinicVerified bool   `json:"clinic_verified,omitempty"`

	// email verification (6-digit OTP)
	EmailVerified bool      `json:"email_verified"`
	OTPCode       string    `json:"-"`
	OTPExpiresAt  time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
	LastLogin time.Time `json:"last_login"` // UTC
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

func (u *User) IsPatient() bool { return u.Role == RolePatient }
func (u *User) IsClinic() bool  { return u.Role == RoleClinic }
func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }

// CanHandleMissions reports whether a clinic account may accept delivery
// requests: it must be active and its license verified by an admin.
func (u *User) CanHandleMissions() bool {
	return u.IsClinic() && u.IsActive && u.ClinicVerified
}

type NewUser struct {
	Name       string `json:"name" validate:"required"`
	Username   string `json:"username" validate:"required,alphanum_"`
	Email      string `json:"email" validate:"required,email"`
	Role       string `json:"role" validate:"required"`
	Password   string `json:"password" validate:"required"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	ClinicName string `json:"clinic_name"`
}

type UpdateUser struct {
	Name     string `json:"name"`
	Username string `json:"username" validate:"omitempty,alphanum_"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	IsActive *bool  `json:"is_active"`
}

type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}

type QueryFilter struct {
	Search   string
	Role     string
	IsActive *bool
}
