package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/sierrawings/backend/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrAuthFailed     = errors.New("authentication failed")
	ErrOTPInvalid     = errors.New("invalid verification code")
	ErrOTPExpired     = errors.New("verification code expired")
)

type (
	Repository interface {
		CheckUniqueness(ctx context.Context, username, email string, excluded ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		QueryUsers(ctx context.Context, filter QueryFilter) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, conf: conf}
}

func (svc *Service) checkUniqueness(ctx context.Context, uname, email string, excl ...User) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, excl...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Register creates an account and kicks off email verification: a welcome
// email plus a 6-digit OTP code bounded by Config.OTPTimeout.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	uname := core.CleanString(nu.Username, true /* lower */)
	email := core.CleanString(nu.Email, true /* lower */)
	if err := svc.checkUniqueness(ctx, uname, email); err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		Name:       nu.Name,
		Username:   uname,
		Email:      email,
		Role:       nu.Role,
		Phone:      nu.Phone,
		Address:    nu.Address,
		ClinicName: nu.ClinicName,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}

	code, err := GenerateOTP()
	if err != nil {
		return User{}, errors.Wrap(err, "generating OTP")
	}
	usr.OTPCode = code
	usr.OTPExpiresAt = now.Add(svc.conf.OTPTimeout)

	usr, err = svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, err
	}

	svc.mailSvc.SendMessages(
		welcomeEmail(usr),
		otpEmail(usr, code, "email verification", svc.conf.OTPTimeout),
	)
	return usr, nil
}

// Authenticate is the role gateway: it resolves credentials to an identity
// carrying its role. Transition code never re-checks credentials.
func (svc *Service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if err != nil {
		if err == ErrNotFound {
			return User{}, ErrAuthFailed
		}
		return User{}, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrAuthFailed
	}
	if !usr.IsActive {
		return User{}, ErrAuthFailed
	}
	return svc.SetLastLogin(ctx, usr)
}

// VerifyEmail validates a submitted OTP code and marks the account verified.
func (svc *Service) VerifyEmail(ctx context.Context, usr User, code string) (User, error) {
	if err := verifyOTP(usr, code); err != nil {
		return User{}, err
	}
	usr.EmailVerified = true
	usr.OTPCode = ""
	usr.OTPExpiresAt = time.Time{}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// ResendVerification issues a fresh OTP code, invalidating the previous one.
func (svc *Service) ResendVerification(ctx context.Context, usr User) (User, error) {
	code, err := GenerateOTP()
	if err != nil {
		return User{}, errors.Wrap(err, "generating OTP")
	}
	now := time.Now().UTC()
	usr.OTPCode = code
	usr.OTPExpiresAt = now.Add(svc.conf.OTPTimeout)
	usr.UpdatedAt = now

	usr, err = svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, err
	}
	svc.mailSvc.SendMessages(otpEmail(usr, code, "email verification", svc.conf.OTPTimeout))
	return usr, nil
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter)
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	if uu.Username != "" || uu.Email != "" {
		uname := usr.Username
		email := usr.Email
		if uu.Username != "" {
			uname = core.CleanString(uu.Username, true /* lower */)
		}
		if uu.Email != "" {
			email = core.CleanString(uu.Email, true /* lower */)
		}
		if err := svc.checkUniqueness(ctx, uname, email, usr); err != nil {
			return User{}, err
		}
		usr.Username = uname
		usr.Email = email
	}
	if uu.Name != "" {
		usr.Name = uu.Name
	}
	if uu.Phone != "" {
		usr.Phone = uu.Phone
	}
	if uu.Address != "" {
		usr.Address = uu.Address
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// VerifyClinic marks a clinic license as verified by an admin; the clinic
// may then accept missions.
func (svc *Service) VerifyClinic(ctx context.Context, usr User) (User, error) {
	usr.ClinicVerified = true
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func welcomeEmail(usr User) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Welcome to SierraWings Emergency Drone Delivery",
		TemplateName: "welcome",
		TemplateData: struct {
			Name string
			Role string
		}{usr.Name, usr.Role},
	}
}

func otpEmail(usr User, code, purpose string, validity time.Duration) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Your Verification Code - " + code,
		TemplateName: "otp",
		TemplateData: struct {
			Name      string
			Code      string
			Purpose   string
			ExpiresIn string
		}{usr.Name, code, purpose, formatValidity(validity)},
	}
}

// formatValidity renders Config.OTPTimeout for email copy, e.g. "10 minutes".
func formatValidity(d time.Duration) string {
	mins := int(d.Round(time.Minute).Minutes())
	if mins <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", mins)
}
