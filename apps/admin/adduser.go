package main

import (
	"context"
	"time"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/user"
)

// addUser updates or creates a bootstrap account. CLI-created users skip
// email verification.
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: uname})
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		if usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email}); err != nil && err != user.ErrNotFound {
			return err
		}
	}

	now := time.Now().UTC()
	if usr.ID == "" {
		usr = user.User{
			Username:  uname,
			Email:     email,
			Role:      user.RolePatient,
			CreatedAt: now,
		}
	}
	if isAdmin {
		usr.Role = user.RoleAdmin
	}
	usr.IsActive = true
	usr.EmailVerified = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if usr.ID == "" {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	}
	return err
}
