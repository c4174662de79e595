package main

import (
	"context"
	"database/sql"
	"testing"

	"github.com/sierrawings/backend/core/user"
	"github.com/sierrawings/backend/storage/database/inmem"
)

func mockPassword(pwd string) func() {
	prev := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) { return []byte(pwd), nil }
	return func() { readPasswordFunc = prev }
}

func Test_commandLine_run(t *testing.T) {
	restore := mockPassword("")
	defer restore()

	cli := &commandLine{usrRepo: inmem.NewUserRepository()}

	tests := []struct {
		name string
		args []string
	}{
		{"no command", []string{"admin"}},
		{"unknown command", []string{"admin", "frobnicate"}},
		{"adduser without flags", []string{"admin", "adduser"}},
		{"adduser without email", []string{"admin", "adduser", "-username", "kadi"}},
		{"adduser with empty password", []string{"admin", "adduser", "-username", "kadi", "-email", "kadi@example.sl"}},
		{"broadcast without message", []string{"admin", "broadcast", "-title", "Scheduled maintenance"}},
		{"migrate without subcommand", []string{"admin", "migrate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(tt.args); err != errHelp {
				t.Errorf("run(%v) error = %v, want %v", tt.args, err, errHelp)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	ctx := context.Background()
	restore := mockPassword("s3cr3t-pass")
	defer restore()

	repo := inmem.NewUserRepository()
	cli := &commandLine{usrRepo: repo}

	err := cli.run([]string{"admin", "adduser", "-username", "Kadiatu", "-email", "KADI@example.sl", "-admin"})
	if err != nil {
		t.Fatalf("run(adduser) error = %v", err)
	}

	usr, err := repo.GetUser(ctx, user.GetFilter{Username: "kadiatu"})
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if usr.Email != "kadi@example.sl" {
		t.Errorf("Email = %q, want lowercased kadi@example.sl", usr.Email)
	}
	if usr.Role != user.RoleAdmin {
		t.Errorf("Role = %q, want %q", usr.Role, user.RoleAdmin)
	}
	if !usr.IsActive || !usr.EmailVerified {
		t.Error("expected CLI-created users to be active and email-verified")
	}
	if err = usr.CheckPassword("s3cr3t-pass"); err != nil {
		t.Errorf("CheckPassword() error = %v, want prompted password to be set", err)
	}
}

func Test_commandLine_addUser_updatesExisting(t *testing.T) {
	ctx := context.Background()
	restore := mockPassword("new-pass")
	defer restore()

	repo := inmem.NewUserRepository()
	existing := user.User{
		Name:     "Kadiatu Bangura",
		Username: "kadiatu",
		Email:    "kadi@example.sl",
		Role:     user.RoleClinic,
		IsActive: false,
	}
	existing, err := repo.CreateUser(ctx, existing)
	if err != nil {
		t.Fatal(err)
	}

	cli := &commandLine{usrRepo: repo}
	if err = cli.run([]string{"admin", "adduser", "-username", "kadiatu", "-email", "kadi@example.sl"}); err != nil {
		t.Fatalf("run(adduser) error = %v", err)
	}

	usr, err := repo.GetUser(ctx, user.GetFilter{ID: existing.ID})
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if usr.Role != user.RoleClinic {
		t.Errorf("Role = %q, want the existing role kept without -admin", usr.Role)
	}
	if !usr.IsActive {
		t.Error("expected the account to be reactivated")
	}
	if err = usr.CheckPassword("new-pass"); err != nil {
		t.Errorf("CheckPassword() error = %v, want password reset", err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	prev := gooseRunFunc
	defer func() { gooseRunFunc = prev }()

	var gotCommand, gotDir string
	var gotArgs []string
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		gotCommand, gotDir, gotArgs = command, dir, args
		return nil
	}

	cli := &commandLine{}
	if err := cli.run([]string{"admin", "migrate", "up-to", "20260115090000"}); err != nil {
		t.Fatalf("run(migrate) error = %v", err)
	}
	if gotCommand != "up-to" || gotDir != "migrations" {
		t.Errorf("goose called with (%q, %q), want (up-to, migrations)", gotCommand, gotDir)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "20260115090000" {
		t.Errorf("goose args = %v, want [20260115090000]", gotArgs)
	}
}
