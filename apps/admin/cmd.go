package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/sierrawings/backend/core/maintenance"
	"github.com/sierrawings/backend/core/notification"
	"github.com/sierrawings/backend/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrRepo    user.Repository
	mntSvc     *maintenance.Service
	dispatcher *notification.Dispatcher
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-admin] - create or update a user; password is prompted")
	fmt.Println("  broadcast -title TITLE -message MESSAGE [-kind scheduled|emergency|completed] - email all active users")
	fmt.Println("  migrate COMMAND [ARGS] - run a migration command (up, down, status, ...)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant the admin role.")

	broadcastCmd := flag.NewFlagSet("broadcast", flag.ExitOnError)
	broadcastTitle := broadcastCmd.String("title", "", "The alert title.")
	broadcastMsg := broadcastCmd.String("message", "", "The alert message.")
	broadcastKind := broadcastCmd.String("kind", maintenance.AlertScheduled, "scheduled|emergency|completed")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserUname, *addUserEmail, string(pwd), *addUserAdmin)
	case "broadcast":
		if err := broadcastCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *broadcastTitle == "" || *broadcastMsg == "" {
			broadcastCmd.Usage()
			return errHelp
		}
		return cli.broadcast(*broadcastKind, *broadcastTitle, *broadcastMsg)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}
