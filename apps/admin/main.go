package main

import (
	"log"
	"os"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/maintenance"
	"github.com/sierrawings/backend/core/notification"
	"github.com/sierrawings/backend/core/user"
	emailsvc "github.com/sierrawings/backend/services/email"
	logsvc "github.com/sierrawings/backend/services/logger"
	"github.com/sierrawings/backend/storage/database"
	sqlxrepos "github.com/sierrawings/backend/storage/database/sqlx"
)

var stdLogger *log.Logger

func main() {
	defer os.Exit(0)

	stdLogger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(db.Ping())

	core.ParseEmailTemplates(logger, conf)

	var transport core.EmailTransport
	if conf.Mail.Enabled() {
		transport = emailsvc.NewSMTPTransport(conf)
	} else {
		transport = emailsvc.NewConsoleTransport(conf)
	}
	dispatcher := notification.NewDispatcher(transport, sqlxrepos.NewEventRepository(db), logger, conf)
	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, dispatcher, conf)

	// start CLI
	cli := commandLine{
		db:         db,
		usrRepo:    usrRepo,
		mntSvc:     maintenance.NewService(usrSvc, dispatcher),
		dispatcher: dispatcher,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}

	// let fire-and-forget sends drain before the process exits
	dispatcher.Flush()
}

func errAndDie(err error) {
	if err != nil {
		stdLogger.Fatal(err)
	}
}
