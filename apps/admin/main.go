package main

import (
	"log"
	"os"

	"github.com/seido/portal/apps/shared"
	"github.com/seido/portal/core"
	emailsvc "github.com/seido/portal/services/email"
	logsvc "github.com/seido/portal/services/logger"
	"github.com/seido/portal/storage/database"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()

	l := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	defer l.Close()
	logger = l

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	// start CLI
	validate, _ := shared.NewValidator()
	repos := shared.SQLRepositories(db)
	cli := commandLine{
		db:       db.DB,
		validate: validate,
		usrRepo:  repos.User,
		svcs:     shared.NewServices(repos, emailsvc.NewConsoleService(conf, logger), conf),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("\nerror: "+err.Error(), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
