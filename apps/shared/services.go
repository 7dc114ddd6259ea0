package shared

import (
	"github.com/jmoiron/sqlx"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/rank"
	"github.com/seido/portal/core/referee"
	"github.com/seido/portal/core/user"
	inmemdb "github.com/seido/portal/storage/database/inmem"
	sqlxrepos "github.com/seido/portal/storage/database/sqlx"
)

type (
	Repositories struct {
		User    user.Repository
		Rank    rank.Repository
		Grading grading.Repository
		Referee referee.Repository
		Tx      core.TxRunner
	}

	Services struct {
		User    *user.Service
		Rank    *rank.Service
		Grading *grading.Service
		Referee *referee.Service
	}
)

// SQLRepositories returns the postgres repositories.
func SQLRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		User:    sqlxrepos.NewUserRepository(db),
		Rank:    sqlxrepos.NewRankRepository(db),
		Grading: sqlxrepos.NewGradingRepository(db),
		Referee: sqlxrepos.NewRefereeRepository(db),
		Tx:      core.NewTxRunner(db),
	}
}

// InMemRepositories returns repositories backed by db, for tests and demos.
func InMemRepositories(db *inmemdb.DB) Repositories {
	return Repositories{
		User:    inmemdb.NewUserRepository(db),
		Rank:    inmemdb.NewRankRepository(db),
		Grading: inmemdb.NewGradingRepository(db),
		Referee: inmemdb.NewRefereeRepository(db),
		Tx:      core.NoopTxRunner{},
	}
}

func NewServices(repos Repositories, mailSvc core.EmailService, conf *core.Config, observers ...grading.Observer) Services {
	rankSvc := rank.NewService(repos.Rank)
	usrSvc := user.NewService(repos.User, rankSvc, mailSvc, conf)
	return Services{
		User:    usrSvc,
		Rank:    rankSvc,
		Grading: grading.NewService(repos.Grading, usrSvc, rankSvc, mailSvc, repos.Tx, conf, observers...),
		Referee: referee.NewService(repos.Referee, repos.Tx, conf),
	}
}
