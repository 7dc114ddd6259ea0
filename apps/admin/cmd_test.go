package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seido/portal/apps/shared"
	"github.com/seido/portal/core"
	"github.com/seido/portal/core/user"
	emailsvc "github.com/seido/portal/services/email"
	logsvc "github.com/seido/portal/services/logger"
	inmemdb "github.com/seido/portal/storage/database/inmem"
	"github.com/seido/portal/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	t.Helper()
	conf := core.NewTestConfig()
	l := logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf)

	// set up DB & repos
	repos := shared.InMemRepositories(inmemdb.Open())
	usrRepo = repos.User
	validate, _ := shared.NewValidator()

	// start CLI
	return &commandLine{
		validate: validate,
		usrRepo:  usrRepo,
		svcs:     shared.NewServices(repos, emailsvc.NewConsoleServiceMock(conf, l), conf),
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	migrateFunc = func(db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_belt_sizes", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "Aiko", "Tan", "aiko@test.sg", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", "lol@test.sg"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@test.sg"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", usr.Email}, extra: extra{pwd: "lol"}},
		{name: "reset with uppercase email", args: []string{"resetpassword", "-email", "AIKO@test.sg"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		pwd := ""
		if extra, ok := tt.extra.(extra); ok {
			pwd = extra.pwd
		}
		mockPassword(pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.NoError(t, refreshedUsr.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	existing := testutil.CreateUser(t, usrRepo, "Kenji", "Lim", "kenji@test.sg", "old", []string{user.RoleStudent}, false)

	tests := []struct {
		cliTest
		email     string
		wantRoles []string
	}{
		{cliTest: cliTest{name: "missing names", args: []string{"adduser", "-email", "a@test.sg"}, wantErr: errHelp}},
		{
			cliTest:   cliTest{name: "new admin", args: []string{"adduser", "-email", "Sensei@Test.sg", "-first", "Hiro", "-last", "Sato", "-admin"}},
			email:     "sensei@test.sg",
			wantRoles: []string{user.RoleAdmin, user.RoleAdminOwner, user.RoleInstructor},
		},
		{
			cliTest:   cliTest{name: "new instructor", args: []string{"adduser", "-email", "coach@test.sg", "-first", "Mei", "-last", "Ong", "-instructor"}},
			email:     "coach@test.sg",
			wantRoles: []string{user.RoleInstructor},
		},
		{
			cliTest:   cliTest{name: "new student", args: []string{"adduser", "-email", "kid@test.sg", "-first", "Ryo", "-last", "Ng"}},
			email:     "kid@test.sg",
			wantRoles: []string{user.RoleStudent},
		},
		{
			cliTest:   cliTest{name: "existing user is reactivated and promoted", args: []string{"adduser", "-email", existing.Email, "-first", "Kenji", "-last", "Lim", "-instructor"}},
			email:     existing.Email,
			wantRoles: []string{user.RoleInstructor},
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		mockPassword("s3cr3t-Pwd")

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err != nil {
				return
			}
			usr, err := usrRepo.GetUser(ctx, user.GetFilter{Email: tt.email})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.wantRoles, usr.Roles)
			assert.True(t, usr.IsActive)
			assert.NoError(t, usr.CheckPassword("s3cr3t-Pwd"))
		})
	}
}

const seedYAML = `
ranks:
  - rank_order: 1
    kyu: 10
    is_default_rank: true
  - rank_order: 2
    kyu: 9
    grading: {available: true, display_order: 1}
  - rank_order: 11
    dan: 1
    display_name: Shodan
    grading: {available: false, display_order: 2}
banks:
  - name: Kumite Referee
    exam_type: referee
    discipline: kumite
    version: "2024"
    questions:
      - {number: 1, text: A Yuko is worth one point., answer: true, rule_reference: Article 6}
      - {number: 2, text: An Ippon is worth two points., answer: false, explanation: It is worth three.}
  - name: Kata Coach
    exam_type: coach
    discipline: kata
    version: "2024"
    active: false
rules:
  - title: Kumite Competition Rules
    category: kumite
    file_url: https://example.org/rules/kumite.pdf
    version: "2024"
    effective_date: 2024-01-01
  - title: Anti-Doping Code
    category: disciplinary
    file_url: https://example.org/rules/doping.pdf
`

func Test_commandLine_seed(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	t.Run("no file", func(t *testing.T) {
		assert.Equal(t, errHelp, cli.run([]string{"admin", "seed"}))
	})
	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, cli.run([]string{"admin", "seed", "-file", filepath.Join(t.TempDir(), "nope.yaml")}))
	})

	// seeding twice must not duplicate anything
	for i := 0; i < 2; i++ {
		require.NoError(t, cli.run([]string{"admin", "seed", "-file", path}))
	}

	ranks, err := cli.svcs.Rank.List(ctx)
	require.NoError(t, err)
	require.Len(t, ranks, 3)
	assert.Equal(t, "White", ranks[0].BeltColor)
	assert.True(t, ranks[0].IsDefault)
	assert.Equal(t, "Shodan", ranks[2].Label())
	assert.Equal(t, "Black", ranks[2].BeltColor)

	configs, err := cli.svcs.Rank.ListConfigurations(ctx, true)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, ranks[1].ID, configs[0].RankID)

	banks, err := cli.svcs.Referee.ListBanks(ctx, false)
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, "Kata Coach", banks[0].Name)
	assert.False(t, banks[0].IsActive)
	assert.True(t, banks[1].IsActive)

	questions, err := cli.svcs.Referee.ListQuestions(ctx, banks[1].ID)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.True(t, questions[0].CorrectAnswer)
	assert.False(t, questions[1].CorrectAnswer)
	assert.Equal(t, "It is worth three.", questions[1].Explanation)

	docs, err := cli.svcs.Referee.ListRuleDocuments(ctx, "")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	kumite, err := cli.svcs.Referee.ListRuleDocuments(ctx, "kumite")
	require.NoError(t, err)
	require.Len(t, kumite, 1)
	if assert.NotNil(t, kumite[0].EffectiveDate) {
		assert.Equal(t, 2024, kumite[0].EffectiveDate.Year())
	}
}
