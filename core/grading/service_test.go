package grading_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/pointer"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/rank"
	"github.com/seido/portal/core/user"
	emailsvc "github.com/seido/portal/services/email"
	logsvc "github.com/seido/portal/services/logger"
	inmemdb "github.com/seido/portal/storage/database/inmem"
	"github.com/seido/portal/tests"
)

type recordingObserver struct {
	sync.Mutex
	submitted []string
	recorded  []string
}

func (o *recordingObserver) ApplicationSubmitted(g grading.Grading) {
	o.Lock()
	defer o.Unlock()
	o.submitted = append(o.submitted, g.ID)
}

func (o *recordingObserver) ResultRecorded(g grading.Grading) {
	o.Lock()
	defer o.Unlock()
	o.recorded = append(o.recorded, g.Status)
}

type fixture struct {
	svc      *grading.Service
	repo     grading.Repository
	usrRepo  user.Repository
	usrSvc   *user.Service
	observer *recordingObserver
	ranks    []rank.Rank
	admin    user.User
}

func setup(t *testing.T) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	conf.Grading.DefaultMaxApplications = 20
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logsvc.NewRollbarLogger(logsvc.NewStdLogger(conf), conf))
	emailsvc.ResetSentMessages()

	db := inmemdb.Open()
	f := fixture{
		repo:     inmemdb.NewGradingRepository(db),
		usrRepo:  inmemdb.NewUserRepository(db),
		observer: &recordingObserver{},
	}
	rankRepo := inmemdb.NewRankRepository(db)
	rankSvc := rank.NewService(rankRepo)
	f.usrSvc = user.NewService(f.usrRepo, rankSvc, mailSvc, conf)
	f.svc = grading.NewService(f.repo, f.usrSvc, rankSvc, mailSvc, core.NoopTxRunner{}, conf, f.observer)
	f.ranks = testutil.CreateKyuRanks(t, rankRepo)
	f.admin = testutil.CreateUser(t, f.usrRepo, "Hiro", "Sato", "sensei@test.sg", "", []string{user.RoleAdmin, user.RoleInstructor}, true)
	return f
}

func assertValidationErr(t *testing.T, err, want error) {
	t.Helper()
	var vErr *core.ValidationError
	if assert.ErrorAs(t, err, &vErr) {
		assert.Equal(t, want, vErr.Err)
	}
}

func (f fixture) student(t *testing.T, email string, rankIdx int) user.User {
	return testutil.CreateStudent(t, f.usrRepo, "Aiko", email, f.ranks[rankIdx].ID)
}

func (f fixture) upcomingPeriod(t *testing.T, maxApplications int) grading.Period {
	return testutil.CreatePeriod(t, f.repo, "Spring Grading", time.Now().Add(7*24*time.Hour), grading.PeriodUpcoming, maxApplications)
}

func TestService_Apply(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	student := f.student(t, "aiko@test.sg", 0)
	noContact := testutil.CreateUser(t, f.usrRepo, "Ken", "Lim", "ken@test.sg", "", []string{user.RoleStudent}, true)

	t.Run("emergency contact required", func(t *testing.T) {
		_, err := f.svc.Apply(ctx, noContact, grading.NewApplication{RequestedRankID: f.ranks[1].ID, SignatureText: "Ken Lim"})
		assertValidationErr(t, err, grading.ErrEmergencyContactIncomplete)
	})

	t.Run("rank not above current", func(t *testing.T) {
		_, err := f.svc.Apply(ctx, student, grading.NewApplication{RequestedRankID: f.ranks[0].ID, SignatureText: "Aiko"})
		assertValidationErr(t, err, rank.ErrNotEligible)
	})

	var g grading.Grading
	t.Run("submitted", func(t *testing.T) {
		var err error
		g, err = f.svc.Apply(ctx, student, grading.NewApplication{RequestedRankID: f.ranks[1].ID, SignatureText: "Aiko"})
		require.NoError(t, err)
		assert.Equal(t, grading.StatusPending, g.Status)
		assert.Equal(t, grading.ApplicationSubmitted, g.ApplicationStatus)
		assert.Equal(t, f.ranks[0].ID, g.RankAtApplicationID)
		if assert.NotNil(t, g.GradeAtApplication) {
			assert.Equal(t, "10 Kyu", g.GradeAtApplication.Label)
			assert.Equal(t, rank.BeltWhite, g.GradeAtApplication.BeltColor)
		}
		assert.Equal(t, f.ranks[1].Grade(), g.RequestedGrade)
		assert.Equal(t, "Aiko", g.Indemnity.SignatureText)
		assert.False(t, g.Indemnity.SignedAt.IsZero())
		assert.Equal(t, []string{g.ID}, f.observer.submitted)

		msgs := emailsvc.LastSentMessages()
		if assert.Len(t, msgs, 1) {
			assert.Equal(t, "Grading Application Received", msgs[0].Subject)
			assert.Equal(t, student.Email, msgs[0].To[0].Address)
			assert.Contains(t, msgs[0].TextContent, "9 Kyu")
		}
	})

	t.Run("one open application at a time", func(t *testing.T) {
		_, err := f.svc.Apply(ctx, student, grading.NewApplication{RequestedRankID: f.ranks[2].ID, SignatureText: "Aiko"})
		assert.Equal(t, grading.ErrOpenApplication, err)
	})

	t.Run("re-apply after rejection", func(t *testing.T) {
		_, err := f.svc.RejectApplication(ctx, g.ID, f.admin.ID, grading.RejectApplication{Remarks: "Not ready"})
		require.NoError(t, err)
		_, err = f.svc.Apply(ctx, student, grading.NewApplication{RequestedRankID: f.ranks[1].ID, SignatureText: "Aiko"})
		assert.NoError(t, err)
	})
}

func TestService_applicationReview(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	student := f.student(t, "aiko@test.sg", 0)

	t.Run("approve", func(t *testing.T) {
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationSubmitted, "")
		g, err := f.svc.ApproveApplication(ctx, g.ID, f.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, grading.ApplicationApproved, g.ApplicationStatus)
		assert.Equal(t, f.admin.ID, g.ApplicationDecidedBy)
		assert.NotNil(t, g.ApplicationDecidedAt)

		_, err = f.svc.ApproveApplication(ctx, g.ID, f.admin.ID)
		assert.Equal(t, grading.ErrInvalidTransition, err)
	})

	t.Run("reject clears the period", func(t *testing.T) {
		p := f.upcomingPeriod(t, 10)
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, p.ID)
		g, err := f.svc.RejectApplication(ctx, g.ID, f.admin.ID, grading.RejectApplication{Remarks: "Missing dues"})
		require.NoError(t, err)
		assert.Equal(t, grading.ApplicationRejected, g.ApplicationStatus)
		assert.Equal(t, "Missing dues", g.ApplicationRemarks)
		assert.Empty(t, g.GradingPeriodID)

		_, err = f.svc.RejectApplication(ctx, g.ID, f.admin.ID, grading.RejectApplication{Remarks: "again"})
		assert.Equal(t, grading.ErrInvalidTransition, err)
	})

	t.Run("unknown grading", func(t *testing.T) {
		_, err := f.svc.ApproveApplication(ctx, "lol", f.admin.ID)
		assert.True(t, core.IsNotFound(err))
	})
}

func TestService_AssignPeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	full := f.upcomingPeriod(t, 1)
	open := f.upcomingPeriod(t, 5)
	past := testutil.CreatePeriod(t, f.repo, "Last Year", time.Now().Add(-24*time.Hour), grading.PeriodUpcoming, 5)
	completed := testutil.CreatePeriod(t, f.repo, "Done", time.Now().Add(24*time.Hour), grading.PeriodCompleted, 5)

	first := f.student(t, "first@test.sg", 0)
	testutil.CreateGrading(t, f.repo, first, f.ranks[1].ID, grading.ApplicationApproved, full.ID)

	student := f.student(t, "aiko@test.sg", 0)
	g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationSubmitted, "")

	tests := []struct {
		name     string
		periodID string
		wantErr  error
	}{
		{name: "unknown period", periodID: "lol", wantErr: grading.ErrPeriodNotFound},
		{name: "past period", periodID: past.ID, wantErr: grading.ErrPeriodNotUpcoming},
		{name: "completed period", periodID: completed.ID, wantErr: grading.ErrPeriodNotUpcoming},
		{name: "full period", periodID: full.ID, wantErr: grading.ErrPeriodFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AssignPeriod(ctx, g.ID, tt.periodID, f.admin.ID)
			assertValidationErr(t, err, tt.wantErr)
		})
	}

	t.Run("assign approves the application", func(t *testing.T) {
		assigned, err := f.svc.AssignPeriod(ctx, g.ID, open.ID, f.admin.ID)
		require.NoError(t, err)
		assert.Equal(t, open.ID, assigned.GradingPeriodID)
		assert.Equal(t, grading.ApplicationApproved, assigned.ApplicationStatus)

		p, err := f.svc.GetPeriod(ctx, open.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, p.AssignedCount)

		msgs := emailsvc.LastSentMessages()
		if assert.NotEmpty(t, msgs) {
			assert.Contains(t, msgs[len(msgs)-1].TextContent, "Spring Grading")
		}
	})

	t.Run("assigning the same period again is a no-op", func(t *testing.T) {
		_, err := f.svc.AssignPeriod(ctx, g.ID, open.ID, f.admin.ID)
		assert.NoError(t, err)
	})

	t.Run("unassign", func(t *testing.T) {
		unassigned, err := f.svc.UnassignPeriod(ctx, g.ID)
		require.NoError(t, err)
		assert.Empty(t, unassigned.GradingPeriodID)
		assert.Equal(t, grading.ApplicationApproved, unassigned.ApplicationStatus)

		_, err = f.svc.UnassignPeriod(ctx, g.ID)
		assert.Equal(t, grading.ErrInvalidTransition, err)
	})
}

func TestService_RecordResult(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.upcomingPeriod(t, 10)

	t.Run("period required", func(t *testing.T) {
		student := f.student(t, "noperiod@test.sg", 0)
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, "")
		_, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: grading.StatusPass})
		assertValidationErr(t, err, grading.ErrPeriodRequired)
	})

	t.Run("application must be approved", func(t *testing.T) {
		student := f.student(t, "submitted@test.sg", 0)
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationSubmitted, p.ID)
		_, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: grading.StatusPass})
		assert.Equal(t, grading.ErrInvalidTransition, err)
	})

	t.Run("pass promotes the student", func(t *testing.T) {
		student := f.student(t, "pass@test.sg", 0)
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, p.ID)

		g, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{
			Result:         grading.StatusPass,
			Notes:          "Sharp kihon",
			VisibleRemarks: "Well done",
			CertificateURL: "https://example.org/cert.pdf",
		})
		require.NoError(t, err)
		assert.Equal(t, grading.StatusPass, g.Status)
		assert.Equal(t, f.ranks[1].ID, g.AchievedRankID)
		assert.Equal(t, f.admin.ID, g.DecidedBy)

		promoted, err := f.usrSvc.GetByID(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, f.ranks[1].ID, promoted.CurrentRankID)
		assert.NotNil(t, promoted.RankEffectiveDate)

		history, err := f.svc.History(ctx, student.ID)
		require.NoError(t, err)
		if assert.Len(t, history, 1) {
			assert.Equal(t, f.ranks[0].ID, history[0].RankBeforeID)
			assert.Equal(t, f.ranks[1].ID, history[0].RankAfterID)
			if assert.NotNil(t, history[0].GradeAfter) {
				assert.Equal(t, "9 Kyu", history[0].GradeAfter.Label)
			}
			assert.Equal(t, "Sharp kihon", history[0].Notes)
			assert.Empty(t, history[0].ForStudent().Notes)
		}

		_, err = f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: grading.StatusFail})
		assert.Equal(t, grading.ErrInvalidTransition, err)
	})

	t.Run("fail keeps the rank", func(t *testing.T) {
		student := f.student(t, "fail@test.sg", 0)
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, p.ID)

		g, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: grading.StatusFail})
		require.NoError(t, err)
		assert.Empty(t, g.AchievedRankID)

		same, err := f.usrSvc.GetByID(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, f.ranks[0].ID, same.CurrentRankID)

		history, err := f.svc.History(ctx, student.ID)
		require.NoError(t, err)
		if assert.Len(t, history, 1) {
			assert.Equal(t, history[0].RankBeforeID, history[0].RankAfterID)
			if assert.NotNil(t, history[0].GradeAfter) {
				assert.Equal(t, f.ranks[0].Grade(), *history[0].GradeAfter)
			}
		}
	})

	t.Run("pass never demotes", func(t *testing.T) {
		student := f.student(t, "senior@test.sg", 5)
		g := testutil.CreateGrading(t, f.repo, student, f.ranks[2].ID, grading.ApplicationApproved, p.ID)

		_, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: grading.StatusPass})
		require.NoError(t, err)

		same, err := f.usrSvc.GetByID(ctx, student.ID)
		require.NoError(t, err)
		assert.Equal(t, f.ranks[5].ID, same.CurrentRankID)
	})

	assert.Equal(t, []string{grading.StatusPass, grading.StatusFail, grading.StatusPass}, f.observer.recorded)
}

func TestService_RecordResult_concurrentDecisions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.upcomingPeriod(t, 10)
	student := f.student(t, "race@test.sg", 0)
	g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, p.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		decided   int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		result := grading.StatusPass
		if i%2 == 1 {
			result = grading.StatusFail
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: result})
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				decided++
			case grading.ErrInvalidTransition:
				conflicts++
			default:
				t.Errorf("RecordResult() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, decided)
	assert.Equal(t, 15, conflicts)
	history, err := f.svc.History(ctx, student.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRepository_RecordGradingResult(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.upcomingPeriod(t, 10)
	student := f.student(t, "stale@test.sg", 0)
	g := testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, p.ID)

	// both decisions were read while the grading was pending
	pass, fail := g, g
	pass.Status = grading.StatusPass
	fail.Status = grading.StatusFail

	_, err := f.repo.RecordGradingResult(ctx, pass)
	require.NoError(t, err)
	_, err = f.repo.RecordGradingResult(ctx, fail)
	assert.Equal(t, grading.ErrInvalidTransition, err)

	stored, err := f.repo.GetGrading(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusPass, stored.Status)

	_, err = f.repo.RecordGradingResult(ctx, grading.Grading{ID: "lol"})
	assert.Equal(t, grading.ErrNotFound, err)
}

func TestService_BulkRecordResult(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.upcomingPeriod(t, 10)
	other := f.upcomingPeriod(t, 10)

	g1 := testutil.CreateGrading(t, f.repo, f.student(t, "one@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, p.ID)
	g2 := testutil.CreateGrading(t, f.repo, f.student(t, "two@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, p.ID)
	elsewhere := testutil.CreateGrading(t, f.repo, f.student(t, "three@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, other.ID)

	_, err := f.svc.BulkRecordResult(ctx, "lol", f.admin.ID, nil)
	assert.Equal(t, grading.ErrPeriodNotFound, err)

	results, err := f.svc.BulkRecordResult(ctx, p.ID, f.admin.ID, []grading.BulkDecision{
		{GradingID: g1.ID, Decision: grading.Decision{Result: grading.StatusPass}},
		{GradingID: elsewhere.ID, Decision: grading.Decision{Result: grading.StatusPass}},
		{GradingID: g2.ID, Decision: grading.Decision{Result: grading.StatusFail}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	if assert.NotNil(t, results[0].Grading) {
		assert.Equal(t, grading.StatusPass, results[0].Grading.Status)
	}
	assert.Nil(t, results[1].Grading)
	assert.Equal(t, grading.ErrNotFound.Error(), results[1].Error)
	if assert.NotNil(t, results[2].Grading) {
		assert.Equal(t, grading.StatusFail, results[2].Grading.Status)
	}
}

func TestService_Stats(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.upcomingPeriod(t, 10)

	testutil.CreateGrading(t, f.repo, f.student(t, "new@test.sg", 0), f.ranks[1].ID, grading.ApplicationSubmitted, "")
	testutil.CreateGrading(t, f.repo, f.student(t, "waiting@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, "")
	testutil.CreateGrading(t, f.repo, f.student(t, "assigned@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, p.ID)
	testutil.CreateGrading(t, f.repo, f.student(t, "rejected@test.sg", 0), f.ranks[1].ID, grading.ApplicationRejected, "")
	for i, result := range []string{grading.StatusPass, grading.StatusPass, grading.StatusFail} {
		g := testutil.CreateGrading(t, f.repo, f.student(t, string(rune('a'+i))+"@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, p.ID)
		_, err := f.svc.RecordResult(ctx, g.ID, f.admin.ID, grading.Decision{Result: result})
		require.NoError(t, err)
	}

	st, err := f.svc.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, grading.Stats{
		Total:           7,
		NewApplications: 1,
		AwaitingPeriod:  1,
		AssignedPending: 1,
		Rejected:        1,
		Passed:          2,
		Failed:          1,
		PassRate:        66.7,
	}, st)

	st, err = f.svc.Stats(ctx, &grading.QueryFilter{PeriodID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
}

func TestService_periods(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	date := time.Now().Add(30 * 24 * time.Hour)

	p, err := f.svc.CreatePeriod(ctx, f.admin.ID, grading.NewPeriod{Title: "Summer Grading", GradingDate: date})
	require.NoError(t, err)
	assert.Equal(t, 20, p.MaxApplications)
	assert.Equal(t, grading.PeriodUpcoming, p.Status)
	assert.Equal(t, f.admin.ID, p.CreatedBy)

	student := f.student(t, "aiko@test.sg", 0)
	testutil.CreateGrading(t, f.repo, student, f.ranks[1].ID, grading.ApplicationApproved, p.ID)
	testutil.CreateGrading(t, f.repo, f.student(t, "ken@test.sg", 0), f.ranks[1].ID, grading.ApplicationApproved, p.ID)

	t.Run("update", func(t *testing.T) {
		_, err := f.svc.UpdatePeriod(ctx, p.ID, grading.UpdatePeriod{MaxApplications: pointer.Int(1)})
		var vErr *core.ValidationError
		if assert.ErrorAs(t, err, &vErr) {
			assert.Equal(t, "max_applications", vErr.Fields[0].Field)
		}

		updated, err := f.svc.UpdatePeriod(ctx, p.ID, grading.UpdatePeriod{
			Title:           "Summer Grading 2",
			Location:        pointer.String(" HQ Dojo "),
			MaxApplications: pointer.Int(2),
		})
		require.NoError(t, err)
		assert.Equal(t, "Summer Grading 2", updated.Title)
		assert.Equal(t, "HQ Dojo", updated.Location)
		assert.Equal(t, 2, updated.MaxApplications)
	})

	t.Run("delete with gradings", func(t *testing.T) {
		assert.Equal(t, grading.ErrPeriodHasGradings, f.svc.DeletePeriod(ctx, p.ID))
	})

	t.Run("list upcoming", func(t *testing.T) {
		testutil.CreatePeriod(t, f.repo, "Past", time.Now().Add(-time.Hour), grading.PeriodUpcoming, 5)
		cancelled := testutil.CreatePeriod(t, f.repo, "Cancelled", date, grading.PeriodCancelled, 5)

		periods, err := f.svc.ListPeriods(ctx, grading.PeriodFilter{UpcomingOnly: true}, nil)
		require.NoError(t, err)
		if assert.Len(t, periods, 1) {
			assert.Equal(t, p.ID, periods[0].ID)
			assert.Equal(t, 2, periods[0].AssignedCount)
		}

		periods, err = f.svc.ListPeriods(ctx, grading.PeriodFilter{Status: grading.PeriodCancelled}, nil)
		require.NoError(t, err)
		if assert.Len(t, periods, 1) {
			assert.Equal(t, cancelled.ID, periods[0].ID)
		}
	})

	t.Run("status", func(t *testing.T) {
		updated, err := f.svc.SetPeriodStatus(ctx, p.ID, grading.PeriodCompleted)
		require.NoError(t, err)
		assert.Equal(t, grading.PeriodCompleted, updated.Status)

		_, err = f.svc.SetPeriodStatus(ctx, p.ID, grading.PeriodUpcoming)
		assert.Equal(t, grading.ErrPeriodFinal, err)
		_, err = f.svc.UpdatePeriod(ctx, p.ID, grading.UpdatePeriod{Title: "Again"})
		assert.Equal(t, grading.ErrPeriodFinal, err)
	})

	t.Run("delete empty period", func(t *testing.T) {
		empty := f.upcomingPeriod(t, 5)
		require.NoError(t, f.svc.DeletePeriod(ctx, empty.ID))
		_, err := f.svc.GetPeriod(ctx, empty.ID)
		assert.Equal(t, grading.ErrPeriodNotFound, err)
	})
}
