package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/user"
	"github.com/seido/portal/tests"
)

func Test_gradingApi_workflow(t *testing.T) {
	resetDB(t)
	ranks := testutil.CreateKyuRanks(t, repos.Rank)
	instructor := testutil.CreateUser(t, repos.User, "Ito", "Sensei", "ito@test.sg", "", []string{user.RoleInstructor}, true)
	aiko := testutil.CreateStudent(t, repos.User, "Aiko", "aiko@test.sg", ranks[0].ID)
	ken := testutil.CreateUser(t, repos.User, "Ken", "Lim", "ken@test.sg", "", []string{user.RoleStudent}, true)

	staffToken := getToken(t, instructor)
	aikoToken := getToken(t, aiko)
	application := func(rankID string) []byte {
		return marchallObj(t, grading.NewApplication{RequestedRankID: rankID, SignatureText: "Aiko Student"})
	}

	runHTTPTests(t, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/api/gradings", body: application(ranks[1].ID), wantCode: http.StatusUnauthorized},
		{name: "students only", method: http.MethodPost, path: "/api/gradings", token: staffToken, body: application(ranks[1].ID), wantCode: http.StatusForbidden},
		{name: "emergency contact required", method: http.MethodPost, path: "/api/gradings", token: getToken(t, ken), body: application(ranks[1].ID), wantCode: http.StatusBadRequest},
		{name: "not eligible", method: http.MethodPost, path: "/api/gradings", token: aikoToken, body: application(ranks[0].ID), wantCode: http.StatusBadRequest},
		{name: "signature required", method: http.MethodPost, path: "/api/gradings", token: aikoToken, body: []byte(`{"requested_rank_id":"` + ranks[1].ID + `"}`), wantCode: http.StatusBadRequest},
	})

	// apply
	rec := serve(http.MethodPost, "/api/gradings", aikoToken, application(ranks[1].ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var g grading.Grading
	decode(t, rec, &g)
	assert.Equal(t, grading.StatusPending, g.Status)
	assert.Equal(t, grading.ApplicationSubmitted, g.ApplicationStatus)
	assert.Equal(t, ranks[0].ID, g.RankAtApplicationID)
	assert.Equal(t, "Aiko Student", g.Indemnity.SignatureText)

	rec = serve(http.MethodPost, "/api/gradings", aikoToken, application(ranks[1].ID))
	assert.Equal(t, http.StatusConflict, rec.Code, "one open application at a time")

	gPath := "/api/gradings/" + g.ID
	runHTTPTests(t, []httpTest{
		{name: "students cannot approve", method: http.MethodPost, path: gPath + "/approve", token: aikoToken, wantCode: http.StatusForbidden},
		{name: "other students cannot see it", path: gPath, token: getToken(t, ken), wantCode: http.StatusNotFound},
		{name: "unknown grading", method: http.MethodPost, path: "/api/gradings/lol/approve", token: staffToken, wantCode: http.StatusNotFound},
		{
			name: "result before approval", method: http.MethodPost, path: gPath + "/result", token: staffToken,
			body: marchallObj(t, grading.Decision{Result: grading.StatusPass}), wantCode: http.StatusConflict,
		},
	})

	// schedule
	period := marchallObj(t, grading.NewPeriod{Title: "Winter Grading", GradingDate: time.Now().Add(48 * time.Hour), Location: "HQ Dojo", MaxApplications: 1})
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/periods", aikoToken, period).Code)
	rec = serve(http.MethodPost, "/api/periods", staffToken, period)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p grading.Period
	decode(t, rec, &p)
	assert.Equal(t, grading.PeriodUpcoming, p.Status)
	assert.Equal(t, instructor.ID, p.CreatedBy)

	rec = serve(http.MethodPost, gPath+"/approve", staffToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &g)
	assert.Equal(t, grading.ApplicationApproved, g.ApplicationStatus)
	assert.Equal(t, instructor.ID, g.ApplicationDecidedBy)

	rec = serve(http.MethodPost, gPath+"/result", staffToken, marchallObj(t, grading.Decision{Result: grading.StatusPass}))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a period must be assigned first")

	rec = serve(http.MethodPost, gPath+"/assign", staffToken, marchallObj(t, grading.AssignPeriod{PeriodID: p.ID}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &g)
	assert.Equal(t, p.ID, g.GradingPeriodID)

	rec = serve(http.MethodGet, "/api/periods/"+p.ID, aikoToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	assert.Equal(t, 1, p.AssignedCount)

	// grade
	rec = serve(http.MethodPost, gPath+"/result", staffToken, marchallObj(t, grading.Decision{
		Result:         grading.StatusPass,
		Notes:          "Strong kihon, weak kumite.",
		VisibleRemarks: "Well done!",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &g)
	assert.Equal(t, grading.StatusPass, g.Status)
	assert.Equal(t, ranks[1].ID, g.AchievedRankID)
	assert.Equal(t, "Strong kihon, weak kumite.", g.GradingNotes)

	rec = serve(http.MethodPost, gPath+"/result", staffToken, marchallObj(t, grading.Decision{Result: grading.StatusFail}))
	assert.Equal(t, http.StatusConflict, rec.Code, "results are final")

	t.Run("students do not see the notes", func(t *testing.T) {
		var raw map[string]interface{}
		rec := serve(http.MethodGet, gPath, aikoToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &raw)
		assert.NotContains(t, raw, "grading_notes")
		assert.Equal(t, "Well done!", raw["visible_remarks"])

		var mine []grading.Grading
		rec = serve(http.MethodGet, "/api/gradings/mine", aikoToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &mine)
		if assert.Len(t, mine, 1) {
			assert.Empty(t, mine[0].GradingNotes)
		}

		var history []grading.HistoryEntry
		rec = serve(http.MethodGet, "/api/users/"+aiko.ID+"/history", aikoToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &history)
		if assert.Len(t, history, 1) {
			assert.Equal(t, ranks[0].ID, history[0].RankBeforeID)
			assert.Equal(t, ranks[1].ID, history[0].RankAfterID)
			assert.Empty(t, history[0].Notes)
		}
	})

	t.Run("student is promoted", func(t *testing.T) {
		var me user.User
		rec := serve(http.MethodGet, "/api/users/me", aikoToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &me)
		assert.Equal(t, ranks[1].ID, me.CurrentRankID)
	})

	t.Run("stats", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, serve(http.MethodGet, "/api/gradings/stats", aikoToken).Code)

		var stats grading.Stats
		rec := serve(http.MethodGet, "/api/gradings/stats", staffToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &stats)
		assert.Equal(t, grading.Stats{Total: 1, Passed: 1, PassRate: 100}, stats)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := serve(http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "seido_grading_applications_total 1")
		assert.Contains(t, rec.Body.String(), `seido_grading_decisions_total{result="Pass"} 1`)
	})
}

func Test_periodApi(t *testing.T) {
	resetDB(t)
	ranks := testutil.CreateKyuRanks(t, repos.Rank)
	instructor := testutil.CreateUser(t, repos.User, "Ito", "Sensei", "ito@test.sg", "", []string{user.RoleInstructor}, true)
	aiko := testutil.CreateStudent(t, repos.User, "Aiko", "aiko@test.sg", ranks[0].ID)
	ken := testutil.CreateStudent(t, repos.User, "Ken", "ken@test.sg", ranks[0].ID)
	staffToken := getToken(t, instructor)

	now := time.Now()
	full := testutil.CreatePeriod(t, repos.Grading, "Full", now.Add(24*time.Hour), grading.PeriodUpcoming, 1)
	done := testutil.CreatePeriod(t, repos.Grading, "Done", now.Add(-24*time.Hour), grading.PeriodCompleted, 0)
	open := testutil.CreatePeriod(t, repos.Grading, "Open", now.Add(72*time.Hour), grading.PeriodUpcoming, 0)

	gAiko := testutil.CreateGrading(t, repos.Grading, aiko, ranks[1].ID, grading.ApplicationApproved, full.ID)
	gKen := testutil.CreateGrading(t, repos.Grading, ken, ranks[1].ID, grading.ApplicationSubmitted, "")

	t.Run("list", func(t *testing.T) {
		var periods []grading.Period
		rec := serve(http.MethodGet, "/api/periods?status="+grading.PeriodUpcoming+"&ordering=-grading_date", getToken(t, aiko))
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &periods)
		if assert.Len(t, periods, 2) {
			assert.Equal(t, open.ID, periods[0].ID)
			assert.Equal(t, full.ID, periods[1].ID)
			assert.Equal(t, 1, periods[1].AssignedCount)
		}
	})

	t.Run("assignment", func(t *testing.T) {
		assign := func(periodID string) int {
			return serve(http.MethodPost, "/api/gradings/"+gKen.ID+"/assign", staffToken, marchallObj(t, grading.AssignPeriod{PeriodID: periodID})).Code
		}
		assert.Equal(t, http.StatusBadRequest, assign(full.ID), "period is full")
		assert.Equal(t, http.StatusBadRequest, assign(done.ID), "period is over")
		assert.Equal(t, http.StatusBadRequest, assign("lol"), "unknown period")

		var g grading.Grading
		rec := serve(http.MethodPost, "/api/gradings/"+gKen.ID+"/assign", staffToken, marchallObj(t, grading.AssignPeriod{PeriodID: open.ID}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &g)
		assert.Equal(t, grading.ApplicationApproved, g.ApplicationStatus, "assignment approves the application")

		var gradings []grading.Grading
		rec = serve(http.MethodGet, "/api/periods/"+open.ID+"/gradings", staffToken)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &gradings)
		if assert.Len(t, gradings, 1) {
			assert.Equal(t, gKen.ID, gradings[0].ID)
		}
	})

	t.Run("periods with gradings cannot be deleted", func(t *testing.T) {
		assert.Equal(t, http.StatusConflict, serve(http.MethodDelete, "/api/periods/"+full.ID, staffToken).Code)
		assert.Equal(t, http.StatusNoContent, serve(http.MethodDelete, "/api/periods/"+done.ID, staffToken).Code)
		assert.Equal(t, http.StatusNotFound, serve(http.MethodGet, "/api/periods/"+done.ID, staffToken).Code)
	})

	t.Run("bulk results", func(t *testing.T) {
		body := marchallObj(t, grading.BulkDecisions{Decisions: []grading.BulkDecision{
			{GradingID: gAiko.ID, Decision: grading.Decision{Result: grading.StatusFail, VisibleRemarks: "Try again."}},
			{GradingID: gKen.ID, Decision: grading.Decision{Result: grading.StatusPass}},
		}})
		var results []grading.BulkResult
		rec := serve(http.MethodPost, "/api/periods/"+full.ID+"/results", staffToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &results)
		require.Len(t, results, 2)

		if assert.NotNil(t, results[0].Grading) {
			assert.Equal(t, grading.StatusFail, results[0].Grading.Status)
		}
		assert.Empty(t, results[0].Error)
		assert.Nil(t, results[1].Grading, "ken is graded in another period")
		assert.NotEmpty(t, results[1].Error)
	})
}
