package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seido/portal/core/referee"
	"github.com/seido/portal/core/user"
	"github.com/seido/portal/tests"
)

func Test_refereeApi_banks(t *testing.T) {
	resetDB(t)
	admin := testutil.CreateUser(t, repos.User, "Admin", "Sensei", "admin@test.sg", "", []string{user.RoleAdmin}, true)
	rei := testutil.CreateUser(t, repos.User, "Rei", "Tan", "rei@test.sg", "", []string{user.RoleStudent}, true)
	adminToken := getToken(t, admin)
	userToken := getToken(t, rei)

	newBank := marchallObj(t, referee.NewBank{Name: "WKF Kata", ExamType: "Referee", Discipline: "KATA", Version: "2024"})
	runHTTPTests(t, []httpTest{
		{name: "admin only", method: http.MethodPost, path: "/api/referee/banks", token: userToken, body: newBank, wantCode: http.StatusForbidden},
		{
			name: "invalid discipline", method: http.MethodPost, path: "/api/referee/banks", token: adminToken,
			body: marchallObj(t, referee.NewBank{Name: "WKF Kata", ExamType: "referee", Discipline: "judo"}), wantCode: http.StatusBadRequest,
		},
	})

	rec := serve(http.MethodPost, "/api/referee/banks", adminToken, newBank)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bank referee.QuestionBank
	decode(t, rec, &bank)
	assert.Equal(t, "referee", bank.ExamType)
	assert.Equal(t, "kata", bank.Discipline)
	assert.True(t, bank.IsActive)

	assert.Equal(t, http.StatusBadRequest, serve(http.MethodPost, "/api/referee/banks", adminToken, newBank).Code, "name and version are unique")

	questions := marchallObj(t, referee.NewQuestions{Questions: []referee.NewQuestion{
		{QuestionNumber: 1, QuestionText: "A kata may be repeated in the same bout.", CorrectAnswer: false},
		{QuestionNumber: 2, QuestionText: "Seven judges score each kata.", CorrectAnswer: true},
	}})
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/questions", userToken, questions).Code)
	rec = serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/questions", adminToken, questions)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	listBanks := func(token string) []referee.QuestionBank {
		var banks []referee.QuestionBank
		rec := serve(http.MethodGet, "/api/referee/banks", token)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &banks)
		return banks
	}
	setActive := func(active string) {
		rec := serve(http.MethodPut, "/api/referee/banks/"+bank.ID+"/active", adminToken, []byte(`{"is_active":`+active+`}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	setActive("false")
	assert.Empty(t, listBanks(userToken), "inactive banks are hidden")
	assert.Len(t, listBanks(adminToken), 1)
	assert.Equal(t, http.StatusConflict, serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz", userToken).Code)

	setActive("true")
	assert.Len(t, listBanks(userToken), 1)
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz", userToken).Code)

	assert.Equal(t, http.StatusForbidden, serve(http.MethodGet, "/api/referee/banks/"+bank.ID+"/questions", userToken).Code)
	var qs []referee.Question
	rec = serve(http.MethodGet, "/api/referee/banks/"+bank.ID+"/questions", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &qs)
	if assert.Len(t, qs, 2) {
		assert.Equal(t, 1, qs[0].QuestionNumber)
		assert.True(t, qs[1].CorrectAnswer)
	}
}

func Test_refereeApi_quiz(t *testing.T) {
	resetDB(t)
	usr := testutil.CreateUser(t, repos.User, "Rei", "Tan", "rei@test.sg", "", []string{user.RoleStudent}, true)
	token := getToken(t, usr)
	bank, questions := testutil.CreateBank(t, repos.Referee, "WKF Kumite", true, false, true)

	t.Run("questions are drawn without answers", func(t *testing.T) {
		rec := serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz", token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var raw struct {
			BankID    string                   `json:"bank_id"`
			Questions []map[string]interface{} `json:"questions"`
		}
		decode(t, rec, &raw)
		assert.Equal(t, bank.ID, raw.BankID)
		assert.Len(t, raw.Questions, conf.Grading.QuizDefaultSize)
		for _, q := range raw.Questions {
			assert.NotContains(t, q, "correct_answer")
		}

		var quiz referee.Quiz
		rec = serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz", token, []byte(`{"size":10}`))
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &quiz)
		assert.Len(t, quiz.Questions, len(questions), "capped at the bank size")
	})

	t.Run("submit", func(t *testing.T) {
		drawn := []string{questions[0].ID, questions[1].ID, questions[2].ID}
		runHTTPTests(t, []httpTest{
			{
				name: "unknown bank", method: http.MethodPost, path: "/api/referee/banks/lol/quiz/submit", token: token,
				body: marchallObj(t, referee.Submission{QuestionIDs: drawn}), wantCode: http.StatusNotFound,
			},
			{
				name: "question ids required", method: http.MethodPost, path: "/api/referee/banks/" + bank.ID + "/quiz/submit", token: token,
				body: marchallObj(t, referee.Submission{Answers: map[string]bool{questions[0].ID: true}}), wantCode: http.StatusBadRequest,
			},
			{
				name: "question outside the bank", method: http.MethodPost, path: "/api/referee/banks/" + bank.ID + "/quiz/submit", token: token,
				body: marchallObj(t, referee.Submission{QuestionIDs: []string{"lol"}}), wantCode: http.StatusBadRequest,
			},
		})

		sub := referee.Submission{
			QuestionIDs: drawn,
			Answers: map[string]bool{
				questions[0].ID:   true, // correct
				questions[1].ID:   true, // wrong
				questions[2].ID:   true, // correct
				"not-in-the-bank": true, // ignored
			},
			TimeTakenSeconds: 42,
		}
		rec := serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz/submit", token, marchallObj(t, sub))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var res referee.QuizResult
		decode(t, rec, &res)
		assert.Equal(t, 2, res.Attempt.Score)
		assert.Equal(t, 3, res.Attempt.TotalQuestions)
		assert.Equal(t, 67, res.Attempt.Percentage)
		assert.Equal(t, 42, res.Attempt.TimeTakenSeconds)
		assert.Len(t, res.Feedback, 3)
	})

	t.Run("progress", func(t *testing.T) {
		var attempts []referee.QuizAttempt
		rec := serve(http.MethodGet, "/api/referee/attempts?bank_id="+bank.ID, token)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &attempts)
		assert.Len(t, attempts, 1)

		var stats referee.ProgressStats
		rec = serve(http.MethodGet, "/api/referee/progress", token)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &stats)
		assert.Equal(t, 1, stats.Attempts)
		assert.Equal(t, 67, stats.BestPercentage)
		if assert.Len(t, stats.Banks, 1) {
			assert.Equal(t, 3, stats.Banks[0].QuestionsAttempted)
			assert.Equal(t, 2, stats.Banks[0].QuestionsCorrect)
		}

		// attempts are private
		other := testutil.CreateUser(t, repos.User, "Ken", "Lim", "ken@test.sg", "", []string{user.RoleStudent}, true)
		rec = serve(http.MethodGet, "/api/referee/attempts", getToken(t, other))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func Test_refereeApi_flashcards(t *testing.T) {
	resetDB(t)
	usr := testutil.CreateUser(t, repos.User, "Rei", "Tan", "rei@test.sg", "", []string{user.RoleStudent}, true)
	token := getToken(t, usr)
	bank, questions := testutil.CreateBank(t, repos.Referee, "WKF Kumite", true, false, true)

	due := func(query string) []referee.Flashcard {
		var cards []referee.Flashcard
		rec := serve(http.MethodGet, "/api/referee/banks/"+bank.ID+"/flashcards"+query, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &cards)
		return cards
	}
	review := func(questionID, body string) int {
		return serve(http.MethodPost, "/api/referee/flashcards/"+questionID+"/review", token, []byte(body)).Code
	}

	assert.Equal(t, http.StatusBadRequest, review(questions[0].ID, `{}`), "correct is required")
	assert.Equal(t, http.StatusNotFound, review("lol", `{"correct":true}`))

	rec := serve(http.MethodPost, "/api/referee/flashcards/"+questions[0].ID+"/review", token, []byte(`{"correct":true}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fp referee.FlashcardProgress
	decode(t, rec, &fp)
	assert.Equal(t, 1, fp.TimesReviewed)
	assert.Equal(t, 1, fp.TimesCorrect)
	assert.True(t, fp.NextReviewAt.After(fp.LastReviewedAt))

	require.Equal(t, http.StatusOK, review(questions[1].ID, `{"correct":false}`))

	cards := due("")
	require.Len(t, cards, 3)
	assert.Equal(t, questions[2].ID, cards[0].ID, "never reviewed first")
	assert.Nil(t, cards[0].Progress)
	assert.Equal(t, questions[1].ID, cards[1].ID, "missed cards come back sooner")
	assert.Equal(t, questions[0].ID, cards[2].ID)

	assert.Len(t, due("?limit=1"), 1)
	assert.Len(t, due("?limit=lol"), 3)
}

func Test_refereeApi_rules(t *testing.T) {
	resetDB(t)
	admin := testutil.CreateUser(t, repos.User, "Admin", "Sensei", "admin@test.sg", "", []string{user.RoleAdmin}, true)
	usr := testutil.CreateUser(t, repos.User, "Rei", "Tan", "rei@test.sg", "", []string{user.RoleStudent}, true)

	doc := func(title, category string, order int) []byte {
		return marchallObj(t, referee.NewRuleDocument{
			Title:        title,
			Category:     category,
			FileURL:      "https://rules.test.sg/" + category + ".pdf",
			Version:      "2024",
			DisplayOrder: order,
		})
	}
	assert.Equal(t, http.StatusForbidden, serve(http.MethodPost, "/api/referee/rules", getToken(t, usr), doc("Kata Rules", "kata", 2)).Code)
	require.Equal(t, http.StatusCreated, serve(http.MethodPost, "/api/referee/rules", getToken(t, admin), doc("Kata Rules", "kata", 2)).Code)
	require.Equal(t, http.StatusCreated, serve(http.MethodPost, "/api/referee/rules", getToken(t, admin), doc("Kumite Rules", "kumite", 1)).Code)

	var docs []referee.RuleDocument
	rec := serve(http.MethodGet, "/api/referee/rules", getToken(t, usr))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &docs)
	if assert.Len(t, docs, 2) {
		assert.Equal(t, "Kumite Rules", docs[0].Title)
		assert.Equal(t, "Kata Rules", docs[1].Title)
	}

	rec = serve(http.MethodGet, "/api/referee/rules?category=KATA", getToken(t, usr))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &docs)
	if assert.Len(t, docs, 1) {
		assert.Equal(t, "Kata Rules", docs[0].Title)
	}
}

func Test_refereeApi_partialQuiz(t *testing.T) {
	resetDB(t)
	usr := testutil.CreateUser(t, repos.User, "Rei", "Tan", "rei@test.sg", "", []string{user.RoleStudent}, true)
	token := getToken(t, usr)
	answers := make([]bool, 20)
	bank, questions := testutil.CreateBank(t, repos.Referee, "WKF Kumite", answers...)

	var quiz referee.Quiz
	rec := serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz", token, []byte(`{"size":20}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &quiz)
	require.Len(t, quiz.QuestionIDs, len(questions))

	// only one question answered, correctly
	sub := referee.Submission{
		QuestionIDs: quiz.QuestionIDs,
		Answers:     map[string]bool{quiz.QuestionIDs[0]: false},
	}
	rec = serve(http.MethodPost, "/api/referee/banks/"+bank.ID+"/quiz/submit", token, marchallObj(t, sub))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res referee.QuizResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Attempt.Score)
	assert.Equal(t, 20, res.Attempt.TotalQuestions)
	assert.Equal(t, 5, res.Attempt.Percentage)

	var stats referee.ProgressStats
	rec = serve(http.MethodGet, "/api/referee/progress", token)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &stats)
	assert.Equal(t, 5, stats.BestPercentage)
	if assert.Len(t, stats.Banks, 1) {
		assert.Equal(t, 20, stats.Banks[0].QuestionsAttempted)
	}
}
