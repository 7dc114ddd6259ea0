package referee

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/seido/portal/core"
)

var (
	// errors
	ErrBankNotFound      = core.NewNotFoundError("question bank not found")
	ErrQuestionNotFound  = core.NewNotFoundError("question not found")
	ErrBankExists        = errors.New("a question bank with this name and version already exists")
	ErrBankInactive      = core.NewConflictError("this question bank is not active")
	ErrEmptyBank         = core.NewConflictError("this question bank has no questions")
	ErrNoQuestions       = errors.New("the quiz has no questions")
	ErrForeignQuestion   = errors.New("question is not part of this bank")
	ErrDuplicateQuestion = errors.New("question is listed twice")
)

type (
	Repository interface {
		CreateBank(ctx context.Context, b QuestionBank, exec ...core.DBExecutor) (QuestionBank, error)
		UpdateBank(ctx context.Context, b QuestionBank, exec ...core.DBExecutor) (QuestionBank, error)
		GetBank(ctx context.Context, id string, exec ...core.DBExecutor) (QuestionBank, error)
		// QueryBanks returns banks ordered by discipline, then name.
		QueryBanks(ctx context.Context, filter BankFilter, exec ...core.DBExecutor) ([]QuestionBank, error)

		CreateQuestions(ctx context.Context, questions []Question, exec ...core.DBExecutor) ([]Question, error)
		GetQuestion(ctx context.Context, id string, exec ...core.DBExecutor) (Question, error)
		// QueryQuestions returns the bank's questions ordered by QuestionNumber.
		QueryQuestions(ctx context.Context, bankID string, exec ...core.DBExecutor) ([]Question, error)

		CreateRuleDocument(ctx context.Context, d RuleDocument, exec ...core.DBExecutor) (RuleDocument, error)
		// QueryRuleDocuments returns documents ordered by DisplayOrder. An empty category matches all.
		QueryRuleDocuments(ctx context.Context, category string, exec ...core.DBExecutor) ([]RuleDocument, error)

		CreateAttempt(ctx context.Context, a QuizAttempt, exec ...core.DBExecutor) (QuizAttempt, error)
		// QueryAttempts returns attempts newest first.
		QueryAttempts(ctx context.Context, filter AttemptFilter, exec ...core.DBExecutor) ([]QuizAttempt, error)

		// GetStudyProgress returns a zero StudyProgress when the user never studied the bank.
		GetStudyProgress(ctx context.Context, userID, bankID string, exec ...core.DBExecutor) (StudyProgress, error)
		QueryStudyProgress(ctx context.Context, userID string, exec ...core.DBExecutor) ([]StudyProgress, error)
		SaveStudyProgress(ctx context.Context, sp StudyProgress, exec ...core.DBExecutor) error

		// GetFlashcardProgress returns a zero FlashcardProgress when the card was never reviewed.
		GetFlashcardProgress(ctx context.Context, userID, questionID string, exec ...core.DBExecutor) (FlashcardProgress, error)
		QueryFlashcardProgress(ctx context.Context, userID, bankID string, exec ...core.DBExecutor) ([]FlashcardProgress, error)
		SaveFlashcardProgress(ctx context.Context, fp FlashcardProgress, exec ...core.DBExecutor) error
	}

	ServiceInterface interface {
		ListBanks(ctx context.Context, activeOnly bool) ([]QuestionBank, error)
		GetBank(ctx context.Context, id string) (QuestionBank, error)
		FindBank(ctx context.Context, name, version string) (QuestionBank, error)
		CreateBank(ctx context.Context, nb NewBank) (QuestionBank, error)
		SetBankActive(ctx context.Context, id string, active bool) (QuestionBank, error)
		ListQuestions(ctx context.Context, bankID string) ([]Question, error)
		AddQuestions(ctx context.Context, bankID string, nqs []NewQuestion) ([]Question, error)
		StartQuiz(ctx context.Context, userID, bankID string, size int) (Quiz, error)
		SubmitQuiz(ctx context.Context, userID, bankID string, sub Submission) (QuizResult, error)
		ListAttempts(ctx context.Context, filter AttemptFilter) ([]QuizAttempt, error)
		ProgressStats(ctx context.Context, userID string) (ProgressStats, error)
		ReviewFlashcard(ctx context.Context, userID, questionID string, correct bool) (FlashcardProgress, error)
		DueFlashcards(ctx context.Context, userID, bankID string, limit int) ([]Flashcard, error)
		ListRuleDocuments(ctx context.Context, category string) ([]RuleDocument, error)
		CreateRuleDocument(ctx context.Context, nd NewRuleDocument) (RuleDocument, error)
	}

	Service struct {
		repo    Repository
		tx      core.TxRunner
		conf    *core.Config
		shuffle func(n int, swap func(i, j int))
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, tx core.TxRunner, conf *core.Config) *Service {
	return &Service{repo: repo, tx: tx, conf: conf, shuffle: rand.Shuffle}
}

func (svc *Service) ListBanks(ctx context.Context, activeOnly bool) ([]QuestionBank, error) {
	return svc.repo.QueryBanks(ctx, BankFilter{ActiveOnly: activeOnly})
}

func (svc *Service) GetBank(ctx context.Context, id string) (QuestionBank, error) {
	return svc.repo.GetBank(ctx, id)
}

func (svc *Service) FindBank(ctx context.Context, name, version string) (QuestionBank, error) {
	banks, err := svc.repo.QueryBanks(ctx, BankFilter{Name: name, Version: version})
	if err != nil {
		return QuestionBank{}, err
	}
	if len(banks) == 0 {
		return QuestionBank{}, ErrBankNotFound
	}
	return banks[0], nil
}

func (svc *Service) CreateBank(ctx context.Context, nb NewBank) (QuestionBank, error) {
	if _, err := svc.FindBank(ctx, nb.Name, nb.Version); err == nil {
		return QuestionBank{}, core.NewValidationError(ErrBankExists,
			core.FieldError{Field: "name", Error: ErrBankExists.Error()})
	} else if !core.IsNotFound(err) {
		return QuestionBank{}, pkgerrors.Wrap(err, "checking bank uniqueness")
	}

	return svc.repo.CreateBank(ctx, QuestionBank{
		Name:        nb.Name,
		ExamType:    nb.ExamType,
		Discipline:  nb.Discipline,
		Version:     nb.Version,
		Description: nb.Description,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	})
}

func (svc *Service) SetBankActive(ctx context.Context, id string, active bool) (QuestionBank, error) {
	b, err := svc.GetBank(ctx, id)
	if err != nil {
		return QuestionBank{}, err
	}
	b.IsActive = active
	return svc.repo.UpdateBank(ctx, b)
}

func (svc *Service) ListQuestions(ctx context.Context, bankID string) ([]Question, error) {
	if _, err := svc.GetBank(ctx, bankID); err != nil {
		return nil, err
	}
	return svc.repo.QueryQuestions(ctx, bankID)
}

// AddQuestions adds questions to the bank. Question numbers must be unique within the bank.
func (svc *Service) AddQuestions(ctx context.Context, bankID string, nqs []NewQuestion) ([]Question, error) {
	existing, err := svc.ListQuestions(ctx, bankID)
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(existing)+len(nqs))
	for _, q := range existing {
		taken[q.QuestionNumber] = true
	}

	questions := make([]Question, 0, len(nqs))
	for i, nq := range nqs {
		if taken[nq.QuestionNumber] {
			return nil, core.NewValidationError(nil, core.FieldError{
				Field: fmt.Sprintf("questions[%d].question_number", i),
				Error: fmt.Sprintf("question %d already exists in this bank", nq.QuestionNumber),
			})
		}
		taken[nq.QuestionNumber] = true
		questions = append(questions, Question{
			BankID:         bankID,
			QuestionNumber: nq.QuestionNumber,
			QuestionText:   nq.QuestionText,
			CorrectAnswer:  nq.CorrectAnswer,
			Explanation:    nq.Explanation,
			RuleReference:  nq.RuleReference,
			Category:       nq.Category,
		})
	}
	return svc.repo.CreateQuestions(ctx, questions)
}

func (svc *Service) activeBankQuestions(ctx context.Context, bankID string) ([]Question, error) {
	b, err := svc.GetBank(ctx, bankID)
	if err != nil {
		return nil, err
	}
	if !b.IsActive {
		return nil, ErrBankInactive
	}
	questions, err := svc.repo.QueryQuestions(ctx, bankID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying questions")
	}
	if len(questions) == 0 {
		return nil, ErrEmptyBank
	}
	return questions, nil
}

// StartQuiz draws size random questions from the bank, the default quiz size if size is 0.
func (svc *Service) StartQuiz(ctx context.Context, userID, bankID string, size int) (Quiz, error) {
	questions, err := svc.activeBankQuestions(ctx, bankID)
	if err != nil {
		return Quiz{}, err
	}
	if size <= 0 {
		size = svc.conf.Grading.QuizDefaultSize
	}
	if size > len(questions) {
		size = len(questions)
	}

	svc.shuffle(len(questions), func(i, j int) { questions[i], questions[j] = questions[j], questions[i] })
	quiz := Quiz{
		BankID:      bankID,
		QuestionIDs: make([]string, 0, size),
		Questions:   make([]QuizQuestion, 0, size),
	}
	for _, q := range questions[:size] {
		quiz.QuestionIDs = append(quiz.QuestionIDs, q.ID)
		quiz.Questions = append(quiz.Questions, q.ForQuiz())
	}
	return quiz, nil
}

// SubmitQuiz scores the answers to the drawn questions and records the attempt.
// Every drawn question counts towards the total. Answers to other questions are ignored.
func (svc *Service) SubmitQuiz(ctx context.Context, userID, bankID string, sub Submission) (QuizResult, error) {
	questions, err := svc.activeBankQuestions(ctx, bankID)
	if err != nil {
		return QuizResult{}, err
	}
	if len(sub.QuestionIDs) == 0 {
		return QuizResult{}, core.NewValidationError(ErrNoQuestions,
			core.FieldError{Field: "question_ids", Error: ErrNoQuestions.Error()})
	}
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	result := QuizResult{Feedback: make([]Feedback, 0, len(sub.QuestionIDs))}
	answers := make(map[string]bool, len(sub.QuestionIDs))
	drawn := make(map[string]bool, len(sub.QuestionIDs))
	score := 0
	for i, id := range sub.QuestionIDs {
		q, ok := byID[id]
		if !ok {
			return QuizResult{}, core.NewValidationError(ErrForeignQuestion,
				core.FieldError{Field: fmt.Sprintf("question_ids[%d]", i), Error: ErrForeignQuestion.Error()})
		}
		if drawn[id] {
			return QuizResult{}, core.NewValidationError(ErrDuplicateQuestion,
				core.FieldError{Field: fmt.Sprintf("question_ids[%d]", i), Error: ErrDuplicateQuestion.Error()})
		}
		drawn[id] = true

		answer, answered := sub.Answers[id]
		isCorrect := answered && answer == q.CorrectAnswer
		if answered {
			answers[id] = answer
		}
		if isCorrect {
			score++
		}
		result.Feedback = append(result.Feedback, Feedback{
			QuestionID:    id,
			Answered:      answered,
			Answer:        answer,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     isCorrect,
			Explanation:   q.Explanation,
			RuleReference: q.RuleReference,
		})
	}
	total := len(sub.QuestionIDs)

	now := time.Now().UTC()
	attempt := QuizAttempt{
		UserID:           userID,
		BankID:           bankID,
		Score:            score,
		TotalQuestions:   total,
		Percentage:       int(core.Percentage(score, total, 0)),
		TimeTakenSeconds: sub.TimeTakenSeconds,
		Answers:          answers,
		CompletedAt:      now,
	}

	err = svc.tx.WithTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if attempt, err = svc.repo.CreateAttempt(ctx, attempt, exec); err != nil {
			return pkgerrors.Wrap(err, "creating quiz attempt")
		}
		return svc.recordStudy(ctx, userID, bankID, total, score, now, exec)
	})
	if err != nil {
		return QuizResult{}, err
	}
	result.Attempt = attempt
	return result, nil
}

func (svc *Service) recordStudy(ctx context.Context, userID, bankID string, attempted, correct int, now time.Time, exec core.DBExecutor) error {
	sp, err := svc.repo.GetStudyProgress(ctx, userID, bankID, exec)
	if err != nil {
		return pkgerrors.Wrap(err, "getting study progress")
	}
	sp.UserID = userID
	sp.BankID = bankID
	sp.QuestionsAttempted += attempted
	sp.QuestionsCorrect += correct
	sp.LastStudiedAt = now
	return pkgerrors.Wrap(svc.repo.SaveStudyProgress(ctx, sp, exec), "saving study progress")
}

func (svc *Service) ListAttempts(ctx context.Context, filter AttemptFilter) ([]QuizAttempt, error) {
	return svc.repo.QueryAttempts(ctx, filter)
}

func (svc *Service) ProgressStats(ctx context.Context, userID string) (ProgressStats, error) {
	attempts, err := svc.repo.QueryAttempts(ctx, AttemptFilter{UserID: userID})
	if err != nil {
		return ProgressStats{}, err
	}
	banks, err := svc.repo.QueryStudyProgress(ctx, userID)
	if err != nil {
		return ProgressStats{}, err
	}

	stats := ProgressStats{Attempts: len(attempts), Banks: banks}
	if len(attempts) == 0 {
		return stats, nil
	}
	sum := 0
	for i, a := range attempts {
		sum += a.Percentage
		if a.Percentage > stats.BestPercentage {
			stats.BestPercentage = a.Percentage
		}
		if stats.LastAttemptAt == nil || a.CompletedAt.After(*stats.LastAttemptAt) {
			stats.LastAttemptAt = &attempts[i].CompletedAt
		}
	}
	stats.AveragePercentage = int(math.Round(float64(sum) / float64(len(attempts))))
	return stats, nil
}

// ReviewFlashcard records the user's answer on a card and schedules its next review.
func (svc *Service) ReviewFlashcard(ctx context.Context, userID, questionID string, correct bool) (FlashcardProgress, error) {
	q, err := svc.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return FlashcardProgress{}, err
	}

	var fp FlashcardProgress
	err = svc.tx.WithTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if fp, err = svc.repo.GetFlashcardProgress(ctx, userID, questionID, exec); err != nil {
			return pkgerrors.Wrap(err, "getting flashcard progress")
		}
		now := time.Now().UTC()
		fp.UserID = userID
		fp.QuestionID = questionID
		fp.Review(correct, now, svc.conf.Grading.FlashcardInterval)
		if err = svc.repo.SaveFlashcardProgress(ctx, fp, exec); err != nil {
			return pkgerrors.Wrap(err, "saving flashcard progress")
		}

		nCorrect := 0
		if correct {
			nCorrect = 1
		}
		return svc.recordStudy(ctx, userID, q.BankID, 1, nCorrect, now, exec)
	})
	if err != nil {
		return FlashcardProgress{}, err
	}
	return fp, nil
}

// DueFlashcards returns up to limit cards of the bank: never reviewed cards first,
// then reviewed cards by next review date.
func (svc *Service) DueFlashcards(ctx context.Context, userID, bankID string, limit int) ([]Flashcard, error) {
	questions, err := svc.activeBankQuestions(ctx, bankID)
	if err != nil {
		return nil, err
	}
	progress, err := svc.repo.QueryFlashcardProgress(ctx, userID, bankID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying flashcard progress")
	}
	byQuestion := make(map[string]FlashcardProgress, len(progress))
	for _, fp := range progress {
		byQuestion[fp.QuestionID] = fp
	}

	cards := make([]Flashcard, 0, len(questions))
	for _, q := range questions {
		card := Flashcard{Question: q}
		if fp, ok := byQuestion[q.ID]; ok {
			card.Progress = &fp
		}
		cards = append(cards, card)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		pi, pj := cards[i].Progress, cards[j].Progress
		switch {
		case pi == nil:
			return pj != nil
		case pj == nil:
			return false
		}
		return pi.NextReviewAt.Before(pj.NextReviewAt)
	})

	if limit > 0 && limit < len(cards) {
		cards = cards[:limit]
	}
	return cards, nil
}

func (svc *Service) ListRuleDocuments(ctx context.Context, category string) ([]RuleDocument, error) {
	return svc.repo.QueryRuleDocuments(ctx, core.CleanString(category, true /* lower */))
}

func (svc *Service) CreateRuleDocument(ctx context.Context, nd NewRuleDocument) (RuleDocument, error) {
	return svc.repo.CreateRuleDocument(ctx, RuleDocument{
		Title:         nd.Title,
		Category:      nd.Category,
		Description:   nd.Description,
		FileURL:       nd.FileURL,
		Version:       nd.Version,
		EffectiveDate: nd.EffectiveDate,
		DisplayOrder:  nd.DisplayOrder,
		CreatedAt:     time.Now().UTC(),
	})
}
