package inmemdb

import (
	"context"
	"sort"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/referee"
)

type refereeRepository struct {
	banks      *table[referee.QuestionBank]
	questions  *table[referee.Question]
	rules      *table[referee.RuleDocument]
	attempts   *table[referee.QuizAttempt]
	study      *table[referee.StudyProgress]
	flashcards *table[referee.FlashcardProgress]
}

var _ referee.Repository = (*refereeRepository)(nil) // interface compliance check

func NewRefereeRepository(db *DB) *refereeRepository {
	return &refereeRepository{
		banks:      db.bank,
		questions:  db.question,
		rules:      db.rule,
		attempts:   db.attempt,
		study:      db.study,
		flashcards: db.flashcard,
	}
}

func progressKey(userID, id string) string {
	return userID + "/" + id
}

func (repo *refereeRepository) CreateBank(_ context.Context, b referee.QuestionBank, _ ...core.DBExecutor) (referee.QuestionBank, error) {
	b.ID = newID()
	repo.banks.put(b.ID, b)
	return b, nil
}

func (repo *refereeRepository) UpdateBank(_ context.Context, b referee.QuestionBank, _ ...core.DBExecutor) (referee.QuestionBank, error) {
	if _, ok := repo.banks.get(b.ID); !ok {
		return referee.QuestionBank{}, referee.ErrBankNotFound
	}
	repo.banks.put(b.ID, b)
	return b, nil
}

func (repo *refereeRepository) GetBank(_ context.Context, id string, _ ...core.DBExecutor) (referee.QuestionBank, error) {
	if b, ok := repo.banks.get(id); ok {
		return b, nil
	}
	return referee.QuestionBank{}, referee.ErrBankNotFound
}

func (repo *refereeRepository) QueryBanks(_ context.Context, filter referee.BankFilter, _ ...core.DBExecutor) ([]referee.QuestionBank, error) {
	banks := repo.banks.filter(func(b referee.QuestionBank) bool {
		if filter.ActiveOnly && !b.IsActive {
			return false
		}
		return filter.Name == "" || (b.Name == filter.Name && b.Version == filter.Version)
	})
	sort.Slice(banks, func(i, j int) bool {
		if banks[i].Discipline != banks[j].Discipline {
			return banks[i].Discipline < banks[j].Discipline
		}
		return banks[i].Name < banks[j].Name
	})
	return banks, nil
}

func (repo *refereeRepository) CreateQuestions(_ context.Context, questions []referee.Question, _ ...core.DBExecutor) ([]referee.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()
	for i := range questions {
		questions[i].ID = newID()
		repo.questions.rows[questions[i].ID] = questions[i]
	}
	return questions, nil
}

func (repo *refereeRepository) GetQuestion(_ context.Context, id string, _ ...core.DBExecutor) (referee.Question, error) {
	if q, ok := repo.questions.get(id); ok {
		return q, nil
	}
	return referee.Question{}, referee.ErrQuestionNotFound
}

func (repo *refereeRepository) QueryQuestions(_ context.Context, bankID string, _ ...core.DBExecutor) ([]referee.Question, error) {
	questions := repo.questions.filter(func(q referee.Question) bool { return q.BankID == bankID })
	sort.Slice(questions, func(i, j int) bool { return questions[i].QuestionNumber < questions[j].QuestionNumber })
	return questions, nil
}

func (repo *refereeRepository) CreateRuleDocument(_ context.Context, d referee.RuleDocument, _ ...core.DBExecutor) (referee.RuleDocument, error) {
	d.ID = newID()
	repo.rules.put(d.ID, d)
	return d, nil
}

func (repo *refereeRepository) QueryRuleDocuments(_ context.Context, category string, _ ...core.DBExecutor) ([]referee.RuleDocument, error) {
	docs := repo.rules.filter(func(d referee.RuleDocument) bool { return category == "" || d.Category == category })
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].DisplayOrder != docs[j].DisplayOrder {
			return docs[i].DisplayOrder < docs[j].DisplayOrder
		}
		return docs[i].Title < docs[j].Title
	})
	return docs, nil
}

func (repo *refereeRepository) CreateAttempt(_ context.Context, a referee.QuizAttempt, _ ...core.DBExecutor) (referee.QuizAttempt, error) {
	a.ID = newID()
	repo.attempts.put(a.ID, a)
	return a, nil
}

func (repo *refereeRepository) QueryAttempts(_ context.Context, filter referee.AttemptFilter, _ ...core.DBExecutor) ([]referee.QuizAttempt, error) {
	attempts := repo.attempts.filter(func(a referee.QuizAttempt) bool {
		return (filter.UserID == "" || a.UserID == filter.UserID) && (filter.BankID == "" || a.BankID == filter.BankID)
	})
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].CompletedAt.After(attempts[j].CompletedAt) })
	return attempts, nil
}

func (repo *refereeRepository) GetStudyProgress(_ context.Context, userID, bankID string, _ ...core.DBExecutor) (referee.StudyProgress, error) {
	if sp, ok := repo.study.get(progressKey(userID, bankID)); ok {
		return sp, nil
	}
	return referee.StudyProgress{UserID: userID, BankID: bankID}, nil
}

func (repo *refereeRepository) QueryStudyProgress(_ context.Context, userID string, _ ...core.DBExecutor) ([]referee.StudyProgress, error) {
	progress := repo.study.filter(func(sp referee.StudyProgress) bool { return sp.UserID == userID })
	sort.Slice(progress, func(i, j int) bool { return progress[i].LastStudiedAt.After(progress[j].LastStudiedAt) })
	return progress, nil
}

func (repo *refereeRepository) SaveStudyProgress(_ context.Context, sp referee.StudyProgress, _ ...core.DBExecutor) error {
	repo.study.put(progressKey(sp.UserID, sp.BankID), sp)
	return nil
}

func (repo *refereeRepository) GetFlashcardProgress(_ context.Context, userID, questionID string, _ ...core.DBExecutor) (referee.FlashcardProgress, error) {
	if fp, ok := repo.flashcards.get(progressKey(userID, questionID)); ok {
		return fp, nil
	}
	return referee.FlashcardProgress{UserID: userID, QuestionID: questionID}, nil
}

func (repo *refereeRepository) QueryFlashcardProgress(_ context.Context, userID, bankID string, _ ...core.DBExecutor) ([]referee.FlashcardProgress, error) {
	inBank := make(map[string]bool)
	for _, q := range repo.questions.filter(func(q referee.Question) bool { return q.BankID == bankID }) {
		inBank[q.ID] = true
	}
	cards := repo.flashcards.filter(func(fp referee.FlashcardProgress) bool {
		return fp.UserID == userID && inBank[fp.QuestionID]
	})
	sort.Slice(cards, func(i, j int) bool { return cards[i].NextReviewAt.Before(cards[j].NextReviewAt) })
	return cards, nil
}

func (repo *refereeRepository) SaveFlashcardProgress(_ context.Context, fp referee.FlashcardProgress, _ ...core.DBExecutor) error {
	repo.flashcards.put(progressKey(fp.UserID, fp.QuestionID), fp)
	return nil
}
