package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/referee"
)

const (
	bankColumns     = `id, name, exam_type, discipline, version, description, is_active, created_at`
	questionColumns = `id, bank_id, question_number, question_text, correct_answer, explanation, rule_reference, category`
	ruleColumns     = `id, title, category, description, file_url, version, effective_date, display_order, created_at`
	attemptColumns  = `id, user_id, bank_id, score, total_questions, percentage, time_taken_seconds, answers, completed_at`
	studyColumns    = `user_id, bank_id, questions_attempted, questions_correct, last_studied_at`
	cardColumns     = `user_id, question_id, confidence_level, times_reviewed, times_correct, next_review_at, last_reviewed_at`
)

type ruleDocumentRow struct {
	ID            string    `db:"id"`
	Title         string    `db:"title"`
	Category      string    `db:"category"`
	Description   string    `db:"description"`
	FileURL       string    `db:"file_url"`
	Version       string    `db:"version"`
	EffectiveDate null.Time `db:"effective_date"`
	DisplayOrder  int       `db:"display_order"`
	CreatedAt     time.Time `db:"created_at"`
}

type attemptRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	BankID           string         `db:"bank_id"`
	Score            int            `db:"score"`
	TotalQuestions   int            `db:"total_questions"`
	Percentage       int            `db:"percentage"`
	TimeTakenSeconds int            `db:"time_taken_seconds"`
	Answers          types.JSONText `db:"answers"`
	CompletedAt      time.Time      `db:"completed_at"`
}

type refereeRepository struct {
	baseRepository
}

var _ referee.Repository = (*refereeRepository)(nil) // interface compliance check

func NewRefereeRepository(exec core.DBExecutor) *refereeRepository {
	return &refereeRepository{baseRepository{exec: exec}}
}

// bank, question, study progress & flashcard rows map 1:1 to the domain types

type bankRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	ExamType    string    `db:"exam_type"`
	Discipline  string    `db:"discipline"`
	Version     string    `db:"version"`
	Description string    `db:"description"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
}

type questionRow struct {
	ID             string `db:"id"`
	BankID         string `db:"bank_id"`
	QuestionNumber int    `db:"question_number"`
	QuestionText   string `db:"question_text"`
	CorrectAnswer  bool   `db:"correct_answer"`
	Explanation    string `db:"explanation"`
	RuleReference  string `db:"rule_reference"`
	Category       string `db:"category"`
}

type studyRow struct {
	UserID             string    `db:"user_id"`
	BankID             string    `db:"bank_id"`
	QuestionsAttempted int       `db:"questions_attempted"`
	QuestionsCorrect   int       `db:"questions_correct"`
	LastStudiedAt      time.Time `db:"last_studied_at"`
}

type cardRow struct {
	UserID          string    `db:"user_id"`
	QuestionID      string    `db:"question_id"`
	ConfidenceLevel int       `db:"confidence_level"`
	TimesReviewed   int       `db:"times_reviewed"`
	TimesCorrect    int       `db:"times_correct"`
	NextReviewAt    time.Time `db:"next_review_at"`
	LastReviewedAt  time.Time `db:"last_reviewed_at"`
}

func (repo refereeRepository) CreateBank(ctx context.Context, b referee.QuestionBank, exec ...core.DBExecutor) (referee.QuestionBank, error) {
	b.ID = uuid.New().String()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO referee_question_bank (`+bankColumns+`)
		VALUES (:id, :name, :exam_type, :discipline, :version, :description, :is_active, :created_at)`,
		bankRow(b))
	if err != nil {
		return referee.QuestionBank{}, errors.Wrap(err, "inserting question bank")
	}
	return b, nil
}

func (repo refereeRepository) UpdateBank(ctx context.Context, b referee.QuestionBank, exec ...core.DBExecutor) (referee.QuestionBank, error) {
	res, err := repo.getExec(exec).NamedExecContext(ctx, `
		UPDATE referee_question_bank SET
			name = :name, exam_type = :exam_type, discipline = :discipline, version = :version,
			description = :description, is_active = :is_active
		WHERE id = :id`,
		bankRow(b))
	if err != nil {
		return referee.QuestionBank{}, errors.Wrap(err, "updating question bank")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return referee.QuestionBank{}, referee.ErrBankNotFound
	}
	return b, nil
}

func (repo refereeRepository) GetBank(ctx context.Context, id string, exec ...core.DBExecutor) (referee.QuestionBank, error) {
	if !isUUID(id) {
		return referee.QuestionBank{}, referee.ErrBankNotFound
	}
	var row bankRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+bankColumns+` FROM referee_question_bank WHERE id = $1`, id)
	if err != nil {
		return referee.QuestionBank{}, trapNoRowsErr(err, referee.ErrBankNotFound, "finding question bank")
	}
	return referee.QuestionBank(row), nil
}

func (repo refereeRepository) QueryBanks(ctx context.Context, filter referee.BankFilter, exec ...core.DBExecutor) ([]referee.QuestionBank, error) {
	q := newQuery(`SELECT ` + bankColumns + ` FROM referee_question_bank`).Suffix("ORDER BY discipline, name")
	if filter.ActiveOnly {
		q.Where("is_active")
	}
	if filter.Name != "" {
		q.Where("name = ? AND version = ?", filter.Name, filter.Version)
	}
	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	var rows []bankRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying question banks")
	}
	banks := make([]referee.QuestionBank, 0, len(rows))
	for _, row := range rows {
		banks = append(banks, referee.QuestionBank(row))
	}
	return banks, nil
}

func (repo refereeRepository) CreateQuestions(ctx context.Context, questions []referee.Question, exec ...core.DBExecutor) ([]referee.Question, error) {
	if len(questions) == 0 {
		return questions, nil
	}
	rows := make([]questionRow, 0, len(questions))
	for i := range questions {
		questions[i].ID = uuid.New().String()
		rows = append(rows, questionRow(questions[i]))
	}
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO referee_question (`+questionColumns+`)
		VALUES (:id, :bank_id, :question_number, :question_text, :correct_answer, :explanation, :rule_reference,
			:category)`,
		rows)
	if err != nil {
		return nil, errors.Wrap(err, "inserting questions")
	}
	return questions, nil
}

func (repo refereeRepository) GetQuestion(ctx context.Context, id string, exec ...core.DBExecutor) (referee.Question, error) {
	if !isUUID(id) {
		return referee.Question{}, referee.ErrQuestionNotFound
	}
	var row questionRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+questionColumns+` FROM referee_question WHERE id = $1`, id)
	if err != nil {
		return referee.Question{}, trapNoRowsErr(err, referee.ErrQuestionNotFound, "finding question")
	}
	return referee.Question(row), nil
}

func (repo refereeRepository) QueryQuestions(ctx context.Context, bankID string, exec ...core.DBExecutor) ([]referee.Question, error) {
	if !isUUID(bankID) {
		return []referee.Question{}, nil
	}
	var rows []questionRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+questionColumns+` FROM referee_question WHERE bank_id = $1 ORDER BY question_number`, bankID)
	if err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	questions := make([]referee.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, referee.Question(row))
	}
	return questions, nil
}

func (repo refereeRepository) CreateRuleDocument(ctx context.Context, d referee.RuleDocument, exec ...core.DBExecutor) (referee.RuleDocument, error) {
	d.ID = uuid.New().String()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO referee_rule_document (`+ruleColumns+`)
		VALUES (:id, :title, :category, :description, :file_url, :version, :effective_date, :display_order,
			:created_at)`,
		ruleDocumentRow{
			ID:            d.ID,
			Title:         d.Title,
			Category:      d.Category,
			Description:   d.Description,
			FileURL:       d.FileURL,
			Version:       d.Version,
			EffectiveDate: null.TimeFromPtr(d.EffectiveDate),
			DisplayOrder:  d.DisplayOrder,
			CreatedAt:     d.CreatedAt.UTC(),
		})
	if err != nil {
		return referee.RuleDocument{}, errors.Wrap(err, "inserting rule document")
	}
	return d, nil
}

func (repo refereeRepository) QueryRuleDocuments(ctx context.Context, category string, exec ...core.DBExecutor) ([]referee.RuleDocument, error) {
	q := newQuery(`SELECT ` + ruleColumns + ` FROM referee_rule_document`).Suffix("ORDER BY display_order, title")
	if category != "" {
		q.Where("category = ?", category)
	}
	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	var rows []ruleDocumentRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying rule documents")
	}
	docs := make([]referee.RuleDocument, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, referee.RuleDocument{
			ID:            row.ID,
			Title:         row.Title,
			Category:      row.Category,
			Description:   row.Description,
			FileURL:       row.FileURL,
			Version:       row.Version,
			EffectiveDate: row.EffectiveDate.Ptr(),
			DisplayOrder:  row.DisplayOrder,
			CreatedAt:     row.CreatedAt,
		})
	}
	return docs, nil
}

func (repo refereeRepository) CreateAttempt(ctx context.Context, a referee.QuizAttempt, exec ...core.DBExecutor) (referee.QuizAttempt, error) {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return referee.QuizAttempt{}, errors.Wrap(err, "encoding answers")
	}
	a.ID = uuid.New().String()
	_, err = repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO quiz_attempt (`+attemptColumns+`)
		VALUES (:id, :user_id, :bank_id, :score, :total_questions, :percentage, :time_taken_seconds, :answers,
			:completed_at)`,
		attemptRow{
			ID:               a.ID,
			UserID:           a.UserID,
			BankID:           a.BankID,
			Score:            a.Score,
			TotalQuestions:   a.TotalQuestions,
			Percentage:       a.Percentage,
			TimeTakenSeconds: a.TimeTakenSeconds,
			Answers:          types.JSONText(answers),
			CompletedAt:      a.CompletedAt.UTC(),
		})
	if err != nil {
		return referee.QuizAttempt{}, errors.Wrap(err, "inserting quiz attempt")
	}
	return a, nil
}

func (repo refereeRepository) QueryAttempts(ctx context.Context, filter referee.AttemptFilter, exec ...core.DBExecutor) ([]referee.QuizAttempt, error) {
	q := newQuery(`SELECT ` + attemptColumns + ` FROM quiz_attempt`).Suffix("ORDER BY completed_at DESC")
	if filter.UserID != "" {
		q.Where("user_id::text = ?", filter.UserID)
	}
	if filter.BankID != "" {
		q.Where("bank_id::text = ?", filter.BankID)
	}
	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}

	var rows []attemptRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying quiz attempts")
	}
	attempts := make([]referee.QuizAttempt, 0, len(rows))
	for _, row := range rows {
		a := referee.QuizAttempt{
			ID:               row.ID,
			UserID:           row.UserID,
			BankID:           row.BankID,
			Score:            row.Score,
			TotalQuestions:   row.TotalQuestions,
			Percentage:       row.Percentage,
			TimeTakenSeconds: row.TimeTakenSeconds,
			CompletedAt:      row.CompletedAt,
		}
		if err = row.Answers.Unmarshal(&a.Answers); err != nil {
			return nil, errors.Wrap(err, "decoding answers")
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (repo refereeRepository) GetStudyProgress(ctx context.Context, userID, bankID string, exec ...core.DBExecutor) (referee.StudyProgress, error) {
	var row studyRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+studyColumns+` FROM study_progress WHERE user_id = $1 AND bank_id = $2`, userID, bankID)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return referee.StudyProgress{UserID: userID, BankID: bankID}, nil
		}
		return referee.StudyProgress{}, errors.Wrap(err, "getting study progress")
	}
	return referee.StudyProgress(row), nil
}

func (repo refereeRepository) QueryStudyProgress(ctx context.Context, userID string, exec ...core.DBExecutor) ([]referee.StudyProgress, error) {
	var rows []studyRow
	err := repo.getExec(exec).SelectContext(ctx, &rows,
		`SELECT `+studyColumns+` FROM study_progress WHERE user_id = $1 ORDER BY last_studied_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying study progress")
	}
	progress := make([]referee.StudyProgress, 0, len(rows))
	for _, row := range rows {
		progress = append(progress, referee.StudyProgress(row))
	}
	return progress, nil
}

func (repo refereeRepository) SaveStudyProgress(ctx context.Context, sp referee.StudyProgress, exec ...core.DBExecutor) error {
	sp.LastStudiedAt = sp.LastStudiedAt.UTC()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO study_progress (`+studyColumns+`)
		VALUES (:user_id, :bank_id, :questions_attempted, :questions_correct, :last_studied_at)
		ON CONFLICT (user_id, bank_id) DO UPDATE SET
			questions_attempted = EXCLUDED.questions_attempted,
			questions_correct = EXCLUDED.questions_correct,
			last_studied_at = EXCLUDED.last_studied_at`,
		studyRow(sp))
	return errors.Wrap(err, "saving study progress")
}

func (repo refereeRepository) GetFlashcardProgress(ctx context.Context, userID, questionID string, exec ...core.DBExecutor) (referee.FlashcardProgress, error) {
	var row cardRow
	err := repo.getExec(exec).GetContext(ctx, &row,
		`SELECT `+cardColumns+` FROM flashcard_progress WHERE user_id = $1 AND question_id = $2`, userID, questionID)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return referee.FlashcardProgress{UserID: userID, QuestionID: questionID}, nil
		}
		return referee.FlashcardProgress{}, errors.Wrap(err, "getting flashcard progress")
	}
	return referee.FlashcardProgress(row), nil
}

func (repo refereeRepository) QueryFlashcardProgress(ctx context.Context, userID, bankID string, exec ...core.DBExecutor) ([]referee.FlashcardProgress, error) {
	var rows []cardRow
	err := repo.getExec(exec).SelectContext(ctx, &rows, `
		SELECT f.user_id, f.question_id, f.confidence_level, f.times_reviewed, f.times_correct, f.next_review_at,
			f.last_reviewed_at
		FROM flashcard_progress f JOIN referee_question q ON q.id = f.question_id
		WHERE f.user_id = $1 AND q.bank_id = $2
		ORDER BY f.next_review_at`, userID, bankID)
	if err != nil {
		return nil, errors.Wrap(err, "querying flashcard progress")
	}
	cards := make([]referee.FlashcardProgress, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, referee.FlashcardProgress(row))
	}
	return cards, nil
}

func (repo refereeRepository) SaveFlashcardProgress(ctx context.Context, fp referee.FlashcardProgress, exec ...core.DBExecutor) error {
	fp.NextReviewAt = fp.NextReviewAt.UTC()
	fp.LastReviewedAt = fp.LastReviewedAt.UTC()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO flashcard_progress (`+cardColumns+`)
		VALUES (:user_id, :question_id, :confidence_level, :times_reviewed, :times_correct, :next_review_at,
			:last_reviewed_at)
		ON CONFLICT (user_id, question_id) DO UPDATE SET
			confidence_level = EXCLUDED.confidence_level,
			times_reviewed = EXCLUDED.times_reviewed,
			times_correct = EXCLUDED.times_correct,
			next_review_at = EXCLUDED.next_review_at,
			last_reviewed_at = EXCLUDED.last_reviewed_at`,
		cardRow(fp))
	return errors.Wrap(err, "saving flashcard progress")
}
