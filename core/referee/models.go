package referee

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/seido/portal/core"
)

// Exam types
const (
	ExamReferee = "referee"
	ExamCoach   = "coach"
)

// Disciplines
const (
	DisciplineKumite = "kumite"
	DisciplineKata   = "kata"
)

// Rule document categories
const (
	CategoryKumite       = "kumite"
	CategoryKata         = "kata"
	CategoryParaKarate   = "para_karate"
	CategoryRanking      = "ranking"
	CategoryProtocol     = "protocol"
	CategoryDisciplinary = "disciplinary"
)

const (
	MinConfidence = 1
	MaxConfidence = 5
)

var RuleCategories = []string{
	CategoryKumite, CategoryKata, CategoryParaKarate, CategoryRanking, CategoryProtocol, CategoryDisciplinary,
}

// QuestionBank is a versioned set of true/false questions for a referee or coach exam.
type QuestionBank struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ExamType    string    `json:"exam_type"`
	Discipline  string    `json:"discipline"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Question struct {
	ID             string `json:"id"`
	BankID         string `json:"bank_id"`
	QuestionNumber int    `json:"question_number"`
	QuestionText   string `json:"question_text"`
	CorrectAnswer  bool   `json:"correct_answer"`
	Explanation    string `json:"explanation"`
	RuleReference  string `json:"rule_reference"`
	Category       string `json:"category"`
}

// QuizQuestion is a Question as shown while taking a quiz: without its answer.
type QuizQuestion struct {
	ID             string `json:"id"`
	QuestionNumber int    `json:"question_number"`
	QuestionText   string `json:"question_text"`
	Category       string `json:"category"`
}

func (q Question) ForQuiz() QuizQuestion {
	return QuizQuestion{
		ID:             q.ID,
		QuestionNumber: q.QuestionNumber,
		QuestionText:   q.QuestionText,
		Category:       q.Category,
	}
}

type RuleDocument struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	FileURL       string     `json:"file_url"`
	Version       string     `json:"version"`
	EffectiveDate *time.Time `json:"effective_date"`
	DisplayOrder  int        `json:"display_order"`
	CreatedAt     time.Time  `json:"created_at"`
}

type QuizAttempt struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	BankID           string          `json:"bank_id"`
	Score            int             `json:"score"`
	TotalQuestions   int             `json:"total_questions"`
	Percentage       int             `json:"percentage"`
	TimeTakenSeconds int             `json:"time_taken_seconds"`
	Answers          map[string]bool `json:"answers"`
	CompletedAt      time.Time       `json:"completed_at"`
}

type StudyProgress struct {
	UserID             string    `json:"user_id"`
	BankID             string    `json:"bank_id"`
	QuestionsAttempted int       `json:"questions_attempted"`
	QuestionsCorrect   int       `json:"questions_correct"`
	LastStudiedAt      time.Time `json:"last_studied_at"`
}

type FlashcardProgress struct {
	UserID          string    `json:"user_id"`
	QuestionID      string    `json:"question_id"`
	ConfidenceLevel int       `json:"confidence_level"`
	TimesReviewed   int       `json:"times_reviewed"`
	TimesCorrect    int       `json:"times_correct"`
	NextReviewAt    time.Time `json:"next_review_at"`
	LastReviewedAt  time.Time `json:"last_reviewed_at"`
}

// Review updates the card after an answer, moving its confidence one level up or down.
func (fp *FlashcardProgress) Review(correct bool, now time.Time, interval func(confidence int) time.Duration) {
	if fp.TimesReviewed == 0 {
		fp.ConfidenceLevel = MinConfidence
		if correct {
			fp.ConfidenceLevel = MinConfidence + 1
		}
	} else if correct {
		fp.ConfidenceLevel = min(MaxConfidence, fp.ConfidenceLevel+1)
	} else {
		fp.ConfidenceLevel = max(MinConfidence, fp.ConfidenceLevel-1)
	}
	fp.TimesReviewed++
	if correct {
		fp.TimesCorrect++
	}
	fp.LastReviewedAt = now
	fp.NextReviewAt = now.Add(interval(fp.ConfidenceLevel))
}

// Flashcard is a question along with the user's progress on it, if any.
type Flashcard struct {
	Question
	Progress *FlashcardProgress `json:"progress"`
}

// Quiz is a randomly drawn set of questions. QuestionIDs is sent back with the answers.
type Quiz struct {
	BankID      string         `json:"bank_id"`
	QuestionIDs []string       `json:"question_ids"`
	Questions   []QuizQuestion `json:"questions"`
}

type Feedback struct {
	QuestionID    string `json:"question_id"`
	Answered      bool   `json:"answered"`
	Answer        bool   `json:"answer"`
	CorrectAnswer bool   `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
	Explanation   string `json:"explanation"`
	RuleReference string `json:"rule_reference"`
}

type QuizResult struct {
	Attempt  QuizAttempt `json:"attempt"`
	Feedback []Feedback  `json:"feedback"`
}

type ProgressStats struct {
	Attempts          int             `json:"attempts"`
	AveragePercentage int             `json:"average_percentage"`
	BestPercentage    int             `json:"best_percentage"`
	LastAttemptAt     *time.Time      `json:"last_attempt_at"`
	Banks             []StudyProgress `json:"banks"`
}

// NewBank contains information needed to create a QuestionBank.
type NewBank struct {
	Name        string `json:"name" yaml:"name" validate:"required,notblank"`
	ExamType    string `json:"exam_type" yaml:"exam_type" validate:"required,oneof=referee coach"`
	Discipline  string `json:"discipline" yaml:"discipline" validate:"required,oneof=kumite kata"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

func (nb *NewBank) Validate(validate *validator.Validate) error {
	nb.Name = core.CleanString(nb.Name)
	nb.ExamType = core.CleanString(nb.ExamType, true /* lower */)
	nb.Discipline = core.CleanString(nb.Discipline, true /* lower */)
	nb.Version = core.CleanString(nb.Version)
	nb.Description = core.CleanString(nb.Description)
	return validate.Struct(nb)
}

type SetBankActive struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (sa *SetBankActive) Validate(validate *validator.Validate) error { return validate.Struct(sa) }

// NewQuestion contains information needed to add a Question to a bank.
type NewQuestion struct {
	QuestionNumber int    `json:"question_number" yaml:"number" validate:"min=1"`
	QuestionText   string `json:"question_text" yaml:"text" validate:"required,notblank"`
	CorrectAnswer  bool   `json:"correct_answer" yaml:"answer"`
	Explanation    string `json:"explanation" yaml:"explanation"`
	RuleReference  string `json:"rule_reference" yaml:"rule_reference"`
	Category       string `json:"category" yaml:"category"`
}

type NewQuestions struct {
	Questions []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

func (nq *NewQuestions) Validate(validate *validator.Validate) error {
	for i := range nq.Questions {
		q := &nq.Questions[i]
		q.QuestionText = core.CleanString(q.QuestionText)
		q.Explanation = core.CleanString(q.Explanation)
		q.RuleReference = core.CleanString(q.RuleReference)
		q.Category = core.CleanString(q.Category)
	}
	return validate.Struct(nq)
}

type StartQuiz struct {
	Size int `json:"size" validate:"omitempty,min=1"`
}

func (sq *StartQuiz) Validate(validate *validator.Validate) error { return validate.Struct(sq) }

// Submission holds the drawn questions of a quiz and the user's answers, by question ID.
// Drawn questions left unanswered score as wrong.
type Submission struct {
	QuestionIDs      []string        `json:"question_ids" validate:"required,min=1,unique"`
	Answers          map[string]bool `json:"answers"`
	TimeTakenSeconds int             `json:"time_taken_seconds" validate:"min=0"`
}

func (s *Submission) Validate(validate *validator.Validate) error { return validate.Struct(s) }

type FlashcardReview struct {
	Correct *bool `json:"correct" validate:"required"`
}

func (fr *FlashcardReview) Validate(validate *validator.Validate) error { return validate.Struct(fr) }

// NewRuleDocument contains information needed to publish a RuleDocument.
type NewRuleDocument struct {
	Title         string     `json:"title" yaml:"title" validate:"required,notblank"`
	Category      string     `json:"category" yaml:"category" validate:"required,rulecategory"`
	Description   string     `json:"description" yaml:"description"`
	FileURL       string     `json:"file_url" yaml:"file_url" validate:"required,url"`
	Version       string     `json:"version" yaml:"version"`
	EffectiveDate *time.Time `json:"effective_date" yaml:"effective_date"`
	DisplayOrder  int        `json:"display_order" yaml:"display_order" validate:"min=0"`
}

func (nd *NewRuleDocument) Validate(validate *validator.Validate) error {
	nd.Title = core.CleanString(nd.Title)
	nd.Category = core.CleanString(nd.Category, true /* lower */)
	nd.Description = core.CleanString(nd.Description)
	nd.FileURL = core.CleanString(nd.FileURL)
	nd.Version = core.CleanString(nd.Version)
	return validate.Struct(nd)
}

type BankFilter struct {
	ActiveOnly bool
	Name       string
	Version    string
}

type AttemptFilter struct {
	UserID string `query:"-"`
	BankID string `query:"bank_id"`
}
