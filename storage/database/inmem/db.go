package inmemdb

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/rank"
	"github.com/seido/portal/core/referee"
	"github.com/seido/portal/core/user"
)

type (
	// DB is an in-memory store. Tables have their own lock; repositories never hold two locks at once.
	DB struct {
		user      *table[user.User]
		rank      *table[rank.Rank]
		config    *table[rank.Configuration]
		grading   *table[grading.Grading]
		period    *table[grading.Period]
		history   *table[grading.HistoryEntry]
		bank      *table[referee.QuestionBank]
		question  *table[referee.Question]
		rule      *table[referee.RuleDocument]
		attempt   *table[referee.QuizAttempt]
		study     *table[referee.StudyProgress]
		flashcard *table[referee.FlashcardProgress]
	}

	table[T any] struct {
		sync.RWMutex
		rows map[string]T
	}
)

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func Open() *DB {
	return &DB{
		user:      newTable[user.User](),
		rank:      newTable[rank.Rank](),
		config:    newTable[rank.Configuration](),
		grading:   newTable[grading.Grading](),
		period:    newTable[grading.Period](),
		history:   newTable[grading.HistoryEntry](),
		bank:      newTable[referee.QuestionBank](),
		question:  newTable[referee.Question](),
		rule:      newTable[referee.RuleDocument](),
		attempt:   newTable[referee.QuizAttempt](),
		study:     newTable[referee.StudyProgress](),
		flashcard: newTable[referee.FlashcardProgress](),
	}
}

func (t *table[T]) get(id string) (T, bool) {
	t.RLock()
	defer t.RUnlock()
	r, ok := t.rows[id]
	return r, ok
}

func (t *table[T]) put(id string, r T) {
	t.Lock()
	defer t.Unlock()
	t.rows[id] = r
}

// update replaces the row with the result of fn, atomically. fn is not called for missing rows.
func (t *table[T]) update(id string, fn func(old T) (T, error)) (bool, error) {
	t.Lock()
	defer t.Unlock()
	old, ok := t.rows[id]
	if !ok {
		return false, nil
	}
	r, err := fn(old)
	if err != nil {
		return true, err
	}
	t.rows[id] = r
	return true, nil
}

func (t *table[T]) filter(keep func(T) bool) []T {
	t.RLock()
	defer t.RUnlock()
	rows := make([]T, 0)
	for _, r := range t.rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return rows
}

func newID() string {
	return uuid.New().String()
}

// fieldGetter returns the value of a field, by column name, for ordering.
type fieldGetter[T any] func(row T, field string) string

// sortRows sorts rows by the given orderings, comparing the string form of each field.
func sortRows[T any](rows []T, ordering []core.DBOrdering, get fieldGetter[T]) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ord := range ordering {
			a, b := get(rows[i], ord.Field), get(rows[j], ord.Field)
			if a == b {
				continue
			}
			if ord.Ascending {
				return a < b
			}
			return a > b
		}
		return false
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// timeKey formats t so that keys sort chronologically.
func timeKey(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000")
}
