package inmemdb

import (
	"context"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/user"
)

type gradingRepository struct {
	gradings *table[grading.Grading]
	periods  *table[grading.Period]
	history  *table[grading.HistoryEntry]
	users    *table[user.User]
}

var _ grading.Repository = (*gradingRepository)(nil) // interface compliance check

func NewGradingRepository(db *DB) *gradingRepository {
	return &gradingRepository{
		gradings: db.grading,
		periods:  db.period,
		history:  db.history,
		users:    db.user,
	}
}

func (repo *gradingRepository) CreateGrading(_ context.Context, g grading.Grading, _ ...core.DBExecutor) (grading.Grading, error) {
	g.ID = newID()
	repo.gradings.put(g.ID, g)
	return g, nil
}

func (repo *gradingRepository) UpdateGrading(_ context.Context, g grading.Grading, _ ...core.DBExecutor) (grading.Grading, error) {
	if _, ok := repo.gradings.get(g.ID); !ok {
		return grading.Grading{}, grading.ErrNotFound
	}
	repo.gradings.put(g.ID, g)
	return g, nil
}

func (repo *gradingRepository) RecordGradingResult(_ context.Context, g grading.Grading, _ ...core.DBExecutor) (grading.Grading, error) {
	found, err := repo.gradings.update(g.ID, func(old grading.Grading) (grading.Grading, error) {
		if old.Status != grading.StatusPending || old.ApplicationStatus != grading.ApplicationApproved {
			return old, grading.ErrInvalidTransition
		}
		return g, nil
	})
	if err != nil {
		return grading.Grading{}, err
	}
	if !found {
		return grading.Grading{}, grading.ErrNotFound
	}
	return g, nil
}

func (repo *gradingRepository) GetGrading(_ context.Context, id string, _ ...core.DBExecutor) (grading.Grading, error) {
	if g, ok := repo.gradings.get(id); ok {
		return g, nil
	}
	return grading.Grading{}, grading.ErrNotFound
}

func (repo *gradingRepository) QueryGradings(_ context.Context, filter *grading.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]grading.Grading, error) {
	gradings := repo.gradings.filter(func(g grading.Grading) bool { return matchGrading(g, filter) })

	// student profile filters
	if filter != nil && (filter.Dojo != "" || filter.Search != "") {
		filtered := gradings[:0]
		for _, g := range gradings {
			student, ok := repo.users.get(g.StudentID)
			if !ok {
				continue
			}
			if filter.Dojo != "" && student.Dojo != filter.Dojo {
				continue
			}
			if filter.Search != "" && !containsFold(student.FullName(), filter.Search) {
				continue
			}
			filtered = append(filtered, g)
		}
		gradings = filtered
	}

	sortRows(gradings, ordering, gradingField)
	return gradings, nil
}

func matchGrading(g grading.Grading, filter *grading.QueryFilter) bool {
	if filter == nil {
		return true
	}
	switch {
	case filter.Status != "" && g.Status != filter.Status,
		filter.ApplicationStatus != "" && g.ApplicationStatus != filter.ApplicationStatus,
		filter.PeriodID != "" && g.GradingPeriodID != filter.PeriodID,
		filter.Unassigned && g.GradingPeriodID != "",
		filter.StudentID != "" && g.StudentID != filter.StudentID,
		!filter.SubmittedFrom.IsZero() && g.SubmittedAt.Before(filter.SubmittedFrom.UTC()),
		!filter.SubmittedTo.IsZero() && g.SubmittedAt.After(filter.SubmittedTo.UTC()):
		return false
	}
	return true
}

func gradingField(g grading.Grading, field string) string {
	switch field {
	case "created_at":
		return timeKey(g.CreatedAt)
	case "updated_at":
		return timeKey(g.UpdatedAt)
	case "decided_at":
		if g.DecidedAt == nil {
			return ""
		}
		return timeKey(*g.DecidedAt)
	case "status":
		return g.Status
	case "application_status":
		return g.ApplicationStatus
	}
	return timeKey(g.SubmittedAt)
}

func (repo *gradingRepository) CreateHistoryEntry(_ context.Context, h grading.HistoryEntry, _ ...core.DBExecutor) (grading.HistoryEntry, error) {
	h.ID = newID()
	repo.history.put(h.ID, h)
	return h, nil
}

func (repo *gradingRepository) QueryHistory(_ context.Context, studentID string, _ ...core.DBExecutor) ([]grading.HistoryEntry, error) {
	entries := repo.history.filter(func(h grading.HistoryEntry) bool { return h.StudentID == studentID })
	sortRows(entries, []core.DBOrdering{{Field: "decided_at"}}, func(h grading.HistoryEntry, _ string) string {
		return timeKey(h.DecidedAt)
	})
	return entries, nil
}

func (repo *gradingRepository) withAssignedCount(p grading.Period) grading.Period {
	p.AssignedCount = len(repo.gradings.filter(func(g grading.Grading) bool { return g.GradingPeriodID == p.ID }))
	return p
}

func (repo *gradingRepository) CreatePeriod(_ context.Context, p grading.Period, _ ...core.DBExecutor) (grading.Period, error) {
	p.ID = newID()
	p.AssignedCount = 0
	repo.periods.put(p.ID, p)
	return p, nil
}

func (repo *gradingRepository) UpdatePeriod(_ context.Context, p grading.Period, _ ...core.DBExecutor) (grading.Period, error) {
	if _, ok := repo.periods.get(p.ID); !ok {
		return grading.Period{}, grading.ErrPeriodNotFound
	}
	repo.periods.put(p.ID, p)
	return repo.withAssignedCount(p), nil
}

func (repo *gradingRepository) GetPeriod(_ context.Context, id string, _ ...core.DBExecutor) (grading.Period, error) {
	if p, ok := repo.periods.get(id); ok {
		return repo.withAssignedCount(p), nil
	}
	return grading.Period{}, grading.ErrPeriodNotFound
}

func (repo *gradingRepository) QueryPeriods(_ context.Context, filter grading.PeriodFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]grading.Period, error) {
	periods := repo.periods.filter(func(p grading.Period) bool {
		return filter.Status == "" || p.Status == filter.Status
	})
	for i := range periods {
		periods[i] = repo.withAssignedCount(periods[i])
	}
	sortRows(periods, ordering, periodField)
	return periods, nil
}

func periodField(p grading.Period, field string) string {
	switch field {
	case "title":
		return p.Title
	case "status":
		return p.Status
	case "created_at":
		return timeKey(p.CreatedAt)
	}
	return timeKey(p.GradingDate)
}

func (repo *gradingRepository) DeletePeriod(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.periods.Lock()
	defer repo.periods.Unlock()
	if _, ok := repo.periods.rows[id]; !ok {
		return grading.ErrPeriodNotFound
	}
	delete(repo.periods.rows, id)
	return nil
}
