package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/xorcare/pointer"

	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/rank"
	"github.com/seido/portal/core/referee"
	"github.com/seido/portal/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	firstName, lastName, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateStudent creates an active student at rankID, with a complete emergency contact.
func CreateStudent(t *testing.T, repo user.Repository, firstName, email, rankID string) user.User {
	usr := CreateUser(t, repo, firstName, "Student", email, "", []string{user.RoleStudent}, true)
	usr.CurrentRankID = rankID
	usr.EmergencyContact = user.EmergencyContact{Name: "Parent", Relationship: "Mother", Phone: "+6591234567"}
	usr, err := repo.UpdateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return usr
}

// CreateKyuRanks creates the kyu ranks from 10 Kyu (the default rank) to 1 Kyu,
// each available for grading. They are returned lowest first.
func CreateKyuRanks(t *testing.T, repo rank.Repository) []rank.Rank {
	ctx := context.Background()
	ranks := make([]rank.Rank, 0, 10)
	for kyu := 10; kyu >= 1; kyu-- {
		r, err := repo.CreateRank(ctx, rank.Rank{
			RankOrder: 11 - kyu,
			Kyu:       pointer.Int(kyu),
			BeltColor: rank.BeltColorForKyu(kyu),
			IsDefault: kyu == 10,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("createKyuRanks() failed: %v", err)
		}
		if _, err = repo.SaveConfiguration(ctx, rank.Configuration{
			RankID:       r.ID,
			IsAvailable:  true,
			DisplayOrder: r.RankOrder,
		}); err != nil {
			t.Fatalf("createKyuRanks() failed: %v", err)
		}
		ranks = append(ranks, r)
	}
	return ranks
}

// CreateGrading creates a pending grading with the given application status.
func CreateGrading(t *testing.T, repo grading.Repository, student user.User, requestedRankID, appStatus, periodID string) grading.Grading {
	now := time.Now().UTC()
	g, err := repo.CreateGrading(context.Background(), grading.Grading{
		StudentID:           student.ID,
		RequestedRankID:     requestedRankID,
		RankAtApplicationID: student.CurrentRankID,
		Status:              grading.StatusPending,
		ApplicationStatus:   appStatus,
		SubmittedAt:         now,
		Indemnity:           grading.Indemnity{SignedAt: now, SignatureText: student.FullName()},
		GradingPeriodID:     periodID,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		t.Fatalf("createGrading() failed: %v", err)
	}
	return g
}

func CreatePeriod(t *testing.T, repo grading.Repository, title string, date time.Time, status string, maxApplications int) grading.Period {
	now := time.Now().UTC()
	p, err := repo.CreatePeriod(context.Background(), grading.Period{
		Title:           title,
		GradingDate:     date.UTC(),
		Location:        "HQ Dojo",
		Status:          status,
		MaxApplications: maxApplications,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("createPeriod() failed: %v", err)
	}
	return p
}

// CreateBank creates an active bank with one question per answer, numbered from 1.
func CreateBank(t *testing.T, repo referee.Repository, name string, answers ...bool) (referee.QuestionBank, []referee.Question) {
	ctx := context.Background()
	b, err := repo.CreateBank(ctx, referee.QuestionBank{
		Name:       name,
		ExamType:   referee.ExamReferee,
		Discipline: referee.DisciplineKumite,
		Version:    "2024",
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("createBank() failed: %v", err)
	}
	questions := make([]referee.Question, 0, len(answers))
	for i, answer := range answers {
		questions = append(questions, referee.Question{
			BankID:         b.ID,
			QuestionNumber: i + 1,
			QuestionText:   "Statement " + string(rune('A'+i%26)),
			CorrectAnswer:  answer,
			Explanation:    "See the rules.",
			RuleReference:  "Article 1",
		})
	}
	if len(questions) > 0 {
		if questions, err = repo.CreateQuestions(ctx, questions); err != nil {
			t.Fatalf("createBank() failed: %v", err)
		}
	}
	return b, questions
}
