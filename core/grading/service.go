package grading

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
	"github.com/seido/portal/core/user"
)

var (
	// errors
	ErrNotFound                   = core.NewNotFoundError("grading not found")
	ErrPeriodNotFound             = core.NewNotFoundError("grading period not found")
	ErrInvalidTransition          = core.NewConflictError("this action is not allowed in the current state of the grading")
	ErrOpenApplication            = core.NewConflictError("you already have an open grading application")
	ErrPeriodHasGradings          = core.NewConflictError("this grading period has assigned gradings")
	ErrPeriodFinal                = core.NewConflictError("this grading period is closed")
	ErrEmergencyContactIncomplete = errors.New("please complete your emergency contact before applying")
	ErrPeriodNotUpcoming          = errors.New("gradings can only be assigned to upcoming periods")
	ErrPeriodFull                 = errors.New("this grading period is full")
	ErrPeriodRequired             = errors.New("a grading period must be assigned first")
)

type (
	Repository interface {
		CreateGrading(ctx context.Context, g Grading, exec ...core.DBExecutor) (Grading, error)
		UpdateGrading(ctx context.Context, g Grading, exec ...core.DBExecutor) (Grading, error)
		// RecordGradingResult saves a decided grading. It returns ErrInvalidTransition unless the stored
		// grading is still pending with an approved application.
		RecordGradingResult(ctx context.Context, g Grading, exec ...core.DBExecutor) (Grading, error)
		GetGrading(ctx context.Context, id string, exec ...core.DBExecutor) (Grading, error)
		// QueryGradings applies AND operation on available QueryFilter fields.
		// QueryFilter.Search and QueryFilter.Dojo match on the student's profile.
		QueryGradings(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Grading, error)

		CreateHistoryEntry(ctx context.Context, h HistoryEntry, exec ...core.DBExecutor) (HistoryEntry, error)
		// QueryHistory returns the student's history, latest decision first.
		QueryHistory(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]HistoryEntry, error)

		CreatePeriod(ctx context.Context, p Period, exec ...core.DBExecutor) (Period, error)
		UpdatePeriod(ctx context.Context, p Period, exec ...core.DBExecutor) (Period, error)
		// GetPeriod and QueryPeriods fill Period.AssignedCount.
		GetPeriod(ctx context.Context, id string, exec ...core.DBExecutor) (Period, error)
		QueryPeriods(ctx context.Context, filter PeriodFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Period, error)
		DeletePeriod(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// Observer is notified of grading events, after they are persisted.
	Observer interface {
		ApplicationSubmitted(g Grading)
		ResultRecorded(g Grading)
	}

	ServiceInterface interface {
		Apply(ctx context.Context, student user.User, na NewApplication) (Grading, error)
		ListForStudent(ctx context.Context, studentID string) ([]Grading, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Grading, error)
		Get(ctx context.Context, id string) (Grading, error)
		ApproveApplication(ctx context.Context, id, deciderID string) (Grading, error)
		RejectApplication(ctx context.Context, id, deciderID string, ra RejectApplication) (Grading, error)
		AssignPeriod(ctx context.Context, id, periodID, deciderID string) (Grading, error)
		UnassignPeriod(ctx context.Context, id string) (Grading, error)
		RecordResult(ctx context.Context, id, deciderID string, d Decision) (Grading, error)
		BulkRecordResult(ctx context.Context, periodID, deciderID string, decisions []BulkDecision) ([]BulkResult, error)
		History(ctx context.Context, studentID string) ([]HistoryEntry, error)
		Stats(ctx context.Context, filter *QueryFilter) (Stats, error)

		CreatePeriod(ctx context.Context, creatorID string, np NewPeriod) (Period, error)
		UpdatePeriod(ctx context.Context, id string, up UpdatePeriod) (Period, error)
		SetPeriodStatus(ctx context.Context, id, status string) (Period, error)
		DeletePeriod(ctx context.Context, id string) error
		ListPeriods(ctx context.Context, filter PeriodFilter, ordering []core.DBOrdering) ([]Period, error)
		GetPeriod(ctx context.Context, id string) (Period, error)
	}

	Service struct {
		repo      Repository
		userSvc   user.ServiceInterface
		rankSvc   rank.ServiceInterface
		mailSvc   core.EmailService
		tx        core.TxRunner
		conf      *core.Config
		observers []Observer
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	userSvc user.ServiceInterface,
	rankSvc rank.ServiceInterface,
	mailSvc core.EmailService,
	tx core.TxRunner,
	conf *core.Config,
	observers ...Observer,
) *Service {
	return &Service{
		repo:      repo,
		userSvc:   userSvc,
		rankSvc:   rankSvc,
		mailSvc:   mailSvc,
		tx:        tx,
		conf:      conf,
		observers: observers,
	}
}

// Apply submits a grading application for student.
func (svc *Service) Apply(ctx context.Context, student user.User, na NewApplication) (Grading, error) {
	if !student.EmergencyContact.IsComplete() {
		return Grading{}, core.NewValidationError(ErrEmergencyContactIncomplete,
			core.FieldError{Field: "emergency_contact", Error: ErrEmergencyContactIncomplete.Error()})
	}

	requested, err := svc.rankSvc.CheckEligibility(ctx, student.CurrentRankID, na.RequestedRankID)
	if err != nil {
		return Grading{}, err
	}

	existing, err := svc.repo.QueryGradings(ctx, &QueryFilter{StudentID: student.ID}, nil)
	if err != nil {
		return Grading{}, pkgerrors.Wrap(err, "querying student gradings")
	}
	for _, g := range existing {
		if g.IsOpen() {
			return Grading{}, ErrOpenApplication
		}
	}

	current, err := svc.grade(ctx, student.CurrentRankID)
	if err != nil {
		return Grading{}, err
	}

	now := time.Now().UTC()
	g, err := svc.repo.CreateGrading(ctx, Grading{
		StudentID:           student.ID,
		RequestedRankID:     requested.ID,
		RankAtApplicationID: student.CurrentRankID,
		GradeAtApplication:  current,
		RequestedGrade:      requested.Grade(),
		Status:              StatusPending,
		ApplicationStatus:   ApplicationSubmitted,
		SubmittedAt:         now,
		Indemnity: Indemnity{
			SignedAt:      now,
			SignatureText: na.SignatureText,
			PDFURL:        na.PDFURL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Grading{}, err
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.FullName(), Address: student.Email}},
		Subject:      "Grading Application Received",
		TemplateName: "grading_application_received",
		TemplateData: applicationReceivedData{Name: student.FirstName, Rank: requested.Label()},
	})
	for _, o := range svc.observers {
		o.ApplicationSubmitted(g)
	}
	return g, nil
}

func (svc *Service) ListForStudent(ctx context.Context, studentID string) ([]Grading, error) {
	return svc.repo.QueryGradings(ctx, &QueryFilter{StudentID: studentID},
		[]core.DBOrdering{{Field: "submitted_at"}})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Grading, error) {
	if filter != nil {
		filter.Clean()
	}
	ordering = core.FilterOrderings(ordering, OrderingFields...)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "submitted_at"}}
	}
	return svc.repo.QueryGradings(ctx, filter, ordering)
}

func (svc *Service) Get(ctx context.Context, id string) (Grading, error) {
	return svc.repo.GetGrading(ctx, id)
}

func (svc *Service) ApproveApplication(ctx context.Context, id, deciderID string) (Grading, error) {
	g, err := svc.Get(ctx, id)
	if err != nil {
		return Grading{}, err
	}
	if g.ApplicationStatus != ApplicationSubmitted {
		return Grading{}, ErrInvalidTransition
	}

	svc.decideApplication(&g, ApplicationApproved, deciderID)
	if g, err = svc.repo.UpdateGrading(ctx, g); err != nil {
		return Grading{}, err
	}
	svc.notifyApplicationDecided(ctx, g, nil)
	return g, nil
}

// RejectApplication rejects a submitted application, or an approved one that was not graded yet.
func (svc *Service) RejectApplication(ctx context.Context, id, deciderID string, ra RejectApplication) (Grading, error) {
	g, err := svc.Get(ctx, id)
	if err != nil {
		return Grading{}, err
	}
	if !g.IsOpen() {
		return Grading{}, ErrInvalidTransition
	}

	svc.decideApplication(&g, ApplicationRejected, deciderID)
	g.ApplicationRemarks = ra.Remarks
	g.GradingPeriodID = ""
	if g, err = svc.repo.UpdateGrading(ctx, g); err != nil {
		return Grading{}, err
	}
	svc.notifyApplicationDecided(ctx, g, nil)
	return g, nil
}

// AssignPeriod schedules the grading in an upcoming period, approving the application if needed.
func (svc *Service) AssignPeriod(ctx context.Context, id, periodID, deciderID string) (Grading, error) {
	g, err := svc.Get(ctx, id)
	if err != nil {
		return Grading{}, err
	}
	if !g.IsOpen() {
		return Grading{}, ErrInvalidTransition
	}

	p, err := svc.GetPeriod(ctx, periodID)
	if err != nil {
		if core.IsNotFound(err) {
			return Grading{}, core.NewValidationError(err, core.FieldError{Field: "period_id", Error: err.Error()})
		}
		return Grading{}, err
	}
	if g.GradingPeriodID == p.ID {
		return g, nil
	}
	if !p.IsOpenForAssignment(core.NowFunc()) {
		return Grading{}, core.NewValidationError(ErrPeriodNotUpcoming,
			core.FieldError{Field: "period_id", Error: ErrPeriodNotUpcoming.Error()})
	}
	if p.MaxApplications > 0 && p.AssignedCount >= p.MaxApplications {
		return Grading{}, core.NewValidationError(ErrPeriodFull,
			core.FieldError{Field: "period_id", Error: ErrPeriodFull.Error()})
	}

	if g.ApplicationStatus == ApplicationSubmitted {
		svc.decideApplication(&g, ApplicationApproved, deciderID)
	}
	g.GradingPeriodID = p.ID
	g.UpdatedAt = time.Now().UTC()
	if g, err = svc.repo.UpdateGrading(ctx, g); err != nil {
		return Grading{}, err
	}
	svc.notifyApplicationDecided(ctx, g, &p)
	return g, nil
}

func (svc *Service) UnassignPeriod(ctx context.Context, id string) (Grading, error) {
	g, err := svc.Get(ctx, id)
	if err != nil {
		return Grading{}, err
	}
	if !g.IsOpen() || g.GradingPeriodID == "" {
		return Grading{}, ErrInvalidTransition
	}
	g.GradingPeriodID = ""
	g.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateGrading(ctx, g)
}

func (svc *Service) decideApplication(g *Grading, status, deciderID string) {
	now := time.Now().UTC()
	g.ApplicationStatus = status
	g.ApplicationDecidedBy = deciderID
	g.ApplicationDecidedAt = &now
	g.UpdatedAt = now
}

// RecordResult records the outcome of an approved, scheduled grading.
// The grading, the student's history and, on Pass, the student's rank are saved together.
// grade returns the grade of the rank, nil if rankID is empty.
func (svc *Service) grade(ctx context.Context, rankID string) (*rank.Grade, error) {
	if rankID == "" {
		return nil, nil
	}
	r, err := svc.rankSvc.Get(ctx, rankID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "finding rank")
	}
	gr := r.Grade()
	return &gr, nil
}

func (svc *Service) RecordResult(ctx context.Context, id, deciderID string, d Decision) (Grading, error) {
	g, err := svc.Get(ctx, id)
	if err != nil {
		return Grading{}, err
	}
	if g.Status != StatusPending || g.ApplicationStatus != ApplicationApproved {
		return Grading{}, ErrInvalidTransition
	}
	if g.GradingPeriodID == "" {
		return Grading{}, core.NewValidationError(ErrPeriodRequired,
			core.FieldError{Field: "grading_period_id", Error: ErrPeriodRequired.Error()})
	}

	student, err := svc.userSvc.GetByID(ctx, g.StudentID)
	if err != nil {
		return Grading{}, pkgerrors.Wrap(err, "finding student")
	}
	requested, err := svc.rankSvc.Get(ctx, g.RequestedRankID)
	if err != nil {
		return Grading{}, pkgerrors.Wrap(err, "finding requested rank")
	}

	now := time.Now().UTC()
	g.Status = d.Result
	g.GradingNotes = d.Notes
	g.VisibleRemarks = d.VisibleRemarks
	g.CertificateURL = d.CertificateURL
	g.DecidedBy = deciderID
	g.DecidedAt = &now
	g.UpdatedAt = now

	entry := HistoryEntry{
		StudentID:      g.StudentID,
		GradingID:      g.ID,
		Result:         d.Result,
		RankBeforeID:   student.CurrentRankID,
		RankAfterID:    student.CurrentRankID,
		Remarks:        d.VisibleRemarks,
		Notes:          d.Notes,
		CertificateURL: d.CertificateURL,
		DecidedBy:      deciderID,
		DecidedAt:      now,
	}
	if d.Result == StatusPass {
		g.AchievedRankID = requested.ID
		entry.RankAfterID = requested.ID
		after := requested.Grade()
		entry.GradeAfter = &after
	} else if entry.GradeAfter, err = svc.grade(ctx, student.CurrentRankID); err != nil {
		return Grading{}, err
	}

	err = svc.tx.WithTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if g, err = svc.repo.RecordGradingResult(ctx, g, exec); err != nil {
			if err == ErrInvalidTransition {
				return err
			}
			return pkgerrors.Wrap(err, "recording grading result")
		}
		if _, err = svc.repo.CreateHistoryEntry(ctx, entry, exec); err != nil {
			return pkgerrors.Wrap(err, "creating history entry")
		}
		if d.Result == StatusPass && svc.isPromotion(ctx, student.CurrentRankID, requested) {
			if _, err = svc.userSvc.SetCurrentRank(ctx, student, requested.ID, now, exec); err != nil {
				return pkgerrors.Wrap(err, "promoting student")
			}
		}
		return nil
	})
	if err != nil {
		return Grading{}, err
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.FullName(), Address: student.Email}},
		Subject:      "Grading Result",
		TemplateName: "grading_result",
		TemplateData: resultData{
			Name:           student.FirstName,
			Rank:           requested.Label(),
			Result:         g.Status,
			Remarks:        g.VisibleRemarks,
			CertificateURL: g.CertificateURL,
		},
	})
	for _, o := range svc.observers {
		o.ResultRecorded(g)
	}
	return g, nil
}

// isPromotion is false when the student already holds requested or a higher rank.
func (svc *Service) isPromotion(ctx context.Context, currentRankID string, requested rank.Rank) bool {
	if currentRankID == "" {
		return true
	}
	current, err := svc.rankSvc.Get(ctx, currentRankID)
	if err != nil {
		return true
	}
	return requested.Higher(current)
}

// BulkRecordResult records each decision separately; failures don't stop the others.
func (svc *Service) BulkRecordResult(ctx context.Context, periodID, deciderID string, decisions []BulkDecision) ([]BulkResult, error) {
	if _, err := svc.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}

	results := make([]BulkResult, 0, len(decisions))
	for _, d := range decisions {
		res := BulkResult{GradingID: d.GradingID}
		g, err := svc.Get(ctx, d.GradingID)
		if err == nil && g.GradingPeriodID != periodID {
			err = ErrNotFound
		}
		if err == nil {
			g, err = svc.RecordResult(ctx, d.GradingID, deciderID, d.Decision)
		}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Grading = &g
		}
		results = append(results, res)
	}
	return results, nil
}

func (svc *Service) History(ctx context.Context, studentID string) ([]HistoryEntry, error) {
	entries, err := svc.repo.QueryHistory(ctx, studentID)
	if err != nil {
		return nil, err
	}
	sortHistory(entries)
	return entries, nil
}

func (svc *Service) Stats(ctx context.Context, filter *QueryFilter) (Stats, error) {
	if filter != nil {
		filter.Clean()
	}
	gradings, err := svc.repo.QueryGradings(ctx, filter, nil)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, g := range gradings {
		st.Total++
		switch {
		case g.ApplicationStatus == ApplicationRejected:
			st.Rejected++
		case g.Status == StatusPass:
			st.Passed++
		case g.Status == StatusFail:
			st.Failed++
		case g.ApplicationStatus == ApplicationSubmitted:
			st.NewApplications++
		case g.GradingPeriodID == "":
			st.AwaitingPeriod++
		default:
			st.AssignedPending++
		}
	}
	st.PassRate = core.Percentage(st.Passed, st.Passed+st.Failed, 1)
	return st, nil
}

func (svc *Service) CreatePeriod(ctx context.Context, creatorID string, np NewPeriod) (Period, error) {
	if np.MaxApplications == 0 {
		np.MaxApplications = svc.conf.Grading.DefaultMaxApplications
	}
	now := time.Now().UTC()
	return svc.repo.CreatePeriod(ctx, Period{
		Title:           np.Title,
		Description:     np.Description,
		GradingDate:     np.GradingDate.UTC(),
		Location:        np.Location,
		Status:          PeriodUpcoming,
		MaxApplications: np.MaxApplications,
		CreatedBy:       creatorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func (svc *Service) UpdatePeriod(ctx context.Context, id string, up UpdatePeriod) (Period, error) {
	p, err := svc.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if isFinalPeriodStatus(p.Status) {
		return Period{}, ErrPeriodFinal
	}

	if up.Title != "" {
		p.Title = up.Title
	}
	if up.Description != nil {
		p.Description = core.CleanString(*up.Description)
	}
	if up.GradingDate != nil {
		p.GradingDate = up.GradingDate.UTC()
	}
	if up.Location != nil {
		p.Location = core.CleanString(*up.Location)
	}
	if up.MaxApplications != nil {
		if *up.MaxApplications < p.AssignedCount {
			msg := fmt.Sprintf("cannot be lower than the %d assigned gradings", p.AssignedCount)
			return Period{}, core.NewValidationError(nil, core.FieldError{Field: "max_applications", Error: msg})
		}
		p.MaxApplications = *up.MaxApplications
	}
	p.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdatePeriod(ctx, p)
}

// SetPeriodStatus moves the period to status. Completed and Cancelled periods can't change anymore.
func (svc *Service) SetPeriodStatus(ctx context.Context, id, status string) (Period, error) {
	p, err := svc.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if p.Status == status {
		return p, nil
	}
	if isFinalPeriodStatus(p.Status) {
		return Period{}, ErrPeriodFinal
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdatePeriod(ctx, p)
}

func (svc *Service) DeletePeriod(ctx context.Context, id string) error {
	p, err := svc.GetPeriod(ctx, id)
	if err != nil {
		return err
	}
	if p.AssignedCount > 0 {
		return ErrPeriodHasGradings
	}
	return svc.repo.DeletePeriod(ctx, id)
}

func (svc *Service) ListPeriods(ctx context.Context, filter PeriodFilter, ordering []core.DBOrdering) ([]Period, error) {
	ordering = core.FilterOrderings(ordering, PeriodOrderingFields...)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "grading_date", Ascending: true}}
	}
	periods, err := svc.repo.QueryPeriods(ctx, filter, ordering)
	if err != nil {
		return nil, err
	}
	if filter.UpcomingOnly {
		now := core.NowFunc()
		upcoming := periods[:0]
		for _, p := range periods {
			if p.IsOpenForAssignment(now) {
				upcoming = append(upcoming, p)
			}
		}
		periods = upcoming
	}
	return periods, nil
}

func (svc *Service) GetPeriod(ctx context.Context, id string) (Period, error) {
	return svc.repo.GetPeriod(ctx, id)
}

func isFinalPeriodStatus(status string) bool {
	return status == PeriodCompleted || status == PeriodCancelled
}

type (
	applicationReceivedData struct {
		Name string
		Rank string
	}

	applicationDecidedData struct {
		Name     string
		Rank     string
		Status   string
		Period   string
		Date     string
		Location string
		Remarks  string
	}

	resultData struct {
		Name           string
		Rank           string
		Result         string
		Remarks        string
		CertificateURL string
	}
)

func (svc *Service) notifyApplicationDecided(ctx context.Context, g Grading, p *Period) {
	student, err := svc.userSvc.GetByID(ctx, g.StudentID)
	if err != nil {
		return
	}
	data := applicationDecidedData{
		Name:    student.FirstName,
		Status:  g.ApplicationStatus,
		Remarks: g.ApplicationRemarks,
	}
	if r, err := svc.rankSvc.Get(ctx, g.RequestedRankID); err == nil {
		data.Rank = r.Label()
	}
	if p != nil {
		data.Period = p.Title
		data.Date = p.GradingDate.Format("Mon, 02 Jan 2006")
		data.Location = p.Location
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: student.FullName(), Address: student.Email}},
		Subject:      "Grading Application " + g.ApplicationStatus,
		TemplateName: "grading_application_decided",
		TemplateData: data,
	})
}

// sortHistory orders entries latest decision first.
func sortHistory(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].DecidedAt.After(entries[j].DecidedAt) })
}
