package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/grading"
	"github.com/seido/portal/core/rank"
)

const gradingColumns = `g.id, g.student_id, g.requested_rank_id, g.rank_at_application_id,
	g.grade_at_application, g.requested_grade, g.status,
	g.application_status, g.submitted_at, g.indemnity_signed_at, g.indemnity_signature, g.indemnity_pdf_url,
	g.grading_notes, g.visible_remarks, g.application_remarks, g.certificate_url, g.decided_by, g.decided_at,
	g.application_decided_by, g.application_decided_at, g.grading_period_id, g.achieved_rank_id,
	g.created_at, g.updated_at`

type gradingRow struct {
	ID                   string             `db:"id"`
	StudentID            string             `db:"student_id"`
	RequestedRankID      string             `db:"requested_rank_id"`
	RankAtApplicationID  null.String        `db:"rank_at_application_id"`
	GradeAtApplication   types.NullJSONText `db:"grade_at_application"`
	RequestedGrade       types.JSONText     `db:"requested_grade"`
	Status               string             `db:"status"`
	ApplicationStatus    string             `db:"application_status"`
	SubmittedAt          time.Time          `db:"submitted_at"`
	IndemnitySignedAt    time.Time          `db:"indemnity_signed_at"`
	IndemnitySignature   string             `db:"indemnity_signature"`
	IndemnityPDFURL      string             `db:"indemnity_pdf_url"`
	GradingNotes         string             `db:"grading_notes"`
	VisibleRemarks       string             `db:"visible_remarks"`
	ApplicationRemarks   string             `db:"application_remarks"`
	CertificateURL       string             `db:"certificate_url"`
	DecidedBy            null.String        `db:"decided_by"`
	DecidedAt            null.Time          `db:"decided_at"`
	ApplicationDecidedBy null.String        `db:"application_decided_by"`
	ApplicationDecidedAt null.Time          `db:"application_decided_at"`
	GradingPeriodID      null.String        `db:"grading_period_id"`
	AchievedRankID       null.String        `db:"achieved_rank_id"`
	CreatedAt            time.Time          `db:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"`
}

type periodRow struct {
	ID              string      `db:"id"`
	Title           string      `db:"title"`
	Description     string      `db:"description"`
	GradingDate     time.Time   `db:"grading_date"`
	Location        string      `db:"location"`
	Status          string      `db:"status"`
	MaxApplications int         `db:"max_applications"`
	CreatedBy       null.String `db:"created_by"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
	AssignedCount   int         `db:"assigned_count"`
}

type historyRow struct {
	ID             string             `db:"id"`
	StudentID      string             `db:"student_id"`
	GradingID      string             `db:"grading_id"`
	Result         string             `db:"result"`
	RankBeforeID   null.String        `db:"rank_before_id"`
	RankAfterID    null.String        `db:"rank_after_id"`
	GradeAfter     types.NullJSONText `db:"grade_after"`
	Remarks        string             `db:"remarks"`
	Notes          string             `db:"notes"`
	CertificateURL string             `db:"certificate_url"`
	DecidedBy      null.String        `db:"decided_by"`
	DecidedAt      time.Time          `db:"decided_at"`
}

type gradingRepository struct {
	baseRepository
}

var _ grading.Repository = (*gradingRepository)(nil) // interface compliance check

func NewGradingRepository(exec core.DBExecutor) *gradingRepository {
	return &gradingRepository{baseRepository{exec: exec}}
}

func gradeToJSON(gr *rank.Grade) (types.NullJSONText, error) {
	if gr == nil {
		return types.NullJSONText{}, nil
	}
	data, err := json.Marshal(gr)
	if err != nil {
		return types.NullJSONText{}, errors.Wrap(err, "marshalling grade")
	}
	return types.NullJSONText{JSONText: data, Valid: true}, nil
}

func gradeFromJSON(j types.NullJSONText) (*rank.Grade, error) {
	if !j.Valid {
		return nil, nil
	}
	var gr rank.Grade
	if err := j.Unmarshal(&gr); err != nil {
		return nil, errors.Wrap(err, "unmarshalling grade")
	}
	return &gr, nil
}

func (repo gradingRepository) toRow(g grading.Grading) (gradingRow, error) {
	atApplication, err := gradeToJSON(g.GradeAtApplication)
	if err != nil {
		return gradingRow{}, err
	}
	requested, err := json.Marshal(g.RequestedGrade)
	if err != nil {
		return gradingRow{}, errors.Wrap(err, "marshalling requested grade")
	}
	return gradingRow{
		ID:                   g.ID,
		StudentID:            g.StudentID,
		RequestedRankID:      g.RequestedRankID,
		RankAtApplicationID:  nullUUID(g.RankAtApplicationID),
		GradeAtApplication:   atApplication,
		RequestedGrade:       types.JSONText(requested),
		Status:               g.Status,
		ApplicationStatus:    g.ApplicationStatus,
		SubmittedAt:          g.SubmittedAt.UTC(),
		IndemnitySignedAt:    g.Indemnity.SignedAt.UTC(),
		IndemnitySignature:   g.Indemnity.SignatureText,
		IndemnityPDFURL:      g.Indemnity.PDFURL,
		GradingNotes:         g.GradingNotes,
		VisibleRemarks:       g.VisibleRemarks,
		ApplicationRemarks:   g.ApplicationRemarks,
		CertificateURL:       g.CertificateURL,
		DecidedBy:            nullUUID(g.DecidedBy),
		DecidedAt:            null.TimeFromPtr(g.DecidedAt),
		ApplicationDecidedBy: nullUUID(g.ApplicationDecidedBy),
		ApplicationDecidedAt: null.TimeFromPtr(g.ApplicationDecidedAt),
		GradingPeriodID:      nullUUID(g.GradingPeriodID),
		AchievedRankID:       nullUUID(g.AchievedRankID),
		CreatedAt:            g.CreatedAt.UTC(),
		UpdatedAt:            g.UpdatedAt.UTC(),
	}, nil
}

func (repo gradingRepository) fromRow(row gradingRow) (grading.Grading, error) {
	atApplication, err := gradeFromJSON(row.GradeAtApplication)
	if err != nil {
		return grading.Grading{}, err
	}
	var requested rank.Grade
	if err = row.RequestedGrade.Unmarshal(&requested); err != nil {
		return grading.Grading{}, errors.Wrap(err, "unmarshalling requested grade")
	}
	return grading.Grading{
		ID:                  row.ID,
		StudentID:           row.StudentID,
		RequestedRankID:     row.RequestedRankID,
		RankAtApplicationID: row.RankAtApplicationID.String,
		GradeAtApplication:  atApplication,
		RequestedGrade:      requested,
		Status:              row.Status,
		ApplicationStatus:   row.ApplicationStatus,
		SubmittedAt:         row.SubmittedAt,
		Indemnity: grading.Indemnity{
			SignedAt:      row.IndemnitySignedAt,
			SignatureText: row.IndemnitySignature,
			PDFURL:        row.IndemnityPDFURL,
		},
		GradingNotes:         row.GradingNotes,
		VisibleRemarks:       row.VisibleRemarks,
		ApplicationRemarks:   row.ApplicationRemarks,
		CertificateURL:       row.CertificateURL,
		DecidedBy:            row.DecidedBy.String,
		DecidedAt:            row.DecidedAt.Ptr(),
		ApplicationDecidedBy: row.ApplicationDecidedBy.String,
		ApplicationDecidedAt: row.ApplicationDecidedAt.Ptr(),
		GradingPeriodID:      row.GradingPeriodID.String,
		AchievedRankID:       row.AchievedRankID.String,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}, nil
}

func (repo gradingRepository) CreateGrading(ctx context.Context, g grading.Grading, exec ...core.DBExecutor) (grading.Grading, error) {
	g.ID = uuid.New().String()
	row, err := repo.toRow(g)
	if err != nil {
		return grading.Grading{}, err
	}
	_, err = repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO grading (id, student_id, requested_rank_id, rank_at_application_id, grade_at_application,
			requested_grade, status, application_status,
			submitted_at, indemnity_signed_at, indemnity_signature, indemnity_pdf_url, grading_notes, visible_remarks,
			application_remarks, certificate_url, decided_by, decided_at, application_decided_by,
			application_decided_at, grading_period_id, achieved_rank_id, created_at, updated_at)
		VALUES (:id, :student_id, :requested_rank_id, :rank_at_application_id, :grade_at_application,
			:requested_grade, :status, :application_status, :submitted_at, :indemnity_signed_at, :indemnity_signature, :indemnity_pdf_url, :grading_notes,
			:visible_remarks, :application_remarks, :certificate_url, :decided_by, :decided_at,
			:application_decided_by, :application_decided_at, :grading_period_id, :achieved_rank_id,
			:created_at, :updated_at)`,
		row)
	if err != nil {
		return grading.Grading{}, errors.Wrap(err, "inserting grading")
	}
	return g, nil
}

const updateGradingStmt = `
	UPDATE grading SET
		status = :status, application_status = :application_status, grading_notes = :grading_notes,
		visible_remarks = :visible_remarks, application_remarks = :application_remarks,
		certificate_url = :certificate_url, decided_by = :decided_by, decided_at = :decided_at,
		application_decided_by = :application_decided_by, application_decided_at = :application_decided_at,
		grading_period_id = :grading_period_id, achieved_rank_id = :achieved_rank_id, updated_at = :updated_at
	WHERE id = :id`

func (repo gradingRepository) UpdateGrading(ctx context.Context, g grading.Grading, exec ...core.DBExecutor) (grading.Grading, error) {
	row, err := repo.toRow(g)
	if err != nil {
		return grading.Grading{}, err
	}
	res, err := repo.getExec(exec).NamedExecContext(ctx, updateGradingStmt, row)
	if err != nil {
		return grading.Grading{}, errors.Wrap(err, "updating grading")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return grading.Grading{}, grading.ErrNotFound
	}
	return g, nil
}

// RecordGradingResult only updates a pending grading with an approved application. Concurrent decisions
// on the same grading wait on the row lock, and all but the first then match no row.
func (repo gradingRepository) RecordGradingResult(ctx context.Context, g grading.Grading, exec ...core.DBExecutor) (grading.Grading, error) {
	row, err := repo.toRow(g)
	if err != nil {
		return grading.Grading{}, err
	}
	res, err := repo.getExec(exec).NamedExecContext(ctx,
		updateGradingStmt+` AND status = 'Pending' AND application_status = 'Approved'`, row)
	if err != nil {
		return grading.Grading{}, errors.Wrap(err, "recording grading result")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return grading.Grading{}, errors.Wrap(err, "recording grading result")
	}
	if n == 0 {
		if _, err = repo.GetGrading(ctx, g.ID, exec...); err != nil {
			return grading.Grading{}, err
		}
		return grading.Grading{}, grading.ErrInvalidTransition
	}
	return g, nil
}

func (repo gradingRepository) GetGrading(ctx context.Context, id string, exec ...core.DBExecutor) (grading.Grading, error) {
	if !isUUID(id) {
		return grading.Grading{}, grading.ErrNotFound
	}
	var row gradingRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+gradingColumns+` FROM grading g WHERE g.id = $1`, id)
	if err != nil {
		return grading.Grading{}, trapNoRowsErr(err, grading.ErrNotFound, "finding grading")
	}
	return repo.fromRow(row)
}

func (repo gradingRepository) QueryGradings(ctx context.Context, filter *grading.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]grading.Grading, error) {
	q := newQuery(`SELECT ` + gradingColumns + ` FROM grading g JOIN "user" u ON u.id = g.student_id`)
	if filter != nil {
		if filter.Status != "" {
			q.Where("g.status = ?", filter.Status)
		}
		if filter.ApplicationStatus != "" {
			q.Where("g.application_status = ?", filter.ApplicationStatus)
		}
		if filter.PeriodID != "" {
			q.Where("g.grading_period_id::text = ?", filter.PeriodID)
		}
		if filter.Unassigned {
			q.Where("g.grading_period_id IS NULL")
		}
		if filter.StudentID != "" {
			q.Where("g.student_id::text = ?", filter.StudentID)
		}
		if filter.Dojo != "" {
			q.Where("u.dojo = ?", filter.Dojo)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			q.Where("u.first_name ILIKE ? OR u.last_name ILIKE ? OR (u.first_name || ' ' || u.last_name) ILIKE ?",
				val, val, val)
		}
		if !filter.SubmittedFrom.IsZero() {
			q.Where("g.submitted_at >= ?", filter.SubmittedFrom.UTC())
		}
		if !filter.SubmittedTo.IsZero() {
			q.Where("g.submitted_at <= ?", filter.SubmittedTo.UTC())
		}
	}
	if len(ordering) > 0 {
		prefixed := make([]core.DBOrdering, 0, len(ordering))
		for _, ord := range ordering {
			prefixed = append(prefixed, core.DBOrdering{Field: "g." + ord.Field, Ascending: ord.Ascending})
		}
		q.OrderBy(prefixed)
	}

	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}
	var rows []gradingRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying gradings")
	}
	gradings := make([]grading.Grading, 0, len(rows))
	for _, row := range rows {
		g, err := repo.fromRow(row)
		if err != nil {
			return nil, err
		}
		gradings = append(gradings, g)
	}
	return gradings, nil
}

func (repo gradingRepository) CreateHistoryEntry(ctx context.Context, h grading.HistoryEntry, exec ...core.DBExecutor) (grading.HistoryEntry, error) {
	h.ID = uuid.New().String()
	after, err := gradeToJSON(h.GradeAfter)
	if err != nil {
		return grading.HistoryEntry{}, err
	}
	_, err = repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO grading_history (id, student_id, grading_id, result, rank_before_id, rank_after_id, grade_after,
			remarks, notes, certificate_url, decided_by, decided_at)
		VALUES (:id, :student_id, :grading_id, :result, :rank_before_id, :rank_after_id, :grade_after, :remarks,
			:notes, :certificate_url, :decided_by, :decided_at)`,
		historyRow{
			ID:             h.ID,
			StudentID:      h.StudentID,
			GradingID:      h.GradingID,
			Result:         h.Result,
			RankBeforeID:   nullUUID(h.RankBeforeID),
			RankAfterID:    nullUUID(h.RankAfterID),
			GradeAfter:     after,
			Remarks:        h.Remarks,
			Notes:          h.Notes,
			CertificateURL: h.CertificateURL,
			DecidedBy:      nullUUID(h.DecidedBy),
			DecidedAt:      h.DecidedAt.UTC(),
		})
	if err != nil {
		return grading.HistoryEntry{}, errors.Wrap(err, "inserting grading history")
	}
	return h, nil
}

func (repo gradingRepository) QueryHistory(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]grading.HistoryEntry, error) {
	if !isUUID(studentID) {
		return []grading.HistoryEntry{}, nil
	}
	var rows []historyRow
	err := repo.getExec(exec).SelectContext(ctx, &rows, `
		SELECT id, student_id, grading_id, result, rank_before_id, rank_after_id, grade_after, remarks, notes,
			certificate_url, decided_by, decided_at
		FROM grading_history WHERE student_id = $1 ORDER BY decided_at DESC`, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "querying grading history")
	}

	entries := make([]grading.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		after, err := gradeFromJSON(row.GradeAfter)
		if err != nil {
			return nil, err
		}
		entries = append(entries, grading.HistoryEntry{
			ID:             row.ID,
			StudentID:      row.StudentID,
			GradingID:      row.GradingID,
			Result:         row.Result,
			RankBeforeID:   row.RankBeforeID.String,
			RankAfterID:    row.RankAfterID.String,
			GradeAfter:     after,
			Remarks:        row.Remarks,
			Notes:          row.Notes,
			CertificateURL: row.CertificateURL,
			DecidedBy:      row.DecidedBy.String,
			DecidedAt:      row.DecidedAt,
		})
	}
	return entries, nil
}

const periodSelect = `
	SELECT p.id, p.title, p.description, p.grading_date, p.location, p.status, p.max_applications, p.created_by,
		p.created_at, p.updated_at,
		(SELECT COUNT(*) FROM grading g WHERE g.grading_period_id = p.id) AS assigned_count
	FROM grading_period p`

func (repo gradingRepository) toPeriodRow(p grading.Period) periodRow {
	return periodRow{
		ID:              p.ID,
		Title:           p.Title,
		Description:     p.Description,
		GradingDate:     p.GradingDate.UTC(),
		Location:        p.Location,
		Status:          p.Status,
		MaxApplications: p.MaxApplications,
		CreatedBy:       nullUUID(p.CreatedBy),
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func (repo gradingRepository) fromPeriodRow(row periodRow) grading.Period {
	return grading.Period{
		ID:              row.ID,
		Title:           row.Title,
		Description:     row.Description,
		GradingDate:     row.GradingDate,
		Location:        row.Location,
		Status:          row.Status,
		MaxApplications: row.MaxApplications,
		CreatedBy:       row.CreatedBy.String,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		AssignedCount:   row.AssignedCount,
	}
}

func (repo gradingRepository) CreatePeriod(ctx context.Context, p grading.Period, exec ...core.DBExecutor) (grading.Period, error) {
	p.ID = uuid.New().String()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO grading_period (id, title, description, grading_date, location, status, max_applications,
			created_by, created_at, updated_at)
		VALUES (:id, :title, :description, :grading_date, :location, :status, :max_applications,
			:created_by, :created_at, :updated_at)`,
		repo.toPeriodRow(p))
	if err != nil {
		return grading.Period{}, errors.Wrap(err, "inserting grading period")
	}
	return p, nil
}

func (repo gradingRepository) UpdatePeriod(ctx context.Context, p grading.Period, exec ...core.DBExecutor) (grading.Period, error) {
	res, err := repo.getExec(exec).NamedExecContext(ctx, `
		UPDATE grading_period SET
			title = :title, description = :description, grading_date = :grading_date, location = :location,
			status = :status, max_applications = :max_applications, updated_at = :updated_at
		WHERE id = :id`,
		repo.toPeriodRow(p))
	if err != nil {
		return grading.Period{}, errors.Wrap(err, "updating grading period")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return grading.Period{}, grading.ErrPeriodNotFound
	}
	return p, nil
}

func (repo gradingRepository) GetPeriod(ctx context.Context, id string, exec ...core.DBExecutor) (grading.Period, error) {
	if !isUUID(id) {
		return grading.Period{}, grading.ErrPeriodNotFound
	}
	var row periodRow
	if err := repo.getExec(exec).GetContext(ctx, &row, periodSelect+` WHERE p.id = $1`, id); err != nil {
		return grading.Period{}, trapNoRowsErr(err, grading.ErrPeriodNotFound, "finding grading period")
	}
	return repo.fromPeriodRow(row), nil
}

func (repo gradingRepository) QueryPeriods(ctx context.Context, filter grading.PeriodFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]grading.Period, error) {
	q := newQuery(periodSelect)
	if filter.Status != "" {
		q.Where("p.status = ?", filter.Status)
	}
	if filter.UpcomingOnly {
		q.Where("p.status = ? AND p.grading_date > ?", grading.PeriodUpcoming, time.Now().UTC())
	}
	if len(ordering) > 0 {
		prefixed := make([]core.DBOrdering, 0, len(ordering))
		for _, ord := range ordering {
			prefixed = append(prefixed, core.DBOrdering{Field: "p." + ord.Field, Ascending: ord.Ascending})
		}
		q.OrderBy(prefixed)
	}

	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}
	var rows []periodRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying grading periods")
	}
	periods := make([]grading.Period, 0, len(rows))
	for _, row := range rows {
		periods = append(periods, repo.fromPeriodRow(row))
	}
	return periods, nil
}

func (repo gradingRepository) DeletePeriod(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if !isUUID(id) {
		return grading.ErrPeriodNotFound
	}
	res, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM grading_period WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting grading period")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return grading.ErrPeriodNotFound
	}
	return nil
}
