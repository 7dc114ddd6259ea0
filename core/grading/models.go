package grading

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
)

// Grading statuses
const (
	StatusPending = "Pending"
	StatusPass    = "Pass"
	StatusFail    = "Fail"
)

// Application statuses
const (
	ApplicationSubmitted = "Submitted"
	ApplicationApproved  = "Approved"
	ApplicationRejected  = "Rejected"
)

// Period statuses
const (
	PeriodUpcoming   = "Upcoming"
	PeriodInProgress = "In Progress"
	PeriodCompleted  = "Completed"
	PeriodCancelled  = "Cancelled"
)

var (
	Statuses            = []string{StatusPending, StatusPass, StatusFail}
	ApplicationStatuses = []string{ApplicationSubmitted, ApplicationApproved, ApplicationRejected}
	PeriodStatuses      = []string{PeriodUpcoming, PeriodInProgress, PeriodCompleted, PeriodCancelled}

	// OrderingFields are the fields gradings can be ordered by.
	OrderingFields = []string{"submitted_at", "created_at", "updated_at", "decided_at", "status", "application_status"}
	// PeriodOrderingFields are the fields grading periods can be ordered by.
	PeriodOrderingFields = []string{"grading_date", "title", "status", "created_at"}
)

// Indemnity is the waiver signed by the student when applying.
type Indemnity struct {
	SignedAt      time.Time `json:"signed_at"`
	SignatureText string    `json:"signature_text"`
	PDFURL        string    `json:"pdf_url"`
}

// Grading is the application of a student for a rank promotion, and its outcome.
// ApplicationStatus tracks the review of the application, Status the outcome of the grading itself.
type Grading struct {
	ID                   string      `json:"id"`
	StudentID            string      `json:"student_id"`
	RequestedRankID      string      `json:"requested_rank_id"`
	RankAtApplicationID  string      `json:"rank_at_application_id"`
	GradeAtApplication   *rank.Grade `json:"grade_at_application"`
	RequestedGrade       rank.Grade  `json:"requested_grade"`
	Status               string      `json:"status"`
	ApplicationStatus    string      `json:"application_status"`
	SubmittedAt          time.Time   `json:"submitted_at"`
	Indemnity            Indemnity   `json:"indemnity"`
	GradingNotes         string      `json:"grading_notes,omitempty"` // instructors only
	VisibleRemarks       string      `json:"visible_remarks"`
	ApplicationRemarks   string      `json:"application_remarks"`
	CertificateURL       string      `json:"certificate_url"`
	DecidedBy            string      `json:"decided_by"`
	DecidedAt            *time.Time  `json:"decided_at"`
	ApplicationDecidedBy string      `json:"application_decided_by"`
	ApplicationDecidedAt *time.Time  `json:"application_decided_at"`
	GradingPeriodID      string      `json:"grading_period_id"`
	AchievedRankID       string      `json:"achieved_rank_id"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// IsOpen is true while the application still waits for a decision.
func (g Grading) IsOpen() bool {
	return g.Status == StatusPending && g.ApplicationStatus != ApplicationRejected
}

// ForStudent hides the instructors' notes.
func (g Grading) ForStudent() Grading {
	g.GradingNotes = ""
	return g
}

// Period is a scheduled grading session, to which approved applications are assigned.
type Period struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	GradingDate     time.Time `json:"grading_date"`
	Location        string    `json:"location"`
	Status          string    `json:"status"`
	MaxApplications int       `json:"max_applications"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AssignedCount   int       `json:"assigned_count"`
}

// IsOpenForAssignment reports whether gradings can still be assigned to the period at t.
func (p Period) IsOpenForAssignment(t time.Time) bool {
	return p.Status == PeriodUpcoming && p.GradingDate.After(t)
}

// HistoryEntry is an append-only record of a grading decision.
type HistoryEntry struct {
	ID             string      `json:"id"`
	StudentID      string      `json:"student_id"`
	GradingID      string      `json:"grading_id"`
	Result         string      `json:"result"`
	RankBeforeID   string      `json:"rank_before_id"`
	RankAfterID    string      `json:"rank_after_id"`
	GradeAfter     *rank.Grade `json:"grade_after"`
	Remarks        string      `json:"remarks"`
	Notes          string      `json:"notes,omitempty"`
	CertificateURL string      `json:"certificate_url"`
	DecidedBy      string      `json:"decided_by"`
	DecidedAt      time.Time   `json:"decided_at"`
}

func (h HistoryEntry) ForStudent() HistoryEntry {
	h.Notes = ""
	return h
}

// Stats summarises gradings for the instructors' dashboard.
type Stats struct {
	Total           int     `json:"total"`
	NewApplications int     `json:"new_applications"`
	AwaitingPeriod  int     `json:"awaiting_period"`
	AssignedPending int     `json:"assigned_pending"`
	Rejected        int     `json:"rejected"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	PassRate        float64 `json:"pass_rate"` // percent of decided gradings that passed
}

// NewApplication contains information needed to apply for a grading.
type NewApplication struct {
	RequestedRankID string `json:"requested_rank_id" validate:"required"`
	SignatureText   string `json:"signature_text" validate:"required,notblank"`
	PDFURL          string `json:"pdf_url" validate:"omitempty,url"`
}

func (na *NewApplication) Validate(validate *validator.Validate) error {
	na.RequestedRankID = core.CleanString(na.RequestedRankID)
	na.SignatureText = core.CleanString(na.SignatureText)
	na.PDFURL = core.CleanString(na.PDFURL)
	return validate.Struct(na)
}

type RejectApplication struct {
	Remarks string `json:"remarks" validate:"required,notblank"`
}

func (ra *RejectApplication) Validate(validate *validator.Validate) error {
	ra.Remarks = core.CleanString(ra.Remarks)
	return validate.Struct(ra)
}

type AssignPeriod struct {
	PeriodID string `json:"period_id" validate:"required"`
}

func (ap *AssignPeriod) Validate(validate *validator.Validate) error {
	ap.PeriodID = core.CleanString(ap.PeriodID)
	return validate.Struct(ap)
}

// Decision is the outcome of a grading, recorded by an instructor.
type Decision struct {
	Result         string `json:"result" validate:"required,gradingresult"`
	Notes          string `json:"notes"`
	VisibleRemarks string `json:"visible_remarks"`
	CertificateURL string `json:"certificate_url" validate:"omitempty,url"`
}

func (d *Decision) Clean() {
	d.Notes = core.CleanString(d.Notes)
	d.VisibleRemarks = core.CleanString(d.VisibleRemarks)
	d.CertificateURL = core.CleanString(d.CertificateURL)
}

func (d *Decision) Validate(validate *validator.Validate) error {
	d.Clean()
	return validate.Struct(d)
}

type BulkDecision struct {
	GradingID string `json:"grading_id" validate:"required"`
	Decision
}

type BulkDecisions struct {
	Decisions []BulkDecision `json:"decisions" validate:"required,min=1,dive"`
}

func (bd *BulkDecisions) Validate(validate *validator.Validate) error {
	for i := range bd.Decisions {
		bd.Decisions[i].Clean()
	}
	return validate.Struct(bd)
}

// BulkResult reports the outcome of one BulkDecision.
type BulkResult struct {
	GradingID string   `json:"grading_id"`
	Grading   *Grading `json:"grading,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewPeriod contains information needed to schedule a grading Period.
type NewPeriod struct {
	Title           string    `json:"title" validate:"required,notblank"`
	Description     string    `json:"description"`
	GradingDate     time.Time `json:"grading_date" validate:"required,future"`
	Location        string    `json:"location"`
	MaxApplications int       `json:"max_applications" validate:"omitempty,min=1"`
}

func (np *NewPeriod) Validate(validate *validator.Validate) error {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	np.Location = core.CleanString(np.Location)
	return validate.Struct(np)
}

// UpdatePeriod defines what information may be provided to modify a Period.
type UpdatePeriod struct {
	Title           string     `json:"title"`
	Description     *string    `json:"description"`
	GradingDate     *time.Time `json:"grading_date" validate:"omitempty,future"`
	Location        *string    `json:"location"`
	MaxApplications *int       `json:"max_applications" validate:"omitempty,min=1"`
}

func (up *UpdatePeriod) Validate(validate *validator.Validate) error {
	up.Title = core.CleanString(up.Title)
	return validate.Struct(up)
}

type UpdatePeriodStatus struct {
	Status string `json:"status" validate:"required,periodstatus"`
}

func (us *UpdatePeriodStatus) Validate(validate *validator.Validate) error { return validate.Struct(us) }

type QueryFilter struct {
	Status            string    `query:"status"`
	ApplicationStatus string    `query:"application_status"`
	PeriodID          string    `query:"period_id"`
	StudentID         string    `query:"student_id"`
	Dojo              string    `query:"dojo"`
	Unassigned        bool      `query:"unassigned"`
	Search            string    `query:"search"`
	SubmittedFrom     time.Time `query:"submitted_from"`
	SubmittedTo       time.Time `query:"submitted_to"`
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status)
	qf.ApplicationStatus = core.CleanString(qf.ApplicationStatus)
	qf.PeriodID = core.CleanString(qf.PeriodID)
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.Dojo = core.CleanString(qf.Dojo)
	qf.Search = core.CleanString(qf.Search)
}

type PeriodFilter struct {
	Status       string `query:"status"`
	UpcomingOnly bool   `query:"upcoming"`
}
