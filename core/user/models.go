package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/seido/portal/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Instructor
	RoleInstructor = "instructor:"

	// Student
	RoleStudent = "student:"
)

// Dojos
const (
	DojoTP  = "TP"
	DojoSIT = "SIT"
	DojoHQ  = "HQ"
)

// Genders
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

var (
	AdminRoles      = []string{RoleAdmin, RoleAdminOwner}
	InstructorRoles = []string{RoleInstructor}
	StudentRoles    = []string{RoleStudent}
	AllRoles        = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner: 30,
		RoleAdmin:      21,

		// Instructors: 20 - 11
		RoleInstructor: 11,

		// Students: 10 - 1
		RoleStudent: 1,
	}

	Roles = []Choice{
		{Name: "Student", Value: RoleStudent},
		{Name: "Instructor", Value: RoleInstructor},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}

	Dojos = []Choice{
		{Name: "Temasek Polytechnic", Value: DojoTP},
		{Name: "Singapore Institute of Technology", Value: DojoSIT},
		{Name: "Headquarters", Value: DojoHQ},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 4)
	all = append(all, AdminRoles...)
	all = append(all, InstructorRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Choice struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EmergencyContact must be complete before a student can apply for a grading.
type EmergencyContact struct {
	Name         string `json:"name" validate:"required,notblank"`
	Relationship string `json:"relationship" validate:"required,notblank"`
	Phone        string `json:"phone" validate:"required,notblank"`
	Email        string `json:"email" validate:"omitempty,email"`
}

func (ec EmergencyContact) IsComplete() bool {
	return strings.TrimSpace(ec.Name) != "" &&
		strings.TrimSpace(ec.Relationship) != "" &&
		strings.TrimSpace(ec.Phone) != ""
}

func (ec *EmergencyContact) Clean() {
	ec.Name = core.CleanString(ec.Name)
	ec.Relationship = core.CleanString(ec.Relationship)
	ec.Phone = core.CleanString(ec.Phone)
	ec.Email = core.CleanString(ec.Email, true /* lower */)
}

func (ec *EmergencyContact) Validate(validate *validator.Validate) error {
	ec.Clean()
	return validate.Struct(ec)
}

// User is an account of the portal: student, instructor or admin, along with their profile.
type User struct {
	ID                string           `json:"id"`
	FirstName         string           `json:"first_name"`
	LastName          string           `json:"last_name"`
	Email             string           `json:"email"`
	IsActive          bool             `json:"is_active"`
	Roles             []string         `json:"roles"`
	PasswordHash      []byte           `json:"-"`
	Mobile            string           `json:"mobile"`
	DateOfBirth       *time.Time       `json:"date_of_birth"`
	Gender            string           `json:"gender"`
	Dojo              string           `json:"dojo"`
	Remarks           string           `json:"remarks"`
	ProfilePictureURL string           `json:"profile_picture_url"`
	EmergencyContact  EmergencyContact `json:"emergency_contact"`
	CurrentRankID     string           `json:"current_rank_id"`
	RankEffectiveDate *time.Time       `json:"rank_effective_date"`
	CreatedAt         time.Time        `json:"created_at"` // UTC
	UpdatedAt         time.Time        `json:"updated_at"` // UTC
	LastLogin         time.Time        `json:"last_login"` // UTC
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsInstructor() bool {
	return u.RoleStartsWith(RoleInstructor)
}

func (u *User) IsStudent() bool {
	return u.RoleStartsWith(RoleStudent)
}

// IsStaff is true for instructors and admins: they review gradings.
func (u *User) IsStaff() bool {
	return u.IsAdmin() || u.IsInstructor()
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	FirstName         string            `json:"first_name" validate:"required,notblank"`
	LastName          string            `json:"last_name" validate:"required,notblank"`
	Email             string            `json:"email" validate:"required,email"`
	Password          string            `json:"password" validate:"required"`
	PasswordConfirm   string            `json:"password_confirm" validate:"required,eqfield=Password"`
	Mobile            string            `json:"mobile"`
	DateOfBirth       *time.Time        `json:"date_of_birth" validate:"omitempty,notfuture"`
	Gender            string            `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	Dojo              string            `json:"dojo" validate:"omitempty,oneof=TP SIT HQ"`
	ProfilePictureURL string            `json:"profile_picture_url" validate:"omitempty,url"`
	EmergencyContact  *EmergencyContact `json:"emergency_contact" validate:"omitempty"`
	Roles             []string          `json:"roles" validate:"omitempty,allroles"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc ServiceInterface) error {
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Mobile = core.CleanString(nu.Mobile)
	if nu.EmergencyContact != nil {
		nu.EmergencyContact.Clean()
	}

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(ctx, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Email             string     `json:"email" validate:"omitempty,email"`
	Mobile            *string    `json:"mobile"`
	DateOfBirth       *time.Time `json:"date_of_birth" validate:"omitempty,notfuture"`
	Gender            string     `json:"gender" validate:"omitempty,oneof=Male Female Other"`
	Dojo              string     `json:"dojo" validate:"omitempty,oneof=TP SIT HQ"`
	Remarks           *string    `json:"remarks"`
	ProfilePictureURL *string    `json:"profile_picture_url" validate:"omitempty,url"`
	IsActive          *bool      `json:"is_active"`
	Roles             []string   `json:"roles" validate:"omitempty,allroles"`
	Password          string     `json:"password" validate:"omitempty"`
	PasswordConfirm   string     `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc ServiceInterface) error {
	if name := core.CleanString(uu.FirstName); name != "" {
		uu.FirstName = name
	} else {
		uu.FirstName = origUsr.FirstName
	}

	if name := core.CleanString(uu.LastName); name != "" {
		uu.LastName = name
	} else {
		uu.LastName = origUsr.LastName
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(ctx, uu.Email, origUsr)
}

// UpdateRoles is used by admins to toggle the student / instructor / admin privileges of a User.
type UpdateRoles struct {
	Roles []string `json:"roles" validate:"required,allroles"`
}

func (ur *UpdateRoles) Validate(validate *validator.Validate) error { return validate.Struct(ur) }

// UpdateRank sets the current rank of a student, outside of any grading.
type UpdateRank struct {
	RankID        string     `json:"rank_id" validate:"required"`
	EffectiveDate *time.Time `json:"effective_date" validate:"omitempty,notfuture"`
}

func (ur *UpdateRank) Validate(validate *validator.Validate) error {
	ur.RankID = core.CleanString(ur.RankID)
	return validate.Struct(ur)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp *ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type GetFilter struct {
	ID    string
	Email string
}

type QueryFilter struct {
	Search        string    `query:"search"`
	Roles         []string  `query:"role"`
	Dojo          string    `query:"dojo"`
	IsActive      *bool     `query:"is_active"`
	CurrentRankID string    `query:"rank_id"`
	CreatedFrom   time.Time `query:"created_from"`
	CreatedTo     time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.Dojo == "" && qf.IsActive == nil &&
		qf.CurrentRankID == "" && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Dojo = strings.ToUpper(core.CleanString(qf.Dojo))
	qf.CurrentRankID = core.CleanString(qf.CurrentRankID)
}

// OrderingFields are the fields users can be ordered by.
var OrderingFields = []string{"first_name", "last_name", "email", "dojo", "created_at", "updated_at", "last_login"}
