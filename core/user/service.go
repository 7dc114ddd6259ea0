package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/rank"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("user not found")
	ErrEmailExists      = errors.New("a user with this email already exists")
	ErrInvalidResetLink = errors.New("the password reset link is invalid or has expired")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []User, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.FirstName, User.LastName or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	// RankGetter is the part of the rank service users depend on.
	RankGetter interface {
		Get(ctx context.Context, id string) (rank.Rank, error)
		GetDefault(ctx context.Context) (rank.Rank, error)
	}

	ServiceInterface interface {
		CheckEmailUniqueness(ctx context.Context, email string, exclUsers ...User) error
		Register(ctx context.Context, nu NewUser) (User, error)
		Create(ctx context.Context, nu NewUser) (User, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		UpdateEmergencyContact(ctx context.Context, usr User, ec EmergencyContact) (User, error)
		SetRoles(ctx context.Context, usr User, roles []string) (User, error)
		SetCurrentRank(ctx context.Context, usr User, rankID string, effective time.Time, exec ...core.DBExecutor) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Delete(ctx context.Context, ids ...string) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
	}

	Service struct {
		repo     Repository
		rankSvc  RankGetter
		mailSvc  core.EmailService
		tokenGen tokenGenerator
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, rankSvc RankGetter, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		rankSvc: rankSvc,
		mailSvc: mailSvc,
		tokenGen: tokenGenerator{
			secretKey: []byte(conf.SecretKey),
			timeout:   conf.PasswordResetTimeoutDelta,
		},
	}
}

func (svc *Service) CheckEmailUniqueness(ctx context.Context, email string, exclUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, email, exclUsers); err != nil {
		if err == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) newUser(nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		FirstName:         nu.FirstName,
		LastName:          nu.LastName,
		Email:             nu.Email,
		IsActive:          true,
		Roles:             nu.Roles,
		Mobile:            nu.Mobile,
		DateOfBirth:       nu.DateOfBirth,
		Gender:            nu.Gender,
		Dojo:              nu.Dojo,
		ProfilePictureURL: nu.ProfilePictureURL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if nu.EmergencyContact != nil {
		usr.EmergencyContact = *nu.EmergencyContact
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return usr, nil
}

// Register signs up a new student, starting at the default rank.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	nu.Roles = []string{RoleStudent}
	usr, err := svc.newUser(nu)
	if err != nil {
		return User{}, err
	}

	defaultRank, err := svc.rankSvc.GetDefault(ctx)
	switch {
	case err == nil:
		today := core.Today(usr.CreatedAt)
		usr.CurrentRankID = defaultRank.ID
		usr.RankEffectiveDate = &today
	case err != rank.ErrNoDefaultRank:
		return User{}, pkgerrors.Wrap(err, "getting default rank")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Create adds a user with any roles. Students start at the default rank.
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if len(nu.Roles) == 0 {
		return svc.Register(ctx, nu)
	}
	usr, err := svc.newUser(nu)
	if err != nil {
		return User{}, err
	}
	if usr.IsStudent() {
		if defaultRank, err := svc.rankSvc.GetDefault(ctx); err == nil {
			today := core.Today(usr.CreatedAt)
			usr.CurrentRankID = defaultRank.ID
			usr.RankEffectiveDate = &today
		}
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, core.FilterOrderings(ordering, OrderingFields...))
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// Update applies a validated UpdateUser to usr.
func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.FirstName = uu.FirstName
	usr.LastName = uu.LastName
	usr.Email = uu.Email
	if uu.Mobile != nil {
		usr.Mobile = core.CleanString(*uu.Mobile)
	}
	if uu.DateOfBirth != nil {
		usr.DateOfBirth = uu.DateOfBirth
	}
	if uu.Gender != "" {
		usr.Gender = uu.Gender
	}
	if uu.Dojo != "" {
		usr.Dojo = uu.Dojo
	}
	if uu.Remarks != nil {
		usr.Remarks = core.CleanString(*uu.Remarks)
	}
	if uu.ProfilePictureURL != nil {
		usr.ProfilePictureURL = core.CleanString(*uu.ProfilePictureURL)
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) UpdateEmergencyContact(ctx context.Context, usr User, ec EmergencyContact) (User, error) {
	ec.Clean()
	usr.EmergencyContact = ec
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetRoles(ctx context.Context, usr User, roles []string) (User, error) {
	usr.Roles = roles
	if usr.IsStudent() && usr.CurrentRankID == "" {
		if defaultRank, err := svc.rankSvc.GetDefault(ctx); err == nil {
			today := core.Today(time.Now())
			usr.CurrentRankID = defaultRank.ID
			usr.RankEffectiveDate = &today
		}
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// SetCurrentRank sets usr's current rank, effective on the given date (today if zero).
func (svc *Service) SetCurrentRank(ctx context.Context, usr User, rankID string, effective time.Time, exec ...core.DBExecutor) (User, error) {
	if _, err := svc.rankSvc.Get(ctx, rankID); err != nil {
		if core.IsNotFound(err) {
			return User{}, core.NewValidationError(err, core.FieldError{Field: "rank_id", Error: err.Error()})
		}
		return User{}, pkgerrors.Wrap(err, "finding rank")
	}
	if effective.IsZero() {
		effective = time.Now()
	}
	date := core.Today(effective)
	usr.CurrentRankID = rankID
	usr.RankEffectiveDate = &date
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr, exec...)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteUsersByID(ctx, ids)
	return err
}

type passwordResetData struct {
	Name  string
	UID   string
	Token string
}

func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}

	token, err := svc.tokenGen.makeToken(usr)
	if err != nil {
		return pkgerrors.Wrap(err, "making password reset token")
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.FullName(), Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: passwordResetData{Name: usr.FirstName, UID: EncodeUID(usr), Token: token},
	})
	return nil
}

func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalidLinkErr := core.NewValidationError(ErrInvalidResetLink,
		core.FieldError{Field: "token", Error: ErrInvalidResetLink.Error()})

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalidLinkErr
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return invalidLinkErr
		}
		return pkgerrors.Wrap(err, "finding user by ID")
	}
	if err = svc.tokenGen.verifyToken(usr, data.Token); err != nil {
		if err == errInvalidToken || err == errTokenExpired {
			return invalidLinkErr
		}
		return pkgerrors.Wrap(err, "verifying token")
	}

	if err = usr.SetPassword(data.Password); err != nil {
		return pkgerrors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return pkgerrors.Wrap(err, fmt.Sprintf("updating user %s", usr.ID))
	}
	return nil
}
