package sqlxrepos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/user"
)

const userColumns = `id, first_name, last_name, email, password_hash, is_active, roles, mobile, date_of_birth,
	gender, dojo, remarks, profile_picture_url, emergency_contact_name, emergency_contact_relationship,
	emergency_contact_phone, emergency_contact_email, current_rank_id, rank_effective_date,
	created_at, updated_at, last_login`

type userRow struct {
	ID                           string         `db:"id"`
	FirstName                    string         `db:"first_name"`
	LastName                     string         `db:"last_name"`
	Email                        string         `db:"email"`
	PasswordHash                 null.Bytes     `db:"password_hash"`
	IsActive                     bool           `db:"is_active"`
	Roles                        pq.StringArray `db:"roles"`
	Mobile                       string         `db:"mobile"`
	DateOfBirth                  null.Time      `db:"date_of_birth"`
	Gender                       null.String    `db:"gender"`
	Dojo                         null.String    `db:"dojo"`
	Remarks                      string         `db:"remarks"`
	ProfilePictureURL            string         `db:"profile_picture_url"`
	EmergencyContactName         string         `db:"emergency_contact_name"`
	EmergencyContactRelationship string         `db:"emergency_contact_relationship"`
	EmergencyContactPhone        string         `db:"emergency_contact_phone"`
	EmergencyContactEmail        string         `db:"emergency_contact_email"`
	CurrentRankID                null.String    `db:"current_rank_id"`
	RankEffectiveDate            null.Time      `db:"rank_effective_date"`
	CreatedAt                    null.Time      `db:"created_at"`
	UpdatedAt                    null.Time      `db:"updated_at"`
	LastLogin                    null.Time      `db:"last_login"`
}

type userRepository struct {
	baseRepository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{baseRepository{exec: exec}}
}

func (repo userRepository) toRow(usr user.User) userRow {
	roles := pq.StringArray(usr.Roles)
	if roles == nil {
		roles = pq.StringArray{}
	}
	return userRow{
		ID:                           usr.ID,
		FirstName:                    usr.FirstName,
		LastName:                     usr.LastName,
		Email:                        usr.Email,
		PasswordHash:                 null.BytesFrom(usr.PasswordHash),
		IsActive:                     usr.IsActive,
		Roles:                        roles,
		Mobile:                       usr.Mobile,
		DateOfBirth:                  null.TimeFromPtr(usr.DateOfBirth),
		Gender:                       null.NewString(usr.Gender, usr.Gender != ""),
		Dojo:                         null.NewString(usr.Dojo, usr.Dojo != ""),
		Remarks:                      usr.Remarks,
		ProfilePictureURL:            usr.ProfilePictureURL,
		EmergencyContactName:         usr.EmergencyContact.Name,
		EmergencyContactRelationship: usr.EmergencyContact.Relationship,
		EmergencyContactPhone:        usr.EmergencyContact.Phone,
		EmergencyContactEmail:        usr.EmergencyContact.Email,
		CurrentRankID:                nullUUID(usr.CurrentRankID),
		RankEffectiveDate:            null.TimeFromPtr(usr.RankEffectiveDate),
		CreatedAt:                    null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:                    null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:                    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	roles := []string(row.Roles)
	if roles == nil {
		roles = []string{}
	}
	return user.User{
		ID:                row.ID,
		FirstName:         row.FirstName,
		LastName:          row.LastName,
		Email:             row.Email,
		IsActive:          row.IsActive,
		Roles:             roles,
		PasswordHash:      row.PasswordHash.Bytes,
		Mobile:            row.Mobile,
		DateOfBirth:       row.DateOfBirth.Ptr(),
		Gender:            row.Gender.String,
		Dojo:              row.Dojo.String,
		Remarks:           row.Remarks,
		ProfilePictureURL: row.ProfilePictureURL,
		EmergencyContact: user.EmergencyContact{
			Name:         row.EmergencyContactName,
			Relationship: row.EmergencyContactRelationship,
			Phone:        row.EmergencyContactPhone,
			Email:        row.EmergencyContactEmail,
		},
		CurrentRankID:     row.CurrentRankID.String,
		RankEffectiveDate: row.RankEffectiveDate.Ptr(),
		CreatedAt:         row.CreatedAt.Time,
		UpdatedAt:         row.UpdatedAt.Time,
		LastLogin:         row.LastLogin.Time,
	}
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	q := newQuery(`SELECT COUNT(*) FROM "user"`).Where("email = ?", email)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q.Where("id NOT IN (?)", ids)
	}
	stmt, args, err := q.Build()
	if err != nil {
		return err
	}

	var cnt int
	if err = repo.getExec(exec).GetContext(ctx, &cnt, stmt, args...); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if cnt > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	_, err := repo.getExec(exec).NamedExecContext(ctx, `
		INSERT INTO "user" (`+userColumns+`)
		VALUES (:id, :first_name, :last_name, :email, :password_hash, :is_active, :roles, :mobile, :date_of_birth,
			:gender, :dojo, :remarks, :profile_picture_url, :emergency_contact_name, :emergency_contact_relationship,
			:emergency_contact_phone, :emergency_contact_email, :current_rank_id, :rank_effective_date,
			:created_at, :updated_at, :last_login)`,
		repo.toRow(usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	q := newQuery(`SELECT ` + userColumns + ` FROM "user"`).OrderBy(ordering)

	if filter != nil {
		// users with FirstName, LastName or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			q.Where("first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ? OR (first_name || ' ' || last_name) ILIKE ?",
				val, val, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			conds := make([]string, 0, len(filter.Roles))
			args := make([]interface{}, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				conds = append(conds, "EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role ILIKE ?)")
				args = append(args, role+"%")
			}
			q.Where(strings.Join(conds, " OR "), args...)
		}
		if filter.Dojo != "" {
			q.Where("dojo = ?", filter.Dojo)
		}
		if filter.IsActive != nil {
			q.Where("is_active = ?", *filter.IsActive)
		}
		if filter.CurrentRankID != "" {
			q.Where("current_rank_id::text = ?", filter.CurrentRankID)
		}
		if !filter.CreatedFrom.IsZero() {
			q.Where("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			q.Where("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	stmt, args, err := q.Build()
	if err != nil {
		return nil, err
	}
	var rows []userRow
	if err = repo.getExec(exec).SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}

	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	q := newQuery(`SELECT ` + userColumns + ` FROM "user"`)
	switch {
	case filter.ID != "":
		if !isUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		q.Where("id = ?", filter.ID)
	case filter.Email != "":
		q.Where("email = ?", filter.Email)
	default:
		return user.User{}, user.ErrNotFound
	}

	stmt, args, err := q.Build()
	if err != nil {
		return user.User{}, err
	}
	var row userRow
	if err = repo.getExec(exec).GetContext(ctx, &row, stmt, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, "finding user")
	}
	return repo.fromRow(row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	res, err := repo.getExec(exec).NamedExecContext(ctx, `
		UPDATE "user" SET
			first_name = :first_name, last_name = :last_name, email = :email, password_hash = :password_hash,
			is_active = :is_active, roles = :roles, mobile = :mobile, date_of_birth = :date_of_birth,
			gender = :gender, dojo = :dojo, remarks = :remarks, profile_picture_url = :profile_picture_url,
			emergency_contact_name = :emergency_contact_name,
			emergency_contact_relationship = :emergency_contact_relationship,
			emergency_contact_phone = :emergency_contact_phone, emergency_contact_email = :emergency_contact_email,
			current_rank_id = :current_rank_id, rank_effective_date = :rank_effective_date,
			updated_at = :updated_at, last_login = :last_login
		WHERE id = :id`,
		repo.toRow(usr))
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, nil
	}

	stmt, args, err := newQuery(`DELETE FROM "user"`).Where("id IN (?)", valid).Build()
	if err != nil {
		return 0, err
	}
	res, err := repo.getExec(exec).ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "counting deleted users")
}
