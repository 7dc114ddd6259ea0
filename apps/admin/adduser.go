package main

import (
	"context"
	"time"

	"github.com/seido/portal/core"
	"github.com/seido/portal/core/user"
)

// addUser updates or creates a user.User. Without admin or instructor roles, a student is created.
func (cli *commandLine) addUser(email, firstName, lastName, pwd string, isAdmin, isInstructor bool) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)

	roles := make([]string, 0)
	if isAdmin {
		roles = append(roles, user.AdminRoles...)
	}
	if isInstructor || isAdmin {
		roles = append(roles, user.RoleInstructor)
	}

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	if err != nil {
		if !core.IsNotFound(err) {
			return err
		}
		_, err = cli.svcs.User.Create(ctx, user.NewUser{
			FirstName: core.CleanString(firstName),
			LastName:  core.CleanString(lastName),
			Email:     email,
			Password:  pwd,
			Roles:     roles,
		})
		return err
	}

	usr.FirstName = core.CleanString(firstName)
	usr.LastName = core.CleanString(lastName)
	if len(roles) > 0 {
		usr.Roles = roles
	}
	usr.IsActive = true
	usr.UpdatedAt = time.Now().UTC()
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return err
}
