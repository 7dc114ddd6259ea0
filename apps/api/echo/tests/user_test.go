package tests

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/seido/portal/apps/api/echo"
	"github.com/seido/portal/core/user"
	emailsvc "github.com/seido/portal/services/email"
	"github.com/seido/portal/tests"
)

func userIDs(users []user.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func Test_userApi_register(t *testing.T) {
	resetDB(t)
	ranks := testutil.CreateKyuRanks(t, repos.Rank)
	testutil.CreateUser(t, repos.User, "Taken", "Email", "taken@test.sg", "", []string{user.RoleStudent}, true)

	newUser := func(email, pwd, confirm string) []byte {
		return marchallObj(t, user.NewUser{
			FirstName:       "Aiko",
			LastName:        "Tan",
			Email:           email,
			Password:        pwd,
			PasswordConfirm: confirm,
			Dojo:            "TP",
		})
	}

	t.Run("invalid data", func(t *testing.T) {
		for name, body := range map[string][]byte{
			"email":            newUser("not-an-email", "Kihon-Kata-42", "Kihon-Kata-42"),
			"password_confirm": newUser("aiko@test.sg", "Kihon-Kata-42", "Kihon-Kata-43"),
		} {
			rec := serve(http.MethodPost, "/api/users/register", "", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var fldErrs map[string]string
			decode(t, rec, &fldErrs)
			assert.Contains(t, fldErrs, name)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		rec := serve(http.MethodPost, "/api/users/register", "", newUser(" TAKEN@test.sg", "Kihon-Kata-42", "Kihon-Kata-42"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("students start at the default rank", func(t *testing.T) {
		rec := serve(http.MethodPost, "/api/users/register", "", newUser("AIKO@test.sg", "Kihon-Kata-42", "Kihon-Kata-42"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "aiko@test.sg", usr.Email)
		assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
		assert.Equal(t, ranks[0].ID, usr.CurrentRankID)
		assert.NotNil(t, usr.RankEffectiveDate)
		assert.True(t, usr.IsActive)
	})

	t.Run("roles cannot be self-assigned", func(t *testing.T) {
		body := marchallObj(t, user.NewUser{
			FirstName:       "Sneaky",
			LastName:        "Admin",
			Email:           "sneaky@test.sg",
			Password:        "Kihon-Kata-42",
			PasswordConfirm: "Kihon-Kata-42",
			Roles:           []string{user.RoleAdminOwner},
		})
		rec := serve(http.MethodPost, "/api/users/register", "", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, []string{user.RoleStudent}, usr.Roles)
	})
}

func Test_userApi_login(t *testing.T) {
	resetDB(t)
	active := testutil.CreateUser(t, repos.User, "Ken", "Ito", "ken@test.sg", "Kihon-Kata-42", []string{user.RoleStudent}, true)
	testutil.CreateUser(t, repos.User, "Old", "Timer", "old@test.sg", "Kihon-Kata-42", []string{user.RoleStudent}, false)

	login := func(email, pwd string) []byte {
		return marchallObj(t, LoginRequest{Email: email, Password: pwd})
	}

	runHTTPTests(t, []httpTest{
		{
			name: "unknown user", method: http.MethodPost, path: "/api/users/login",
			body: login("nobody@test.sg", "Kihon-Kata-42"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", method: http.MethodPost, path: "/api/users/login",
			body: login("ken@test.sg", "Kihon-Kata-43"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated", method: http.MethodPost, path: "/api/users/login",
			body: login("old@test.sg", "Kihon-Kata-42"), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	})

	req, rec := newRequest(http.MethodPost, "/api/users/login", login(" KEN@test.sg ", "Kihon-Kata-42"))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.Token)

	rec = serve(http.MethodGet, "/api/users/me", resp.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var me user.User
	decode(t, rec, &me)
	assert.Equal(t, active.ID, me.ID)
	assert.False(t, me.LastLogin.IsZero())

	// refreshed tokens keep working
	rec = serve(http.MethodPost, "/api/users/token-refresh", resp.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/users/me", resp.Token).Code)
}

func Test_userApi_passwordReset(t *testing.T) {
	resetDB(t)
	testutil.CreateUser(t, repos.User, "Ken", "Ito", "ken@test.sg", "Kihon-Kata-42", []string{user.RoleStudent}, true)

	body := marchallObj(t, PasswordResetRequest{Email: "ken@test.sg"})
	rec := serve(http.MethodPost, "/api/users/password-reset", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msgs := emailsvc.LastSentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ken@test.sg", msgs[0].To[0].Address)

	// unknown emails are not disclosed
	body = marchallObj(t, PasswordResetRequest{Email: "nobody@test.sg"})
	rec = serve(http.MethodPost, "/api/users/password-reset", "", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, emailsvc.LastSentMessages(), 1)
}

func Test_userApi_query(t *testing.T) {
	resetDB(t)
	now := time.Now()

	admin := testutil.CreateUser(t, repos.User, "Admin", "Sensei", "admin@test.sg", "", []string{user.RoleAdmin}, true, now)
	instructor := testutil.CreateUser(t, repos.User, "Ito", "Sensei", "ito@test.sg", "", []string{user.RoleInstructor}, true, now.Add(time.Minute))
	aiko := testutil.CreateUser(t, repos.User, "Aiko", "Tan", "aiko@test.sg", "", []string{user.RoleStudent}, true, now.Add(2*time.Minute))
	ken := testutil.CreateUser(t, repos.User, "Ken", "Lim", "ken@test.sg", "", []string{user.RoleStudent}, false, now.Add(3*time.Minute))

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/api/users?" + v.Encode()
	}

	runHTTPTests(t, []httpTest{
		{name: "auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "staff required", path: "/api/users", token: getToken(t, aiko), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "roles are admin only", path: "/api/users/roles", token: getToken(t, instructor), wantCode: http.StatusForbidden},
	})

	tests := []struct {
		name  string
		path  string
		token string
		want  []string
	}{
		{"all (instructor)", "/api/users", getToken(t, instructor), []string{admin.ID, instructor.ID, aiko.ID, ken.ID}},
		{"search", path("search", "SENSEI"), getToken(t, admin), []string{admin.ID, instructor.ID}},
		{"role", path("role", user.RoleStudent), getToken(t, admin), []string{aiko.ID, ken.ID}},
		{"is_active", path("is_active", "false"), getToken(t, admin), []string{ken.ID}},
		{"ordering", path("ordering", "-created_at"), getToken(t, admin), []string{ken.ID, aiko.ID, instructor.ID, admin.ID}},
		{"unknown", path("search", "lol"), getToken(t, admin), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(http.MethodGet, tt.path, tt.token)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var users []user.User
			decode(t, rec, &users)
			assert.Equal(t, tt.want, userIDs(users))
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	resetDB(t)
	ranks := testutil.CreateKyuRanks(t, repos.Rank)
	instructor := testutil.CreateUser(t, repos.User, "Ito", "Sensei", "ito@test.sg", "", []string{user.RoleInstructor}, true)
	aiko := testutil.CreateStudent(t, repos.User, "Aiko", "aiko@test.sg", ranks[0].ID)
	ken := testutil.CreateStudent(t, repos.User, "Ken", "ken@test.sg", ranks[0].ID)

	runHTTPTests(t, []httpTest{
		{name: "own profile", path: "/api/users/" + aiko.ID, token: getToken(t, aiko)},
		{name: "other student", path: "/api/users/" + ken.ID, token: getToken(t, aiko), wantCode: http.StatusNotFound},
		{name: "staff", path: "/api/users/" + ken.ID, token: getToken(t, instructor)},
		{name: "unknown", path: "/api/users/lol", token: getToken(t, instructor), wantCode: http.StatusNotFound},
		{name: "own history", path: "/api/users/" + aiko.ID + "/history", token: getToken(t, aiko), wantData: []byte("[]")},
		{name: "other history", path: "/api/users/" + ken.ID + "/history", token: getToken(t, aiko), wantCode: http.StatusNotFound},
		{
			name: "students cannot set ranks", method: http.MethodPut, path: "/api/users/" + aiko.ID + "/rank",
			token: getToken(t, aiko), body: []byte(`{"rank_id":"` + ranks[5].ID + `"}`), wantCode: http.StatusForbidden,
		},
	})
}

func Test_userApi_higherRoleProtection(t *testing.T) {
	resetDB(t)
	owner := testutil.CreateUser(t, repos.User, "Owner", "Sensei", "owner@test.sg", "", []string{user.RoleAdminOwner}, true)
	admin := testutil.CreateUser(t, repos.User, "Admin", "Sensei", "admin@test.sg", "", []string{user.RoleAdmin}, true)
	ken := testutil.CreateUser(t, repos.User, "Ken", "Lim", "ken@test.sg", "", []string{user.RoleStudent}, true)
	adminToken := getToken(t, admin)
	demote := marchallObj(t, user.UpdateRoles{Roles: []string{user.RoleStudent}})

	runHTTPTests(t, []httpTest{
		{
			name: "set roles of a higher role", method: http.MethodPut, path: "/api/users/" + owner.ID + "/roles",
			token: adminToken, body: demote, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "update a higher role", method: http.MethodPut, path: "/api/users/" + owner.ID,
			token: adminToken, body: []byte(`{"roles":["student:"],"is_active":false}`), wantCode: http.StatusForbidden,
		},
		{
			name: "delete a higher role", method: http.MethodDelete, path: "/api/users/" + owner.ID,
			token: adminToken, wantCode: http.StatusForbidden,
		},
		{
			name: "bulk delete including a higher role", method: http.MethodDelete, path: "/api/users?id=" + ken.ID + "&id=" + owner.ID,
			token: adminToken, wantCode: http.StatusForbidden,
		},
	})

	stored, err := repos.User.GetUser(context.Background(), user.GetFilter{ID: owner.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleAdminOwner}, stored.Roles)
	assert.True(t, stored.IsActive)
	_, err = repos.User.GetUser(context.Background(), user.GetFilter{ID: ken.ID})
	require.NoError(t, err, "nothing is deleted when one user is protected")

	// same or lower roles stay manageable
	runHTTPTests(t, []httpTest{
		{name: "set roles of a student", method: http.MethodPut, path: "/api/users/" + ken.ID + "/roles", token: adminToken, body: demote},
		{name: "update a student", method: http.MethodPut, path: "/api/users/" + ken.ID, token: adminToken, body: []byte(`{"first_name":"Kenji"}`)},
		{name: "owner demotes an admin", method: http.MethodPut, path: "/api/users/" + admin.ID + "/roles", token: getToken(t, owner), body: demote},
		{name: "bulk delete lower roles", method: http.MethodDelete, path: "/api/users?id=" + ken.ID + "&id=lol", token: getToken(t, owner), wantCode: http.StatusNoContent},
	})
}
