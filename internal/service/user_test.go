package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/auth"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/repository/sqlite"
	"github.com/sakif/social-blog/internal/tokenledger"
)

// =========================================================================
// REGISTER TESTS
// =========================================================================

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.users.Register(ctx, RegisterInput{
		Email:    " john@example.com ",
		Username: "john",
		Password: testPassword,
		Location: "Dhaka",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "john@example.com", u.Email, "email should be trimmed")
	assert.False(t, u.Confirmed)
	assert.Equal(t, model.AvatarHashFor("john@example.com"), u.AvatarHash)
	assert.False(t, u.MemberSince.IsZero())
	assert.Equal(t, u.MemberSince, u.LastSeen)
	assert.NotEqual(t, testPassword, u.PasswordHash)

	p, err := env.users.Principal(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, p.Role)
	assert.Equal(t, "User", p.Role.Name)

	mail := env.mail.last(t)
	assert.Equal(t, "john@example.com", mail.To)
	assert.Contains(t, mail.Text, "http://blog.test/auth/confirm/")
}

func TestRegister_AdminEmailGetsAdministrator(t *testing.T) {
	env := newTestEnv(t)

	admin := env.registerEmail(t, "boss", testAdminEmail)
	require.NotNil(t, admin.Role)
	assert.Equal(t, "Administrator", admin.Role.Name)
	assert.True(t, admin.IsAdministrator())
}

func TestRegister_NoRolesLeavesRoleUnset(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tokens, err := auth.NewTokenService("service-test-secret-0123456789")
	require.NoError(t, err)

	// No seeding, no Redis, no mailer.
	svc := NewUserService(db.Users(), db.Roles(), auth.NewPasswordServiceForTest(4), tokens,
		nil, nil, nil, UserServiceConfig{}, newTestLogger())

	u, err := svc.Register(context.Background(), RegisterInput{
		Email: "john@example.com", Username: "john", Password: testPassword,
	})
	require.NoError(t, err)
	assert.Nil(t, u.RoleID)

	p, err := svc.Principal(context.Background(), u.ID)
	require.NoError(t, err)
	assert.False(t, p.Can(model.PermFollow))
}

func TestRegister_Duplicates(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")

	tests := []struct {
		name      string
		in        RegisterInput
		wantField string
	}{
		{"same email", RegisterInput{Email: "john@example.com", Username: "johnny", Password: testPassword}, "email"},
		{"same username", RegisterInput{Email: "other@example.com", Username: "john", Password: testPassword}, "username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, apperror.ErrDuplicate)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantField, appErr.Field)
		})
	}
}

func TestRegister_CaseIsSignificant(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")

	_, err := env.users.Register(context.Background(), RegisterInput{
		Email: "JOHN@example.com", Username: "John", Password: testPassword,
	})
	assert.NoError(t, err)
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		in        RegisterInput
		wantField string
	}{
		{"missing email", RegisterInput{Username: "john", Password: testPassword}, "email"},
		{"bad email", RegisterInput{Email: "john.example.com", Username: "john", Password: testPassword}, "email"},
		{"email with empty label", RegisterInput{Email: "a@b..com", Username: "john", Password: testPassword}, "email"},
		{"email with leading dot domain", RegisterInput{Email: "a@.b.c", Username: "john", Password: testPassword}, "email"},
		{"email with angle brackets", RegisterInput{Email: "<x>@y.z", Username: "john", Password: testPassword}, "email"},
		{"email with stray quote", RegisterInput{Email: `a"b@c.d`, Username: "john", Password: testPassword}, "email"},
		{"email too long", RegisterInput{Email: strings.Repeat("a", 60) + "@example.com", Username: "john", Password: testPassword}, "email"},
		{"username starts with digit", RegisterInput{Email: "j@example.com", Username: "1john", Password: testPassword}, "username"},
		{"username with dash", RegisterInput{Email: "j@example.com", Username: "jo-hn", Password: testPassword}, "username"},
		{"short password", RegisterInput{Email: "j@example.com", Username: "john", Password: "short"}, "password"},
		{"long password", RegisterInput{Email: "j@example.com", Username: "john", Password: strings.Repeat("x", 73)}, "password"},
		{"about me too long", RegisterInput{Email: "j@example.com", Username: "john", Password: testPassword, AboutMe: strings.Repeat("x", 2001)}, "aboutMe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.users.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantField, appErr.Field)
		})
	}
}

func TestRegister_RoleLookupFailure(t *testing.T) {
	env := newTestEnv(t)
	svc := NewUserService(env.db.Users(), failingRoleRepo{}, auth.NewPasswordServiceForTest(4), env.tokens,
		nil, nil, nil, UserServiceConfig{}, newTestLogger())

	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "john@example.com", Username: "john", Password: testPassword,
	})
	assert.ErrorIs(t, err, errStorageDown)
}

func TestRegister_MailFailureDoesNotFailRegistration(t *testing.T) {
	env := newTestEnv(t)
	env.mail.err = assert.AnError

	_, err := env.users.Register(context.Background(), RegisterInput{
		Email: "john@example.com", Username: "john", Password: testPassword,
	})
	assert.NoError(t, err)
}

func TestPassword_NotReadable(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "john")

	_, err := p.User.Password()
	assert.ErrorIs(t, err, apperror.ErrNotReadable)
}

// =========================================================================
// LOGIN TESTS
// =========================================================================

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "john")

	res, err := env.users.Login(context.Background(), "john@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, p.User.ID, res.User.ID)

	userID, err := env.tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, p.User.ID, userID)
}

func TestLogin_BadCredentialsLookAlike(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")
	ctx := context.Background()

	_, wrongPassword := env.users.Login(ctx, "john@example.com", "not-the-password")
	_, unknownEmail := env.users.Login(ctx, "nobody@example.com", testPassword)

	require.ErrorIs(t, wrongPassword, apperror.ErrUnauthorized)
	require.ErrorIs(t, unknownEmail, apperror.ErrUnauthorized)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLogin_Throttled(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")
	ctx := context.Background()

	// Burst is 3 and refill is negligible over the test.
	for i := 0; i < 3; i++ {
		_, err := env.users.Login(ctx, "john@example.com", "wrong-password")
		require.ErrorIs(t, err, apperror.ErrUnauthorized)
	}

	_, err := env.users.Login(ctx, "john@example.com", testPassword)
	assert.ErrorIs(t, err, apperror.ErrTooManyRequests, "even the right password is refused once throttled")

	// Other emails keep their own bucket.
	env.register(t, "jane")
	_, err = env.users.Login(ctx, "jane@example.com", testPassword)
	assert.NoError(t, err)
}

func TestLogin_SuccessResetsThrottle(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		env.users.Login(ctx, "john@example.com", "wrong-password")
	}
	_, err := env.users.Login(ctx, "john@example.com", testPassword)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := env.users.Login(ctx, "john@example.com", "wrong-password")
		require.ErrorIs(t, err, apperror.ErrUnauthorized)
	}
}

func TestLogin_RedisDownDoesNotLockOut(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")
	env.redis.Close()

	_, err := env.users.Login(context.Background(), "john@example.com", testPassword)
	assert.NoError(t, err)
}

// =========================================================================
// TOKEN TESTS
// =========================================================================

func TestConfirm_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")
	token := env.mail.linkToken(t, "/auth/confirm/")

	require.NoError(t, env.users.Confirm(ctx, p.UserID(), token))

	u, err := env.users.GetByID(ctx, p.UserID())
	require.NoError(t, err)
	assert.True(t, u.Confirmed)

	// Already confirmed: no-op, whatever the token.
	assert.NoError(t, env.users.Confirm(ctx, p.UserID(), "garbage"))
}

func TestConfirm_TokenForAnotherAccount(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "john")
	johnToken := env.mail.linkToken(t, "/auth/confirm/")
	jane := env.register(t, "jane")

	err := env.users.Confirm(context.Background(), jane.UserID(), johnToken)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestConfirm_WrongPurpose(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "john")

	resetToken, err := env.users.IssueToken(auth.PurposeReset, p.User, 0)
	require.NoError(t, err)

	err = env.users.Confirm(context.Background(), p.UserID(), resetToken)
	assert.ErrorIs(t, err, apperror.ErrTokenPurpose)
	assert.True(t, apperror.IsTokenError(err))
}

func TestConfirm_Expired(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "john")

	past := time.Now().Add(-2 * time.Hour)
	old, err := auth.NewTokenService("service-test-secret-0123456789", auth.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	token, err := old.Issue(auth.PurposeConfirm, p.UserID(), time.Hour)
	require.NoError(t, err)

	err = env.users.Confirm(context.Background(), p.UserID(), token)
	assert.ErrorIs(t, err, apperror.ErrTokenExpired)
}

func TestConfirm_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "john")

	err := env.users.Confirm(context.Background(), p.UserID(), "not.a.jwt")
	assert.ErrorIs(t, err, apperror.ErrTokenSignature)
}

func TestResendConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")
	first := env.mail.linkToken(t, "/auth/confirm/")

	require.NoError(t, env.users.ResendConfirmation(ctx, p.UserID()))
	second := env.mail.linkToken(t, "/auth/confirm/")
	assert.NotEqual(t, first, second)

	require.NoError(t, env.users.Confirm(ctx, p.UserID(), second))
	err := env.users.ResendConfirmation(ctx, p.UserID())
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// =========================================================================
// PASSWORD RESET TESTS
// =========================================================================

func TestResetPassword_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "john")

	require.NoError(t, env.users.RequestPasswordReset(ctx, "john@example.com"))
	assert.Equal(t, "john@example.com", env.mail.last(t).To)
	token := env.mail.linkToken(t, "/auth/reset/")

	require.NoError(t, env.users.ResetPassword(ctx, "john@example.com", token, "brand-new-password"))

	_, err := env.users.Login(ctx, "john@example.com", "brand-new-password")
	assert.NoError(t, err)
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "john")
	require.NoError(t, env.users.RequestPasswordReset(ctx, "john@example.com"))
	token := env.mail.linkToken(t, "/auth/reset/")

	require.NoError(t, env.users.ResetPassword(ctx, "john@example.com", token, "first-new-password"))
	err := env.users.ResetPassword(ctx, "john@example.com", token, "second-new-password")
	assert.ErrorIs(t, err, apperror.ErrTokenUsed)
}

func TestResetPassword_WithoutLedgerTokensAreReusable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "john")
	env.users.ledger = tokenledger.New(nil)

	require.NoError(t, env.users.RequestPasswordReset(ctx, "john@example.com"))
	token := env.mail.linkToken(t, "/auth/reset/")

	require.NoError(t, env.users.ResetPassword(ctx, "john@example.com", token, "first-new-password"))
	assert.NoError(t, env.users.ResetPassword(ctx, "john@example.com", token, "second-new-password"))
}

func TestResetPassword_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.users.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, env.mail.sent, "no mail for an unknown address")

	err := env.users.ResetPassword(ctx, "nobody@example.com", "whatever", "brand-new-password")
	assert.True(t, apperror.IsTokenError(err), "got %v", err)
}

func TestResetPassword_TokenOfAnotherAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "john")
	env.register(t, "jane")
	require.NoError(t, env.users.RequestPasswordReset(ctx, "john@example.com"))
	token := env.mail.linkToken(t, "/auth/reset/")

	err := env.users.ResetPassword(ctx, "jane@example.com", token, "brand-new-password")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")

	err := env.users.ChangePassword(ctx, p.UserID(), "wrong-password", "brand-new-password")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	err = env.users.ChangePassword(ctx, p.UserID(), testPassword, "short")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	require.NoError(t, env.users.ChangePassword(ctx, p.UserID(), testPassword, "brand-new-password"))
	_, err = env.users.Login(ctx, "john@example.com", "brand-new-password")
	assert.NoError(t, err)
}

// =========================================================================
// EMAIL CHANGE TESTS
// =========================================================================

func TestChangeEmail_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")

	require.NoError(t, env.users.RequestEmailChange(ctx, p.UserID(), "john@new.example.com", testPassword))
	assert.Equal(t, "john@new.example.com", env.mail.last(t).To)
	token := env.mail.linkToken(t, "/auth/change-email/")

	u, err := env.users.ChangeEmail(ctx, p.UserID(), token)
	require.NoError(t, err)
	assert.Equal(t, "john@new.example.com", u.Email)
	assert.Equal(t, model.AvatarHashFor("john@new.example.com"), u.AvatarHash)

	_, err = env.users.Login(ctx, "john@new.example.com", testPassword)
	assert.NoError(t, err)
}

func TestRequestEmailChange_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")
	env.register(t, "jane")

	err := env.users.RequestEmailChange(ctx, p.UserID(), "john@new.example.com", "wrong-password")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	err = env.users.RequestEmailChange(ctx, p.UserID(), "not-an-email", testPassword)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	err = env.users.RequestEmailChange(ctx, p.UserID(), "jane@example.com", testPassword)
	assert.ErrorIs(t, err, apperror.ErrDuplicate)
}

func TestChangeEmail_LoserOfRaceGetsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	john := env.register(t, "john")
	jane := env.register(t, "jane")

	require.NoError(t, env.users.RequestEmailChange(ctx, john.UserID(), "shared@example.com", testPassword))
	johnToken := env.mail.linkToken(t, "/auth/change-email/")
	require.NoError(t, env.users.RequestEmailChange(ctx, jane.UserID(), "shared@example.com", testPassword))
	janeToken := env.mail.linkToken(t, "/auth/change-email/")

	_, err := env.users.ChangeEmail(ctx, john.UserID(), johnToken)
	require.NoError(t, err)

	_, err = env.users.ChangeEmail(ctx, jane.UserID(), janeToken)
	require.ErrorIs(t, err, apperror.ErrConflict)

	// The failed change released the token, so a retry fails the same way
	// rather than as "already used".
	_, err = env.users.ChangeEmail(ctx, jane.UserID(), janeToken)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	u, err := env.users.GetByID(ctx, jane.UserID())
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", u.Email)
}

func TestChangeEmail_TokenOfAnotherAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	john := env.register(t, "john")
	jane := env.register(t, "jane")

	require.NoError(t, env.users.RequestEmailChange(ctx, john.UserID(), "john@new.example.com", testPassword))
	token := env.mail.linkToken(t, "/auth/change-email/")

	_, err := env.users.ChangeEmail(ctx, jane.UserID(), token)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

// =========================================================================
// PROFILE TESTS
// =========================================================================

func TestEditProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")

	u, err := env.users.EditProfile(ctx, p.UserID(), ProfileInput{Name: " John Doe ", Location: "Dhaka", AboutMe: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "John Doe", u.Name)
	assert.Equal(t, "Dhaka", u.Location)
	assert.Equal(t, "hi", u.AboutMe)
	assert.Equal(t, "john@example.com", u.Email, "profile edits leave identity fields alone")

	_, err = env.users.EditProfile(ctx, p.UserID(), ProfileInput{Name: strings.Repeat("n", 65)})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestAdminEditUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.registerEmail(t, "boss", testAdminEmail)
	john := env.register(t, "john")
	env.register(t, "jane")

	moderator, err := env.db.Roles().GetByName(ctx, "Moderator")
	require.NoError(t, err)

	in := AdminProfileInput{
		Email:     "johnny@example.com",
		Username:  "johnny",
		Confirmed: true,
		RoleID:    moderator.ID,
		Name:      "Johnny",
	}

	_, err = env.users.AdminEditUser(ctx, john, john.UserID(), in)
	assert.ErrorIs(t, err, apperror.ErrForbidden, "only administrators may use the admin form")

	u, err := env.users.AdminEditUser(ctx, admin, john.UserID(), in)
	require.NoError(t, err)
	assert.Equal(t, "johnny", u.Username)
	assert.True(t, u.Confirmed)

	p, err := env.users.Principal(ctx, john.UserID())
	require.NoError(t, err)
	assert.Equal(t, "Moderator", p.Role.Name)
	assert.True(t, p.Can(model.PermModerateComments))

	in.Username = "jane"
	_, err = env.users.AdminEditUser(ctx, admin, john.UserID(), in)
	assert.ErrorIs(t, err, apperror.ErrDuplicate)

	in.Username = "johnny"
	in.RoleID = "no-such-role"
	_, err = env.users.AdminEditUser(ctx, admin, john.UserID(), in)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = env.users.AdminEditUser(ctx, admin, "no-such-user", in)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAdminEditUser_EmptyRoleClearsIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.registerEmail(t, "boss", testAdminEmail)
	john := env.register(t, "john")

	_, err := env.users.AdminEditUser(ctx, admin, john.UserID(), AdminProfileInput{
		Email: "john@example.com", Username: "john",
	})
	require.NoError(t, err)

	p, err := env.users.Principal(ctx, john.UserID())
	require.NoError(t, err)
	assert.Nil(t, p.Role)
	assert.False(t, p.Can(model.PermFollow))
}

func TestPing_UpdatesLastSeen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "john")

	later := p.User.LastSeen.Add(time.Hour)
	env.users.now = func() time.Time { return later }
	require.NoError(t, env.users.Ping(ctx, p.UserID()))

	u, err := env.users.GetByID(ctx, p.UserID())
	require.NoError(t, err)
	assert.True(t, u.LastSeen.Equal(later), "LastSeen = %v, want %v", u.LastSeen, later)
	assert.True(t, u.MemberSince.Before(u.LastSeen))
}

func TestGetByUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "john")

	u, err := env.users.GetByUsername(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, "john", u.Username)

	_, err = env.users.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = env.users.GetByUsername(ctx, "  ")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// =========================================================================
// GITHUB SIGN-IN TESTS
// =========================================================================

func TestSignInWithGitHub_CreatesConfirmedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.users.SignInWithGitHub(ctx, &auth.GitHubIdentity{
		ID: 42, Login: "octo-cat", Name: "Octo Cat", Email: "octo@example.com",
	})
	require.NoError(t, err)

	u := res.User
	assert.Equal(t, "octo_cat", u.Username)
	assert.True(t, u.Confirmed)
	assert.Empty(t, u.PasswordHash)
	require.NotNil(t, u.GitHubID)
	assert.Equal(t, int64(42), *u.GitHubID)

	userID, err := env.tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	// Same GitHub account signs in to the same user.
	again, err := env.users.SignInWithGitHub(ctx, &auth.GitHubIdentity{ID: 42, Login: "octo-cat"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.User.ID)

	// No password, so password login never works.
	_, err = env.users.Login(ctx, "octo@example.com", "")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestSignInWithGitHub_LinksExistingEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	john := env.register(t, "john")

	res, err := env.users.SignInWithGitHub(ctx, &auth.GitHubIdentity{ID: 7, Login: "jdoe", Email: "john@example.com"})
	require.NoError(t, err)
	assert.Equal(t, john.UserID(), res.User.ID)

	u, err := env.users.GetByID(ctx, john.UserID())
	require.NoError(t, err)
	require.NotNil(t, u.GitHubID)
	assert.Equal(t, int64(7), *u.GitHubID)
	assert.Equal(t, "john", u.Username, "linking keeps the chosen username")
}

func TestSignInWithGitHub_UsernameCollisionAndHiddenEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "octocat")

	res, err := env.users.SignInWithGitHub(ctx, &auth.GitHubIdentity{ID: 99, Login: "octocat"})
	require.NoError(t, err)
	assert.Equal(t, "octocat2", res.User.Username)
	assert.Equal(t, "99+octocat@users.noreply.github.com", res.User.Email)
}

func TestUniqueUsername_Sanitizes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		login string
		want  string
	}{
		{"octo-cat", "octo_cat"},
		{"9lives", "gh9lives"},
		{"", "gh"},
		{"a.b_c", "a.b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.login, func(t *testing.T) {
			got, err := env.users.uniqueUsername(ctx, tt.login)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
