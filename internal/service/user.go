// Package service holds the business rules. Handlers call services, and
// services call repositories:
//
//	Handler (HTTP) → Service (rules, authorization) → Repository (SQL)
//
// Services take repository interfaces, never the sqlite package, and return
// apperror values that the handler layer maps to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/auth"
	"github.com/sakif/social-blog/internal/authz"
	"github.com/sakif/social-blog/internal/mailer"
	"github.com/sakif/social-blog/internal/metrics"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/ratelimit"
	"github.com/sakif/social-blog/internal/repository"
	"github.com/sakif/social-blog/internal/tokenledger"
)

// UserServiceConfig holds the settings UserService reads.
type UserServiceConfig struct {
	// AdminEmail registers straight into the administrator role.
	AdminEmail string
	// TokenTTL is the lifetime of confirm, reset and change-email tokens.
	TokenTTL time.Duration
	// BaseURL prefixes the links put in account mail.
	BaseURL string
}

// UserService runs the account lifecycle: registration, login, the
// token-driven confirm/reset/change-email flows and profile edits.
type UserService struct {
	users     repository.UserRepository
	roles     repository.RoleRepository
	passwords model.PasswordHasher
	tokens    *auth.TokenService
	ledger    *tokenledger.Ledger
	limiter   *ratelimit.Limiter
	mail      mailer.Sender
	cfg       UserServiceConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewUserService wires a UserService. ledger and limiter may be nil; tokens
// then stay valid until expiry and logins are not throttled.
func NewUserService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	passwords model.PasswordHasher,
	tokens *auth.TokenService,
	ledger *tokenledger.Ledger,
	limiter *ratelimit.Limiter,
	mail mailer.Sender,
	cfg UserServiceConfig,
	logger *slog.Logger,
) *UserService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &UserService{
		users:     users,
		roles:     roles,
		passwords: passwords,
		tokens:    tokens,
		ledger:    ledger,
		limiter:   limiter,
		mail:      mail,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// LoginResult bundles the user and the session token so the handler can set
// the cookie and respond in one step.
type LoginResult struct {
	User  *model.User
	Token string
}

// =========================================================================
// REGISTRATION AND LOGIN
// =========================================================================

// Register creates an unconfirmed account and mails a confirmation link.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureFree(ctx, in.Email, in.Username); err != nil {
		return nil, err
	}

	roleID, err := s.roleFor(ctx, in.Email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &model.User{
		Email:       in.Email,
		Username:    in.Username,
		RoleID:      roleID,
		Name:        in.Name,
		Location:    in.Location,
		AboutMe:     in.AboutMe,
		AvatarHash:  model.AvatarHashFor(in.Email),
		MemberSince: now,
		LastSeen:    now,
	}
	if err := u.SetPassword(s.passwords, in.Password); err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperror.ErrDuplicate) {
			return nil, err
		}
		s.logger.Error("failed to create user",
			slog.String("username", in.Username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("registering user: %w", err)
	}

	metrics.RegistrationsTotal.Inc()
	s.logger.Info("user registered", slog.String("id", u.ID), slog.String("username", u.Username))

	s.sendConfirmation(ctx, u)
	return u, nil
}

// ensureFree reports a Duplicate for the first of email or username that is
// already registered. The UNIQUE indexes still catch a concurrent insert.
func (s *UserService) ensureFree(ctx context.Context, email, username string) error {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return apperror.Duplicate("email", email)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("checking email: %w", err)
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return apperror.Duplicate("username", username)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("checking username: %w", err)
	}
	return nil
}

// roleFor picks the role of a new account: administrator for the configured
// admin address, otherwise the default role, otherwise none.
func (s *UserService) roleFor(ctx context.Context, email string) (*string, error) {
	if s.cfg.AdminEmail != "" && email == s.cfg.AdminEmail {
		r, err := s.roles.ByPermissions(ctx, model.PermAll)
		if err == nil {
			return &r.ID, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("resolving admin role: %w", err)
		}
	}
	r, err := s.roles.Default(ctx)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving default role: %w", err)
	}
	return &r.ID, nil
}

// Login checks the credentials and issues a session token. Attempts are
// throttled per email; wrong email and wrong password get the same answer.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	key := "login:" + email

	allowed, err := s.limiter.Allow(ctx, key)
	if err != nil {
		// Redis down must not lock everybody out.
		s.logger.Warn("login rate limiter unavailable", slog.String("error", err.Error()))
		allowed = true
	}
	if !allowed {
		metrics.LoginsTotal.WithLabelValues("throttled").Inc()
		return nil, apperror.TooManyRequests("too many login attempts, try again later")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("login: %w", err)
	}
	if u == nil || !u.VerifyPassword(s.passwords, password) {
		metrics.LoginsTotal.WithLabelValues("invalid").Inc()
		return nil, apperror.Unauthorized("invalid email or password")
	}

	token, err := s.tokens.Generate(u.ID)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.Warn("resetting login limiter", slog.String("error", err.Error()))
	}
	s.touch(ctx, u)

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("user logged in", slog.String("id", u.ID))
	return &LoginResult{User: u, Token: token}, nil
}

// SignInWithGitHub logs in the account linked to ident, linking or creating
// one on first sign-in. Matching goes by GitHub ID first, then by email.
// New accounts are confirmed (GitHub verified the address) and have no
// password.
func (s *UserService) SignInWithGitHub(ctx context.Context, ident *auth.GitHubIdentity) (*LoginResult, error) {
	u, err := s.users.GetByGitHubID(ctx, ident.ID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("github sign-in: %w", err)
	}

	if u == nil && ident.Email != "" {
		u, err = s.users.GetByEmail(ctx, ident.Email)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("github sign-in: %w", err)
		}
		if u != nil {
			if err := s.users.LinkGitHub(ctx, u.ID, ident.ID); err != nil {
				return nil, err
			}
			u.GitHubID = &ident.ID
			s.logger.Info("github account linked", slog.String("id", u.ID), slog.Int64("github_id", ident.ID))
		}
	}

	if u == nil {
		if u, err = s.createFromGitHub(ctx, ident); err != nil {
			return nil, err
		}
	}

	token, err := s.tokens.Generate(u.ID)
	if err != nil {
		return nil, fmt.Errorf("github sign-in: %w", err)
	}
	s.touch(ctx, u)
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	return &LoginResult{User: u, Token: token}, nil
}

func (s *UserService) createFromGitHub(ctx context.Context, ident *auth.GitHubIdentity) (*model.User, error) {
	email := ident.Email
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", ident.ID, ident.Login)
	}
	username, err := s.uniqueUsername(ctx, ident.Login)
	if err != nil {
		return nil, err
	}
	roleID, err := s.roleFor(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := ident.ID
	u := &model.User{
		Email:       email,
		Username:    username,
		Confirmed:   true,
		RoleID:      roleID,
		Name:        ident.Name,
		AvatarHash:  model.AvatarHashFor(email),
		GitHubID:    &id,
		MemberSince: now,
		LastSeen:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("github sign-in: creating user: %w", err)
	}
	metrics.RegistrationsTotal.Inc()
	s.logger.Info("user registered via github", slog.String("id", u.ID), slog.String("username", u.Username))
	return u, nil
}

// uniqueUsername turns a GitHub login into a valid, unused username:
// "octo-cat" → "octo_cat", then "octo_cat2", "octo_cat3", ...
func (s *UserService) uniqueUsername(ctx context.Context, login string) (string, error) {
	var b strings.Builder
	for _, r := range login {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		case r == '-':
			b.WriteRune('_')
		}
	}
	base := b.String()
	if base == "" || !usernamePattern.MatchString(base) {
		base = "gh" + base
	}
	if len(base) > MaxUsernameLength-4 {
		base = base[:MaxUsernameLength-4]
	}

	for i := 1; i <= 1000; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}
		taken, err := s.users.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("choosing username: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", apperror.Conflict("username", base)
}

// =========================================================================
// TOKENS
// =========================================================================

// IssueToken signs a token binding purpose and user. ttl <= 0 uses the
// configured token lifetime.
func (s *UserService) IssueToken(purpose auth.Purpose, u *model.User, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	return s.tokens.Issue(purpose, u.ID, ttl)
}

// ConsumeToken verifies token for purpose and marks it used. When actorID
// is set the token must have been issued to that user.
//
// Errors: the apperror.ErrToken* family, or ErrForbidden when the token
// belongs to someone else.
func (s *UserService) ConsumeToken(ctx context.Context, token string, purpose auth.Purpose, actorID string) (*auth.Claims, error) {
	claims, err := s.tokens.Parse(token, purpose)
	if err != nil {
		return nil, err
	}
	if actorID != "" && claims.UserID() != actorID {
		return nil, apperror.Forbidden("token does not belong to this account")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	fresh, err := s.ledger.Consume(ctx, claims.ID, ttl)
	if err != nil {
		return nil, fmt.Errorf("consuming token: %w", err)
	}
	if !fresh {
		return nil, apperror.Token(apperror.ErrTokenUsed)
	}
	return claims, nil
}

// release gives a consumed token back after the action it authorised failed.
func (s *UserService) release(ctx context.Context, claims *auth.Claims) {
	if err := s.ledger.Release(ctx, claims.ID); err != nil {
		s.logger.Warn("releasing token", slog.String("error", err.Error()))
	}
}

// =========================================================================
// CONFIRMATION
// =========================================================================

// Confirm marks actorID confirmed. Confirming twice is a no-op that leaves
// the token unspent.
func (s *UserService) Confirm(ctx context.Context, actorID, token string) error {
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if u.Confirmed {
		return nil
	}

	claims, err := s.ConsumeToken(ctx, token, auth.PurposeConfirm, actorID)
	if err != nil {
		return err
	}
	if err := s.users.SetConfirmed(ctx, actorID, true); err != nil {
		s.release(ctx, claims)
		return fmt.Errorf("confirming user: %w", err)
	}
	s.logger.Info("user confirmed", slog.String("id", actorID))
	return nil
}

// ResendConfirmation mails a fresh confirmation link.
func (s *UserService) ResendConfirmation(ctx context.Context, actorID string) error {
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if u.Confirmed {
		return apperror.ValidationFailed("confirmed", "account is already confirmed")
	}
	s.sendConfirmation(ctx, u)
	return nil
}

func (s *UserService) sendConfirmation(ctx context.Context, u *model.User) {
	token, err := s.IssueToken(auth.PurposeConfirm, u, 0)
	if err != nil {
		s.logger.Error("issuing confirmation token", slog.String("error", err.Error()))
		return
	}
	link := s.cfg.BaseURL + "/auth/confirm/" + token
	s.send(ctx, mailer.Message{
		To:      u.Email,
		Subject: "Confirm Your Account",
		Text: fmt.Sprintf("Dear %s,\n\nWelcome! To confirm your account please open:\n\n%s\n\n"+
			"The link expires in %s.\n", u.Username, link, s.cfg.TokenTTL),
	})
}

// =========================================================================
// PASSWORDS
// =========================================================================

// RequestPasswordReset mails a reset token. An unknown address succeeds
// silently so the endpoint cannot be used to probe for accounts.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("requesting password reset: %w", err)
	}

	token, err := s.IssueToken(auth.PurposeReset, u, 0)
	if err != nil {
		return fmt.Errorf("requesting password reset: %w", err)
	}
	s.send(ctx, mailer.Message{
		To:      u.Email,
		Subject: "Reset Your Password",
		Text: fmt.Sprintf("Dear %s,\n\nTo reset your password use this token:\n\n%s\n\n"+
			"or POST your new password to %s/auth/reset/%s\n\n"+
			"If you did not request a reset, ignore this message.\n",
			u.Username, token, s.cfg.BaseURL, token),
	})
	return nil
}

// ResetPassword sets a new password for the account at email, given a reset
// token issued to that same account.
func (s *UserService) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if err := validatePassword("password", newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.Token(apperror.ErrTokenSignature)
	}
	if err != nil {
		return fmt.Errorf("resetting password: %w", err)
	}

	claims, err := s.ConsumeToken(ctx, token, auth.PurposeReset, u.ID)
	if err != nil {
		return err
	}
	if err := s.storePassword(ctx, u, newPassword); err != nil {
		s.release(ctx, claims)
		return err
	}
	s.logger.Info("password reset", slog.String("id", u.ID))
	return nil
}

// ChangePassword replaces the password of a logged-in user who knows the
// current one.
func (s *UserService) ChangePassword(ctx context.Context, actorID, oldPassword, newPassword string) error {
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !u.VerifyPassword(s.passwords, oldPassword) {
		return apperror.ValidationFailed("oldPassword", "invalid password")
	}
	if err := s.storePassword(ctx, u, newPassword); err != nil {
		return err
	}
	s.logger.Info("password changed", slog.String("id", u.ID))
	return nil
}

func (s *UserService) storePassword(ctx context.Context, u *model.User, plaintext string) error {
	if err := u.SetPassword(s.passwords, plaintext); err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, u.PasswordHash); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}
	return nil
}

// =========================================================================
// EMAIL CHANGE
// =========================================================================

// RequestEmailChange mails a change-email token to the new address after
// checking the current password.
func (s *UserService) RequestEmailChange(ctx context.Context, actorID, newEmail, password string) error {
	newEmail = strings.TrimSpace(newEmail)
	if err := validateEmail(newEmail); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		return err
	}
	if !u.VerifyPassword(s.passwords, password) {
		return apperror.ValidationFailed("password", "invalid password")
	}
	if _, err := s.users.GetByEmail(ctx, newEmail); err == nil {
		return apperror.Duplicate("email", newEmail)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("requesting email change: %w", err)
	}

	token, err := s.tokens.IssueEmailChange(u.ID, newEmail, s.cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("requesting email change: %w", err)
	}
	s.send(ctx, mailer.Message{
		To:      newEmail,
		Subject: "Confirm your email address",
		Text: fmt.Sprintf("Dear %s,\n\nTo confirm your new email address open:\n\n%s/auth/change-email/%s\n",
			u.Username, s.cfg.BaseURL, token),
	})
	return nil
}

// ChangeEmail applies a change-email token. The new address is written with
// one conditional UPDATE, so two accounts racing for it cannot both win;
// the loser gets ErrConflict.
func (s *UserService) ChangeEmail(ctx context.Context, actorID, token string) (*model.User, error) {
	claims, err := s.ConsumeToken(ctx, token, auth.PurposeChangeEmail, actorID)
	if err != nil {
		return nil, err
	}
	if err := validateEmail(claims.NewEmail); err != nil {
		return nil, apperror.Token(apperror.ErrTokenSignature)
	}

	if err := s.users.ChangeEmail(ctx, actorID, claims.NewEmail, model.AvatarHashFor(claims.NewEmail)); err != nil {
		s.release(ctx, claims)
		return nil, err
	}
	s.logger.Info("email changed", slog.String("id", actorID))
	return s.users.GetByID(ctx, actorID)
}

// =========================================================================
// PROFILE
// =========================================================================

// EditProfile updates the actor's own name, location and bio.
func (s *UserService) EditProfile(ctx context.Context, actorID string, in ProfileInput) (*model.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.UpdateProfile(ctx, actorID, in.Name, in.Location, in.AboutMe); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, actorID)
}

// AdminEditUser lets an administrator rewrite any account's identity,
// confirmation state, role and profile.
func (s *UserService) AdminEditUser(ctx context.Context, actor *model.Principal, targetID string, in AdminProfileInput) (*model.User, error) {
	if err := authz.Require(actor, authz.Admin()); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	var roleID *string
	if in.RoleID != "" {
		r, err := s.roles.GetByID(ctx, in.RoleID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ValidationFailed("roleId", "unknown role")
		}
		if err != nil {
			return nil, fmt.Errorf("admin edit: %w", err)
		}
		roleID = &r.ID
	}

	u.Email = in.Email
	u.Username = in.Username
	u.Confirmed = in.Confirmed
	u.RoleID = roleID
	u.Name = in.Name
	u.Location = in.Location
	u.AboutMe = in.AboutMe
	u.AvatarHash = model.AvatarHashFor(in.Email)

	if err := s.users.UpdateAdmin(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user edited by admin",
		slog.String("id", u.ID),
		slog.String("admin", actor.UserID()),
	)
	return u, nil
}

// Ping records that userID was just active.
func (s *UserService) Ping(ctx context.Context, userID string) error {
	return s.users.TouchLastSeen(ctx, userID, s.now().UTC())
}

func (s *UserService) touch(ctx context.Context, u *model.User) {
	now := s.now().UTC()
	if err := s.users.TouchLastSeen(ctx, u.ID, now); err != nil {
		s.logger.Warn("updating last_seen", slog.String("id", u.ID), slog.String("error", err.Error()))
		return
	}
	u.LastSeen = now
}

// =========================================================================
// LOOKUPS
// =========================================================================

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	return s.users.GetByUsername(ctx, username)
}

// Principal loads userID with its role resolved. A dangling role reference
// yields a principal with no role, i.e. no permissions.
func (s *UserService) Principal(ctx context.Context, userID string) (*model.Principal, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &model.Principal{User: u}
	if u.RoleID == nil {
		return p, nil
	}
	r, err := s.roles.GetByID(ctx, *u.RoleID)
	if errors.Is(err, apperror.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving role: %w", err)
	}
	p.Role = r
	return p, nil
}

// send delivers account mail. A delivery failure is logged and never fails
// the action that triggered it.
func (s *UserService) send(ctx context.Context, msg mailer.Message) {
	if s.mail == nil {
		return
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		s.logger.Error("sending mail",
			slog.String("to", msg.To),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}
}
