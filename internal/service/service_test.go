package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sakif/social-blog/internal/auth"
	"github.com/sakif/social-blog/internal/mailer"
	"github.com/sakif/social-blog/internal/markdown"
	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/ratelimit"
	"github.com/sakif/social-blog/internal/repository/sqlite"
	"github.com/sakif/social-blog/internal/tokenledger"
)

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================
//
// Services run against a real ":memory:" SQLite database and a miniredis
// server, so the tests cover the SQL and the Lua script along with the
// rules. Failure paths use the hand-written fakes further down.

const (
	testAdminEmail = "admin@example.com"
	testPassword   = "correct-horse"
)

type testEnv struct {
	db     *sqlite.DB
	redis  *miniredis.Miniredis
	tokens *auth.TokenService
	mail   *captureSender
	roles  *RoleService
	users  *UserService
	social *SocialService
	posts  *PostService
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tokens, err := auth.NewTokenService("service-test-secret-0123456789")
	require.NoError(t, err)

	logger := newTestLogger()
	roles := NewRoleService(db.Roles(), logger)
	require.NoError(t, roles.EnsureRolesSeeded(ctx))

	mail := &captureSender{}
	users := NewUserService(
		db.Users(), db.Roles(),
		auth.NewPasswordServiceForTest(4),
		tokens,
		tokenledger.New(rdb),
		ratelimit.New(rdb, 0.001, 3),
		mail,
		UserServiceConfig{AdminEmail: testAdminEmail, TokenTTL: time.Hour, BaseURL: "http://blog.test"},
		logger,
	)

	return &testEnv{
		db:     db,
		redis:  mr,
		tokens: tokens,
		mail:   mail,
		roles:  roles,
		users:  users,
		social: NewSocialService(db.Users(), db.Follows(), logger),
		posts:  NewPostService(db.Posts(), db.Users(), markdown.NewRenderer(), logger),
	}
}

// register creates an account for username and returns its principal.
func (e *testEnv) register(t *testing.T, username string) *model.Principal {
	t.Helper()
	return e.registerEmail(t, username, username+"@example.com")
}

func (e *testEnv) registerEmail(t *testing.T, username, email string) *model.Principal {
	t.Helper()
	ctx := context.Background()
	u, err := e.users.Register(ctx, RegisterInput{Email: email, Username: username, Password: testPassword})
	require.NoError(t, err)
	p, err := e.users.Principal(ctx, u.ID)
	require.NoError(t, err)
	return p
}

// =========================================================================
// FAKES
// =========================================================================

// captureSender records every message instead of delivering it.
type captureSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.err
}

func (c *captureSender) last(t *testing.T) mailer.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "no mail was sent")
	return c.sent[len(c.sent)-1]
}

// linkToken pulls the token out of the last mail's link to path.
func (c *captureSender) linkToken(t *testing.T, path string) string {
	t.Helper()
	text := c.last(t).Text
	_, rest, ok := strings.Cut(text, path)
	require.True(t, ok, "mail has no %s link:\n%s", path, text)
	token, _, _ := strings.Cut(rest, "\n")
	return strings.TrimSpace(token)
}

var errStorageDown = errors.New("database is locked")

// failingRoleRepo fails every call, like a database that went away.
type failingRoleRepo struct{}

func (failingRoleRepo) Seed(context.Context, []model.Role) error { return errStorageDown }
func (failingRoleRepo) GetByID(context.Context, string) (*model.Role, error) {
	return nil, errStorageDown
}
func (failingRoleRepo) GetByName(context.Context, string) (*model.Role, error) {
	return nil, errStorageDown
}
func (failingRoleRepo) Default(context.Context) (*model.Role, error) { return nil, errStorageDown }
func (failingRoleRepo) ByPermissions(context.Context, model.Permission) (*model.Role, error) {
	return nil, errStorageDown
}
func (failingRoleRepo) List(context.Context) ([]model.Role, error) { return nil, errStorageDown }

// stubRenderer returns a fixed error so render failures can be observed.
type stubRenderer struct{ err error }

func (r stubRenderer) Render(body string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "<p>" + body + "</p>", nil
}
