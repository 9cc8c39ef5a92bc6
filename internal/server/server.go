// Package server is the composition root: it opens the database and Redis,
// builds the services and handlers, mounts the routes, and runs the HTTP
// server until a shutdown signal arrives.
//
// Dependencies flow one way:
//
//	config → sqlite.DB, redis.Client → services → handlers → chi routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/social-blog/internal/auth"
	"github.com/sakif/social-blog/internal/config"
	"github.com/sakif/social-blog/internal/handler"
	"github.com/sakif/social-blog/internal/mailer"
	"github.com/sakif/social-blog/internal/markdown"
	"github.com/sakif/social-blog/internal/middleware"
	"github.com/sakif/social-blog/internal/ratelimit"
	sqliteRepo "github.com/sakif/social-blog/internal/repository/sqlite"
	"github.com/sakif/social-blog/internal/service"
	"github.com/sakif/social-blog/internal/tokenledger"
)

// Server owns the router and the connections it closes on shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	redis  *redis.Client // nil when Redis is not configured or unreachable
}

// services is everything the routes call into.
type services struct {
	tokens *auth.TokenService
	github *auth.GitHubProvider
	roles  *service.RoleService
	users  *service.UserService
	social *service.SocialService
	posts  *service.PostService
}

// New wires the whole application. Seeding the role table is part of boot:
// if it fails, New fails.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		redis:  connectRedis(cfg.Redis, logger),
	}

	svc, err := s.buildServices()
	if err != nil {
		s.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.roles.EnsureRolesSeeded(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.setupRoutes(svc)
	return s, nil
}

// connectRedis returns nil when Redis is not configured or does not answer.
// Without it logins are not throttled and tokens are not single-use.
func connectRedis(cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if cfg.Addr == "" {
		logger.Warn("redis not configured: login throttling and single-use tokens are disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable: login throttling and single-use tokens are disabled",
			slog.String("addr", cfg.Addr),
			slog.String("error", err.Error()),
		)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", cfg.Addr))
	return rdb
}

func (s *Server) buildServices() (*services, error) {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.Auth.Secret, auth.WithSessionTTL(cfg.Auth.SessionTTL))
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	var mail mailer.Sender
	if cfg.SMTP.Host != "" {
		mail = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host: cfg.SMTP.Host,
			Port: cfg.SMTP.Port,
			User: cfg.SMTP.User,
			Pass: cfg.SMTP.Pass,
			From: cfg.SMTP.From,
		}, cfg.App.MailSubjectPrefix, s.logger)
	} else {
		s.logger.Warn("smtp not configured: outgoing mail is logged instead of sent")
		mail = mailer.NewLogSender(cfg.App.MailSubjectPrefix, s.logger)
	}

	var github *auth.GitHubProvider
	if cfg.GitHub.Enabled() {
		github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	users := service.NewUserService(
		s.db.Users(), s.db.Roles(),
		auth.NewPasswordService(cfg.Auth.BcryptCost),
		tokens,
		tokenledger.New(s.redis),
		ratelimit.New(s.redis, cfg.RateLimit.Rate, cfg.RateLimit.Burst),
		mail,
		service.UserServiceConfig{
			AdminEmail: cfg.App.AdminEmail,
			TokenTTL:   cfg.Auth.TokenTTL,
			BaseURL:    cfg.App.BaseURL,
		},
		s.logger,
	)

	return &services{
		tokens: tokens,
		github: github,
		roles:  service.NewRoleService(s.db.Roles(), s.logger),
		users:  users,
		social: service.NewSocialService(s.db.Users(), s.db.Follows(), s.logger),
		posts:  service.NewPostService(s.db.Posts(), s.db.Users(), markdown.NewRenderer(), s.logger),
	}, nil
}

// setupRoutes mounts every route. Middleware runs in the order added:
// request ID, real IP, logging, metrics, panic recovery, then the session
// (optional everywhere, required inside the RequireAuth groups).
func (s *Server) setupRoutes(svc *services) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	authH := handler.NewAuthHandler(svc.users, svc.github, svc.tokens.SessionTTL(), s.logger)
	userH := handler.NewUserHandler(svc.users, svc.social, svc.posts,
		s.config.App.PostsPerPage, s.config.App.FollowersPerPage, s.logger)
	postH := handler.NewPostHandler(svc.posts, s.config.App.PostsPerPage)
	adminH := handler.NewAdminHandler(svc.users, svc.roles)
	requireAuth := auth.RequireAuth(svc.tokens)

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(svc.tokens))
		r.Use(handler.LoadPrincipal(svc.users, s.logger))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authH.HandleRegister)
			r.Post("/login", authH.HandleLogin)
			r.Post("/logout", authH.HandleLogout)
			r.Post("/reset", authH.HandleRequestReset)
			r.Post("/reset/{token}", authH.HandleReset)
			r.Get("/github/login", authH.HandleGitHubLogin)
			r.Get("/github/callback", authH.HandleGitHubCallback)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/confirm/{token}", authH.HandleConfirm)
				r.Post("/confirm", authH.HandleResendConfirmation)
				r.Post("/change-password", authH.HandleChangePassword)
				r.Post("/change-email", authH.HandleRequestEmailChange)
				r.Get("/change-email/{token}", authH.HandleChangeEmail)
			})
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/users/{username}", userH.HandleProfile)
			r.Get("/users/{username}/posts", userH.HandleUserPosts)
			r.Get("/users/{username}/followers", userH.HandleFollowers)
			r.Get("/users/{username}/followed", userH.HandleFollowed)
			r.Get("/posts", postH.HandleFeed)
			r.Get("/posts/{id}", postH.HandleGet)
			r.Get("/feed/all", postH.HandleShowAll)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", userH.HandleMe)
				r.Put("/me", userH.HandleEditMe)
				r.Post("/users/{username}/follow", userH.HandleFollow)
				r.Delete("/users/{username}/follow", userH.HandleUnfollow)
				r.Post("/posts", postH.HandleCreate)
				r.Put("/posts/{id}", postH.HandleEdit)
				r.Get("/feed/followed", postH.HandleShowFollowed)
				r.Put("/admin/users/{id}", adminH.HandleEditUser)
				r.Get("/admin/roles", adminH.HandleListRoles)
			})
		})
	})
}

// handleHealth reports whether the database answers.
//
// HTTP: GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT or SIGTERM, then stops accepting
// connections, gives in-flight requests 30 seconds to finish, and closes
// the database and Redis.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTP.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.HTTP.Port),
			slog.String("url", s.config.App.BaseURL),
			slog.String("database", s.config.DB.Path),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
