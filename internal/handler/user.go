package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-blog/internal/model"
	"github.com/sakif/social-blog/internal/service"
)

// UserHandler serves profiles and the follower graph.
type UserHandler struct {
	users            *service.UserService
	social           *service.SocialService
	posts            *service.PostService
	postsPerPage     int
	followersPerPage int
	logger           *slog.Logger
}

func NewUserHandler(
	users *service.UserService,
	social *service.SocialService,
	posts *service.PostService,
	postsPerPage, followersPerPage int,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		users:            users,
		social:           social,
		posts:            posts,
		postsPerPage:     postsPerPage,
		followersPerPage: followersPerPage,
		logger:           logger,
	}
}

// MeResponse is the logged-in user with the name of their role.
type MeResponse struct {
	User        *model.User `json:"user"`
	Role        string      `json:"role,omitempty"`
	Permissions int         `json:"permissions"`
}

// HandleMe returns the logged-in user.
//
// HTTP: GET /api/me
// Auth: Required
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	resp := MeResponse{User: p.User}
	if p.Role != nil {
		resp.Role = p.Role.Name
		resp.Permissions = int(p.Role.Permissions)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEditMe updates the logged-in user's name, location and bio.
//
// HTTP: PUT /api/me
// Auth: Required
func (h *UserHandler) HandleEditMe(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var in service.ProfileInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	u, err := h.users.EditProfile(r.Context(), p.UserID(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("profile updated", slog.String("userID", u.ID))
	writeJSON(w, http.StatusOK, u)
}

// HandleProfile returns a user page with follow counts.
//
// HTTP: GET /api/users/{username}
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.social.Profile(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleUserPosts pages through one user's posts.
//
// HTTP: GET /api/users/{username}/posts?page=N
func (h *UserHandler) HandleUserPosts(w http.ResponseWriter, r *http.Request) {
	page, err := h.posts.UserPosts(r.Context(), chi.URLParam(r, "username"), pageParam(r), h.postsPerPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleFollow makes the caller follow {username}.
//
// HTTP: POST /api/users/{username}/follow
// Auth: Required
func (h *UserHandler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.social.Follow(r.Context(), PrincipalFromContext(r.Context()), username); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "You are now following "+username+".")
}

// HandleUnfollow stops the caller following {username}.
//
// HTTP: DELETE /api/users/{username}/follow
// Auth: Required
func (h *UserHandler) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.social.Unfollow(r.Context(), PrincipalFromContext(r.Context()), username); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "You are not following "+username+" anymore.")
}

// HandleFollowers lists who follows {username}.
//
// HTTP: GET /api/users/{username}/followers?page=N
func (h *UserHandler) HandleFollowers(w http.ResponseWriter, r *http.Request) {
	page, err := h.social.Followers(r.Context(), chi.URLParam(r, "username"), pageParam(r), h.followersPerPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleFollowed lists who {username} follows.
//
// HTTP: GET /api/users/{username}/followed?page=N
func (h *UserHandler) HandleFollowed(w http.ResponseWriter, r *http.Request) {
	page, err := h.social.Followed(r.Context(), chi.URLParam(r, "username"), pageParam(r), h.followersPerPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
