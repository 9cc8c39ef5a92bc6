package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-blog/internal/service"
)

// ShowFollowedCookie remembers which home feed the browser last picked.
const (
	ShowFollowedCookie = "show_followed"
	showFollowedMaxAge = 30 * 24 * 60 * 60
)

// PostHandler serves posts and the home feed.
type PostHandler struct {
	posts   *service.PostService
	perPage int
}

func NewPostHandler(posts *service.PostService, perPage int) *PostHandler {
	return &PostHandler{posts: posts, perPage: perPage}
}

// HandleFeed returns one page of the home feed. The show_followed cookie
// selects the followed-only feed for logged-in users.
//
// HTTP: GET /api/posts?page=N
func (h *PostHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	followedOnly := false
	if c, err := r.Cookie(ShowFollowedCookie); err == nil && c.Value == "1" {
		followedOnly = true
	}

	page, err := h.posts.SelectFeed(r.Context(), PrincipalFromContext(r.Context()), followedOnly, pageParam(r), h.perPage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleShowAll switches the home feed to every post.
//
// HTTP: GET /api/feed/all
func (h *PostHandler) HandleShowAll(w http.ResponseWriter, r *http.Request) {
	setShowFollowed(w, "")
	writeMessage(w, http.StatusOK, "showing all posts")
}

// HandleShowFollowed switches the home feed to followed authors.
//
// HTTP: GET /api/feed/followed
// Auth: Required
func (h *PostHandler) HandleShowFollowed(w http.ResponseWriter, r *http.Request) {
	setShowFollowed(w, "1")
	writeMessage(w, http.StatusOK, "showing posts from followed users")
}

func setShowFollowed(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ShowFollowedCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   showFollowedMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// HandleCreate publishes a post.
//
// HTTP: POST /api/posts
// Auth: Required (WRITE_ARTICLES)
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.PostInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	post, err := h.posts.Create(r.Context(), PrincipalFromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// HandleGet returns a single post.
//
// HTTP: GET /api/posts/{id}
func (h *PostHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// HandleEdit replaces a post's body.
//
// HTTP: PUT /api/posts/{id}
// Auth: Required (author or ADMINISTER)
func (h *PostHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var in service.PostInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	post, err := h.posts.Edit(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
