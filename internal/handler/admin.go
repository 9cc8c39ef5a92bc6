package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/social-blog/internal/service"
)

// AdminHandler serves the administrator's user editor. Authorization is
// checked in the services, so these routes only need RequireAuth.
type AdminHandler struct {
	users *service.UserService
	roles *service.RoleService
}

func NewAdminHandler(users *service.UserService, roles *service.RoleService) *AdminHandler {
	return &AdminHandler{users: users, roles: roles}
}

// HandleEditUser rewrites any account.
//
// HTTP: PUT /api/admin/users/{id}
func (h *AdminHandler) HandleEditUser(w http.ResponseWriter, r *http.Request) {
	var in service.AdminProfileInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	u, err := h.users.AdminEditUser(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleListRoles returns every role for the role picker.
//
// HTTP: GET /api/admin/roles
func (h *AdminHandler) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.List(r.Context(), PrincipalFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}
