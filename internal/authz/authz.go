// Package authz is the single gate every protected operation goes through.
//
//	if err := authz.Require(actor, authz.Permission(model.PermWriteArticles)); err != nil {
//		return err // 401 for anonymous, 403 for missing permission
//	}
package authz

import (
	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/model"
)

// Check decides whether an authenticated principal may proceed.
// Require has already ruled out the anonymous caller.
type Check interface {
	Allow(p *model.Principal) bool
	Describe() string
}

// Require returns ErrUnauthorized for a nil actor and ErrForbidden when
// check rejects the actor.
func Require(actor *model.Principal, check Check) error {
	if actor == nil || actor.User == nil {
		return apperror.Unauthorized("authentication required")
	}
	if !check.Allow(actor) {
		return apperror.Forbidden("permission denied: " + check.Describe())
	}
	return nil
}

type permissionCheck model.Permission

// Permission requires every bit in perm.
func Permission(perm model.Permission) Check {
	return permissionCheck(perm)
}

func (c permissionCheck) Allow(p *model.Principal) bool {
	return p.Can(model.Permission(c))
}

func (c permissionCheck) Describe() string {
	return "missing permission " + names(model.Permission(c))
}

// Admin requires ADMINISTER.
func Admin() Check {
	return permissionCheck(model.PermAdminister)
}

type authorOrAdmin struct {
	authorID string
}

// AuthorOrAdmin lets the post's author or an administrator through.
func AuthorOrAdmin(post *model.Post) Check {
	return authorOrAdmin{authorID: post.AuthorID}
}

func (c authorOrAdmin) Allow(p *model.Principal) bool {
	return p.UserID() == c.authorID || p.IsAdministrator()
}

func (c authorOrAdmin) Describe() string {
	return "only the author or an administrator may do this"
}

var permNames = []struct {
	bit  model.Permission
	name string
}{
	{model.PermFollow, "FOLLOW"},
	{model.PermComment, "COMMENT"},
	{model.PermWriteArticles, "WRITE_ARTICLES"},
	{model.PermModerateComments, "MODERATE_COMMENTS"},
	{model.PermAdminister, "ADMINISTER"},
}

func names(perm model.Permission) string {
	out := ""
	for _, n := range permNames {
		if perm&n.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	if out == "" {
		return "NONE"
	}
	return out
}
