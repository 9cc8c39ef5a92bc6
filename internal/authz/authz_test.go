package authz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/social-blog/internal/apperror"
	"github.com/sakif/social-blog/internal/model"
)

func principal(id string, perms model.Permission) *model.Principal {
	return &model.Principal{
		User: &model.User{ID: id},
		Role: &model.Role{Name: "r", Permissions: perms},
	}
}

func TestRequire_Anonymous(t *testing.T) {
	err := Require(nil, Permission(model.PermFollow))
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized))
}

func TestRequire_NoRole(t *testing.T) {
	p := &model.Principal{User: &model.User{ID: "u1"}}
	err := Require(p, Permission(model.PermFollow))
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
}

func TestRequire_Permission(t *testing.T) {
	user := principal("u1", 0x07)
	mod := principal("u2", 0x0F)
	admin := principal("u3", model.PermAll)

	tests := []struct {
		name  string
		actor *model.Principal
		check Check
		ok    bool
	}{
		{"user can write", user, Permission(model.PermWriteArticles), true},
		{"user cannot moderate", user, Permission(model.PermModerateComments), false},
		{"moderator can moderate", mod, Permission(model.PermModerateComments), true},
		{"moderator is not admin", mod, Admin(), false},
		{"admin is admin", admin, Admin(), true},
		{"combined bits all required", user, Permission(model.PermFollow | model.PermModerateComments), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Require(tt.actor, tt.check)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, apperror.ErrForbidden), "got %v", err)
			}
		})
	}
}

func TestRequire_AuthorOrAdmin(t *testing.T) {
	post := &model.Post{ID: "p1", AuthorID: "author"}

	assert.NoError(t, Require(principal("author", 0x07), AuthorOrAdmin(post)))
	assert.NoError(t, Require(principal("someone", model.PermAll), AuthorOrAdmin(post)))

	err := Require(principal("someone", 0x0F), AuthorOrAdmin(post))
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "FOLLOW|WRITE_ARTICLES", names(model.PermFollow|model.PermWriteArticles))
	assert.Equal(t, "NONE", names(0))
}
