package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/social-blog/internal/apperror"
)

// Field limits. The struct tags below repeat them as literals.
const (
	MaxEmailLength    = 64
	MaxUsernameLength = 64
	MinPasswordLength = 8
	MaxPasswordBytes  = 72 // bcrypt input limit
	MaxNameLength     = 64
	MaxLocationLength = 64
	MaxAboutMeLength  = 2000
	MaxPostLength     = 20000
)

const emailRules = "required,max=64,email"

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves the whole package.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names, which is what clients send.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	custom := map[string]validator.Func{
		"username": func(fl validator.FieldLevel) bool {
			return usernamePattern.MatchString(fl.Field().String())
		},
		// Counted in bytes, not runes: bcrypt truncates after 72 bytes.
		"password": func(fl validator.FieldLevel) bool {
			n := len(fl.Field().String())
			return n >= MinPasswordLength && n <= MaxPasswordBytes
		},
		"notblank": func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		},
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("service: registering %q validation: %v", tag, err))
		}
	}
	return v
}

// validationError turns the first validator failure into an
// apperror.ValidationFailed. field overrides the reported field name, which
// validate.Var does not know.
func validationError(err error, field string) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating input: %w", err)
	}
	fe := verrs[0]
	if field == "" {
		field = fe.Field()
	}
	return apperror.ValidationFailed(field, validationMessage(field, fe))
}

func validationMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "email":
		return "invalid email address"
	case "max":
		return fmt.Sprintf("%s must be %s characters or less", field, fe.Param())
	case "username":
		return "usernames must start with a letter and contain only letters, numbers, dots or underscores"
	case "password":
		if len(fmt.Sprint(fe.Value())) < MinPasswordLength {
			return fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
		}
		return fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordBytes)
	default:
		return field + " is invalid"
	}
}

// RegisterInput is a sign-up form. The profile fields are optional.
type RegisterInput struct {
	Email    string `json:"email"    validate:"required,max=64,email"`
	Username string `json:"username" validate:"required,max=64,username"`
	Password string `json:"password" validate:"password"`
	Name     string `json:"name"     validate:"max=64"`
	Location string `json:"location" validate:"max=64"`
	AboutMe  string `json:"aboutMe"  validate:"max=2000"`
}

// Validate trims the text fields in place and checks every constraint.
// Email and username are compared exactly as entered, so no case folding.
func (in *RegisterInput) Validate() error {
	trim(&in.Email, &in.Username, &in.Name, &in.Location)
	return validationError(validate.Struct(in), "")
}

// ProfileInput is what a user may edit about themselves.
type ProfileInput struct {
	Name     string `json:"name"     validate:"max=64"`
	Location string `json:"location" validate:"max=64"`
	AboutMe  string `json:"aboutMe"  validate:"max=2000"`
}

func (in *ProfileInput) Validate() error {
	trim(&in.Name, &in.Location)
	return validationError(validate.Struct(in), "")
}

// AdminProfileInput is the administrator's edit form. An empty RoleID
// clears the user's role.
type AdminProfileInput struct {
	Email     string `json:"email"     validate:"required,max=64,email"`
	Username  string `json:"username"  validate:"required,max=64,username"`
	Confirmed bool   `json:"confirmed"`
	RoleID    string `json:"roleId"`
	Name      string `json:"name"      validate:"max=64"`
	Location  string `json:"location"  validate:"max=64"`
	AboutMe   string `json:"aboutMe"   validate:"max=2000"`
}

func (in *AdminProfileInput) Validate() error {
	trim(&in.Email, &in.Username, &in.RoleID, &in.Name, &in.Location)
	return validationError(validate.Struct(in), "")
}

// PostInput is the body of a new or edited post, in Markdown.
type PostInput struct {
	Body string `json:"body" validate:"notblank,max=20000"`
}

func (in *PostInput) Validate() error {
	return validationError(validate.Struct(in), "")
}

func validateEmail(email string) error {
	return validationError(validate.Var(email, emailRules), "email")
}

func validatePassword(field, pw string) error {
	return validationError(validate.Var(pw, "password"), field)
}

func trim(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}
