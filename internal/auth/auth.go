// Package auth validates registration input and hashes passwords.
package auth

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrBadCredentials  = errors.New("invalid username or password")
)

// Registration is the register payload after extraction.
type Registration struct {
	Username string `validate:"required,username"`
	Email    string `validate:"required,loose_email"`
	Password string `validate:"required"`
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	// '@' 뒤 어딘가에 '.'이 있으면 통과
	_ = v.RegisterValidation("loose_email", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		at := strings.IndexByte(s, '@')
		return at >= 0 && strings.IndexByte(s[at+1:], '.') >= 0
	})
	return v
}

// ValidateRegistration reports the first problem in wire order: missing
// fields, then username, then email.
func ValidateRegistration(r Registration) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var badUser, badEmail bool
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return ErrMissingFields
		}
		switch fe.Field() {
		case "Username":
			badUser = true
		case "Email":
			badEmail = true
		}
	}
	if badUser {
		return ErrInvalidUsername
	}
	if badEmail {
		return ErrInvalidEmail
	}
	return err
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword returns ErrBadCredentials on any mismatch.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}
