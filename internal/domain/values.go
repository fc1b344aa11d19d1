package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	nameMinLen        = 3
	nameMaxLen        = 25
	descriptionMaxLen = 160
	passwordMinLen    = 8
	passwordMaxLen    = 72
	PasswordHashCost  = 10
)

// ErrInvalidValue wraps every value object validation failure.
var ErrInvalidValue = errors.New("invalid value")

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	validateOnce sync.Once
	validate     *validator.Validate
)

func valueValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidValue, field, fmt.Sprintf(format, args...))
}

func checkName(field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(v)
	if n < nameMinLen || n > nameMaxLen {
		return "", invalid(field, "must be between %d and %d characters", nameMinLen, nameMaxLen)
	}
	if !namePattern.MatchString(v) {
		return "", invalid(field, "may only contain letters, digits and underscores")
	}
	return v, nil
}

type Username string

func NewUsername(raw string) (Username, error) {
	v, err := checkName("username", raw)
	if err != nil {
		return "", err
	}
	return Username(v), nil
}

func (u Username) String() string { return string(u) }

type RoleName string

func NewRoleName(raw string) (RoleName, error) {
	v, err := checkName("role name", raw)
	if err != nil {
		return "", err
	}
	return RoleName(strings.ToUpper(v)), nil
}

func (r RoleName) String() string { return string(r) }

type PermissionName string

func NewPermissionName(raw string) (PermissionName, error) {
	v, err := checkName("permission name", raw)
	if err != nil {
		return "", err
	}
	return PermissionName(strings.ToUpper(v)), nil
}

func (p PermissionName) String() string { return string(p) }

type Email string

func NewEmail(raw string) (Email, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if err := valueValidator().Var(v, "required,email,max=320"); err != nil {
		return "", invalid("email", "is not a valid address")
	}
	return Email(v), nil
}

func (e Email) String() string { return string(e) }

type Description string

func NewDescription(raw string) (Description, error) {
	v := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(v)
	if n < 1 || n > descriptionMaxLen {
		return "", invalid("description", "must be between 1 and %d characters", descriptionMaxLen)
	}
	return Description(v), nil
}

func (d Description) String() string { return string(d) }

// Password holds a plaintext password that passed the strength check.
type Password struct {
	plain string
}

func NewPassword(raw string) (Password, error) {
	if len(raw) < passwordMinLen || len(raw) > passwordMaxLen {
		return Password{}, invalid("password", "must be between %d and %d bytes", passwordMinLen, passwordMaxLen)
	}
	var letter, digit bool
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return Password{}, invalid("password", "must contain a letter and a digit")
	}
	return Password{plain: raw}, nil
}

func (p Password) Hash() (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(p.plain), PasswordHashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword compares a stored bcrypt hash with a plaintext candidate.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func NewID(v uint) (uint, error) {
	if v == 0 {
		return 0, invalid("id", "must be positive")
	}
	return v, nil
}
