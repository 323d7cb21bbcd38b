package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidEmail is returned when an email address doesn't look deliverable
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmailTooLong is returned when an email address exceeds the storage limit
	ErrEmailTooLong = errors.New("email must be at most 254 characters")

	// ErrNameRequired is returned when a required display name is empty
	ErrNameRequired = errors.New("name is required")

	// ErrNameTooLong is returned when a display name exceeds the storage limit
	ErrNameTooLong = errors.New("name must be at most 200 characters")

	// emailRegex is a deliberately loose shape check: local part, one @, a dot
	// somewhere in the domain. Deliverability is the mailer's problem.
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// NormalizeEmail lowercases and trims an email address and validates its
// shape. All email comparison and storage goes through this.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if len(email) > 254 {
		return "", ErrEmailTooLong
	}
	if !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}

	return email, nil
}

// ValidateName validates a company or project display name:
// - Must be non-empty after trimming
// - Must be at most 200 characters
func ValidateName(name string) error {
	name = strings.TrimSpace(name)

	if name == "" {
		return ErrNameRequired
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}

	return nil
}

// ValidateCustomMessage bounds the optional invitation message.
func ValidateCustomMessage(msg string) error {
	if len(msg) > 1000 {
		return errors.New("custom message must be at most 1000 characters")
	}
	return nil
}
