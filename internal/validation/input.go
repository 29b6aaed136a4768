package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	uidPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// ValidateUID validates a card or scenario uid
func ValidateUID(uid string) error {
	if len(uid) == 0 || len(uid) > 128 {
		return fmt.Errorf("uid must be 1-128 characters")
	}

	// Allow alphanumeric, dots, hyphens, underscores
	if !uidPattern.MatchString(uid) {
		return fmt.Errorf("uid can only contain alphanumeric characters, dots, hyphens, and underscores")
	}

	return nil
}

// ValidateInstanceID validates a card instance or run id
func ValidateInstanceID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("id must be a UUID")
	}
	return nil
}

// ValidateSlug validates a theme slug
func ValidateSlug(slug string) error {
	if len(slug) == 0 || len(slug) > 64 {
		return fmt.Errorf("slug must be 1-64 characters")
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug must be lowercase words joined by hyphens")
	}
	return nil
}

// ValidateChoiceLabel validates a dialogue choice label
func ValidateChoiceLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("choice label is required")
	}
	if utf8.RuneCountInString(label) > 200 {
		return fmt.Errorf("choice label must be at most 200 characters")
	}
	return nil
}

// ValidateName validates a display name such as a bot or scenario name
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("name must be at most 100 characters")
	}
	return nil
}
