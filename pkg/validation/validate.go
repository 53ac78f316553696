// Package validation holds the configurable input rules applied at the
// HTTP boundary before anything reaches the store.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Rules bound user-supplied field sizes. Zero values fall back to the
// package defaults.
type Rules struct {
	MaxContentLen  int
	MaxUsernameLen int
}

const (
	defaultMaxContentLen  = 16 * 1024
	defaultMaxUsernameLen = 150
)

var rules = Rules{
	MaxContentLen:  defaultMaxContentLen,
	MaxUsernameLen: defaultMaxUsernameLen,
}

// SetRules installs the rules globally. Zero fields keep the defaults.
func SetRules(r Rules) {
	if r.MaxContentLen <= 0 {
		r.MaxContentLen = defaultMaxContentLen
	}
	if r.MaxUsernameLen <= 0 {
		r.MaxUsernameLen = defaultMaxUsernameLen
	}
	rules = r
}

// ValidateContent checks a message body.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content is required")
	}
	if !utf8.ValidString(content) {
		return errors.New("content is not valid utf-8")
	}
	if n := len(content); n > rules.MaxContentLen {
		return fmt.Errorf("content too long: %d > %d", n, rules.MaxContentLen)
	}
	return nil
}

// ValidateUsername checks a username at account creation.
func ValidateUsername(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("username is required")
	}
	if !utf8.ValidString(name) {
		return errors.New("username is not valid utf-8")
	}
	if n := utf8.RuneCountInString(name); n > rules.MaxUsernameLen {
		return fmt.Errorf("username too long: %d > %d", n, rules.MaxUsernameLen)
	}
	for _, r := range name {
		if r == '\n' || r == '\r' || r == ':' {
			return fmt.Errorf("username contains forbidden character %q", r)
		}
	}
	return nil
}
