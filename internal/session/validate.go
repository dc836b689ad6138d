package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names and flag values, so they may not
// start with '-' or contain path separators.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]{0,63}$`)

// ValidateName reports whether name can be used as a session name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of [a-z0-9_-], not starting with '-'", name)
	}
	return nil
}
