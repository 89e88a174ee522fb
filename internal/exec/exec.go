// Package exec validates strings that end up on the sandbox's docker
// command line: model-supplied arguments and the configured container
// image reference.
package exec

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	shellMetachars = regexp.MustCompile("[;&|`$<>]")
	controlChars   = regexp.MustCompile(`[\r\n]`)

	// Image references: name with optional registry, tag, and digest
	// components. The leading character class rejects anything docker
	// would parse as a flag.
	imagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/@-]*$`)
)

// Argument validation errors.
var (
	ErrEmptyArgument         = errors.New("argument is empty")
	ErrArgumentNullByte      = errors.New("argument contains null byte")
	ErrArgumentControlChar   = errors.New("argument contains control characters")
	ErrArgumentShellMetachar = errors.New("argument contains shell metacharacters")
)

// SanitizeArgument checks a model-supplied value before it is handed to
// a command inside the sandbox. Flags and quotes are legitimate in
// arguments; null bytes, control characters, and shell metacharacters
// are not.
func SanitizeArgument(arg string) (string, error) {
	switch {
	case arg == "":
		return "", ErrEmptyArgument
	case strings.Contains(arg, "\x00"):
		return "", ErrArgumentNullByte
	case controlChars.MatchString(arg):
		return "", ErrArgumentControlChar
	case shellMetachars.MatchString(arg):
		return "", ErrArgumentShellMetachar
	}
	return arg, nil
}

// ImageRef validates a container image reference from configuration.
// The reference lands directly on the docker command line, so anything
// that could read as a flag or split into extra arguments is rejected.
func ImageRef(ref string) (string, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", fmt.Errorf("image reference is empty")
	}
	if !imagePattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid image reference %q", trimmed)
	}
	return trimmed, nil
}
