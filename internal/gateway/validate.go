package gateway

import (
	"fmt"
	"regexp"
	"strings"
)

const maxMessageLen = 50000

var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)data:text/html`),
}

// validateMessage enforces the chat send endpoint's content constraints:
// non-empty, bounded length, and free of markup commonly used for script
// injection.
func validateMessage(msg string) error {
	if msg == "" {
		return fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if len(msg) > maxMessageLen {
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, maxMessageLen)
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(msg) {
			return fmt.Errorf("%w: message contains disallowed content", ErrValidation)
		}
	}
	return nil
}

// validateFilename rejects path-traversal and filesystem-unsafe uploaded
// filenames: "..", "/", "\", and NUL.
func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: filename is empty", ErrValidation)
	}
	if strings.Contains(name, "..") ||
		strings.Contains(name, "/") ||
		strings.Contains(name, "\\") ||
		strings.Contains(name, "\x00") {
		return fmt.Errorf("%w: filename contains disallowed characters", ErrValidation)
	}
	return nil
}
