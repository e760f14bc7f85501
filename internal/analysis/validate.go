package analysis

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidPrompt is a client-caused prompt rejection, mapped to HTTP 400.
var ErrInvalidPrompt = errors.New("invalid prompt")

const maxPromptLen = 4000

// deniedPatterns is a best-effort UX filter for obviously hostile prompts.
// It is NOT the security boundary: the prompt is always passed to the
// agent as a discrete argv element, never through a shell.
var deniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`(?i)\|\s*(python|sh|bash|perl|ruby)\b`),
	regexp.MustCompile(`(?i)<\s*script`),
}

// ValidatePrompt applies the length and denylist checks. The returned
// message is safe to echo to the caller.
func ValidatePrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidPrompt)
	}
	if len(trimmed) > maxPromptLen {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrInvalidPrompt, maxPromptLen)
	}
	for _, p := range deniedPatterns {
		if p.MatchString(trimmed) {
			return fmt.Errorf("%w: prompt contains a disallowed pattern", ErrInvalidPrompt)
		}
	}
	return nil
}
