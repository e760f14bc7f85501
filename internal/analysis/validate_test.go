package analysis

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePrompt(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{"plain question", "Which services have upcoming maintenance this week?", false},
		{"empty", "", true},
		{"whitespace only", "   \n\t  ", true},
		{"too long", strings.Repeat("a", maxPromptLen+1), true},
		{"at limit", strings.Repeat("a", maxPromptLen), false},
		{"command substitution", "show events $(rm -rf /)", true},
		{"backtick", "show `id` please", true},
		{"pipe to shell", "events | bash", true},
		{"script tag", "analyze <script>alert(1)</script>", true},
		{"pipe in prose", "group events by account | region is fine? no pipe target", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrompt(tt.prompt)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPrompt) {
					t.Fatalf("expected ErrInvalidPrompt, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
