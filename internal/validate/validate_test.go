package validate

import (
	"strings"
	"testing"

	"github.com/you/emojilens/internal/core"
)

func TestRequestValid(t *testing.T) {
	req := core.InterpretRequest{
		Message:  "Hello there 👋",
		Platform: core.PlatformIMessage,
		Context:  core.ContextFriend,
	}

	got, errs := Request(req)
	if errs != nil {
		t.Fatalf("expected valid request, got errors: %v", errs)
	}
	if got != req {
		t.Fatalf("expected request returned unchanged, got %+v", got)
	}
}

func TestRequestTooShort(t *testing.T) {
	_, errs := Request(core.InterpretRequest{
		Message:  "👋",
		Platform: core.PlatformIMessage,
		Context:  core.ContextFriend,
	})
	if errs == nil {
		t.Fatalf("expected validation failure")
	}
	if !hasMessageContaining(errs["message"], "at least 10 characters") {
		t.Fatalf("expected length error, got %v", errs["message"])
	}
}

func TestRequestTooLong(t *testing.T) {
	_, errs := Request(core.InterpretRequest{
		Message:  strings.Repeat("a", 1001) + "👋",
		Platform: core.PlatformIMessage,
		Context:  core.ContextFriend,
	})
	if errs == nil {
		t.Fatalf("expected validation failure")
	}
	if !hasMessageContaining(errs["message"], "at most 1000 characters") {
		t.Fatalf("expected length error, got %v", errs["message"])
	}
}

func TestRequestNoEmoji(t *testing.T) {
	_, errs := Request(core.InterpretRequest{
		Message:  "Hello there friend",
		Platform: core.PlatformIMessage,
		Context:  core.ContextFriend,
	})
	if errs == nil {
		t.Fatalf("expected validation failure")
	}
	if !hasMessageContaining(errs["message"], "at least one emoji") {
		t.Fatalf("expected emoji error, got %v", errs["message"])
	}
}

func TestRequestCollectsAllViolations(t *testing.T) {
	_, errs := Request(core.InterpretRequest{
		Message:  "short",
		Platform: "MYSPACE",
		Context:  "",
	})
	if errs == nil {
		t.Fatalf("expected validation failure")
	}
	for _, field := range []string{"message", "platform", "context"} {
		if len(errs[field]) == 0 {
			t.Fatalf("expected error on %q, got %v", field, errs)
		}
	}
	if !hasMessageContaining(errs["platform"], "IMESSAGE") {
		t.Fatalf("platform error should name the allowed set, got %v", errs["platform"])
	}
	if !hasMessageContaining(errs["context"], "ROMANTIC_PARTNER") {
		t.Fatalf("context error should name the allowed set, got %v", errs["context"])
	}
}

func TestRequestEnumPairs(t *testing.T) {
	for _, p := range core.Platforms {
		for _, c := range core.Contexts {
			_, errs := Request(core.InterpretRequest{
				Message:  "What does this mean? 🤔",
				Platform: p,
				Context:  c,
			})
			if errs != nil {
				t.Fatalf("pair %s/%s should validate, got %v", p, c, errs)
			}
		}
	}
}

func TestContainsEmoji(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"plain text", "hello world", false},
		{"empty", "", false},
		{"base emoji", "ok 👍", true},
		{"emoticon", "😂", true},
		{"skin tone modified", "👋🏽 hi", true},
		{"zwj sequence", "👩‍💻 at work", true},
		{"flag", "🇳🇿 trip", true},
		{"heart", "❤️", true},
		{"sparkle dingbat", "done ✨", true},
		{"lone zwj", "a‍b", false},
		{"ascii punctuation", ":-) ;-)", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ContainsEmoji(tc.in); got != tc.want {
				t.Fatalf("ContainsEmoji(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func hasMessageContaining(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
