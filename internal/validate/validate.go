package validate

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/you/emojilens/internal/core"
)

const (
	// MinMessageLen and MaxMessageLen bound the trimmed message length.
	MinMessageLen = 10
	MaxMessageLen = 1000
)

// FieldErrors maps a field name to the human-readable problems found on it.
// A nil map means the request passed.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Error implements error so a FieldErrors can travel through error returns.
func (f FieldErrors) Error() string {
	var parts []string
	for field, msgs := range f {
		parts = append(parts, field+": "+strings.Join(msgs, "; "))
	}
	return strings.Join(parts, ", ")
}

// Request checks raw against every rule independently and returns either the
// typed request or all collected violations. Pure; no transformation beyond
// type narrowing.
func Request(raw core.InterpretRequest) (core.InterpretRequest, FieldErrors) {
	errs := FieldErrors{}

	msg := strings.TrimSpace(raw.Message)
	runes := len([]rune(msg))
	switch {
	case runes < MinMessageLen:
		errs.add("message", fmt.Sprintf("message must be at least %d characters", MinMessageLen))
	case runes > MaxMessageLen:
		errs.add("message", fmt.Sprintf("message must be at most %d characters", MaxMessageLen))
	}
	if !ContainsEmoji(msg) {
		errs.add("message", "message must contain at least one emoji")
	}

	if raw.Platform == "" {
		errs.add("platform", "platform is required; one of "+joinPlatforms())
	} else if !core.ValidPlatform(raw.Platform) {
		errs.add("platform", fmt.Sprintf("unknown platform %q; one of %s", raw.Platform, joinPlatforms()))
	}

	if raw.Context == "" {
		errs.add("context", "context is required; one of "+joinContexts())
	} else if !core.ValidContext(raw.Context) {
		errs.add("context", fmt.Sprintf("unknown context %q; one of %s", raw.Context, joinContexts()))
	}

	if len(errs) > 0 {
		return core.InterpretRequest{}, errs
	}
	return raw, nil
}

// ContainsEmoji reports whether s holds at least one emoji grapheme cluster.
// Walking clusters (not runes) keeps skin-tone modified emoji and ZWJ
// sequences counted as one emoji each.
func ContainsEmoji(s string) bool {
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		for _, r := range gr.Runes() {
			if emojiRune(r) {
				return true
			}
		}
	}
	return false
}

// emojiRune covers the blocks that anchor an emoji cluster: pictographs,
// transport symbols, supplemental pictographs, dingbats, misc symbols, and
// regional indicators. Joiners and variation selectors never match on their
// own, so a cluster counts only when it carries a real emoji base.
func emojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF: // misc symbols and pictographs
		return true
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport and map
		return true
	case r >= 0x1F900 && r <= 0x1F9FF: // supplemental symbols and pictographs
		return true
	case r >= 0x1FA70 && r <= 0x1FAFF: // symbols and pictographs extended-A
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators (flags)
		return true
	case r >= 0x2600 && r <= 0x26FF: // misc symbols
		return true
	case r >= 0x2700 && r <= 0x27BF: // dingbats
		return true
	case r == 0x2764: // heavy black heart
		return true
	}
	return false
}

func joinPlatforms() string {
	out := make([]string, len(core.Platforms))
	for i, p := range core.Platforms {
		out[i] = string(p)
	}
	return strings.Join(out, ", ")
}

func joinContexts() string {
	out := make([]string, len(core.Contexts))
	for i, c := range core.Contexts {
		out[i] = string(c)
	}
	return strings.Join(out, ", ")
}
