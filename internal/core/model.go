package core

import "time"

// Platform identifies where the message being interpreted was received.
type Platform string

const (
	PlatformIMessage  Platform = "IMESSAGE"
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTikTok    Platform = "TIKTOK"
	PlatformWhatsApp  Platform = "WHATSAPP"
	PlatformSlack     Platform = "SLACK"
	PlatformDiscord   Platform = "DISCORD"
	PlatformTwitter   Platform = "TWITTER"
	PlatformOther     Platform = "OTHER"
)

// Platforms lists every accepted platform code, in the order surfaced in
// validation errors.
var Platforms = []Platform{
	PlatformIMessage,
	PlatformInstagram,
	PlatformTikTok,
	PlatformWhatsApp,
	PlatformSlack,
	PlatformDiscord,
	PlatformTwitter,
	PlatformOther,
}

// Context identifies the sender's relationship to the recipient.
type Context string

const (
	ContextRomanticPartner Context = "ROMANTIC_PARTNER"
	ContextFriend          Context = "FRIEND"
	ContextFamily          Context = "FAMILY"
	ContextCoworker        Context = "COWORKER"
	ContextAcquaintance    Context = "ACQUAINTANCE"
	ContextStranger        Context = "STRANGER"
)

// Contexts lists every accepted relationship code.
var Contexts = []Context{
	ContextRomanticPartner,
	ContextFriend,
	ContextFamily,
	ContextCoworker,
	ContextAcquaintance,
	ContextStranger,
}

// InterpretRequest is the submitted message plus where and from whom it came.
// Immutable once validated.
type InterpretRequest struct {
	Message  string   `json:"message"`
	Platform Platform `json:"platform"`
	Context  Context  `json:"context"`
}

// Tone classifies the overall read of a message.
type Tone string

const (
	TonePositive Tone = "positive"
	ToneNeutral  Tone = "neutral"
	ToneNegative Tone = "negative"
)

// Severity grades a red flag.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EmojiMeaning is one distinct emoji found in the message and what it is
// doing there.
type EmojiMeaning struct {
	Character string `json:"character"`
	Meaning   string `json:"meaning"`
	Slug      string `json:"slug,omitempty"`
}

// Metrics scores the message. Probabilities and confidence are percentages
// in [0,100].
type Metrics struct {
	SarcasmProbability           int  `json:"sarcasmProbability"`
	PassiveAggressionProbability int  `json:"passiveAggressionProbability"`
	OverallTone                  Tone `json:"overallTone"`
	Confidence                   int  `json:"confidence"`
}

// RedFlag is a concern the interpreter wants the reader to notice.
type RedFlag struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// InterpretationResult is the structured, non-streaming answer. The streamed
// text is a prose approximation of the same content.
type InterpretationResult struct {
	ID             string         `json:"id"`
	Message        string         `json:"message"`
	Emojis         []EmojiMeaning `json:"emojis"`
	Interpretation string         `json:"interpretation"`
	Metrics        Metrics        `json:"metrics"`
	RedFlags       []RedFlag      `json:"redFlags"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ValidPlatform reports whether p is one of the accepted codes.
func ValidPlatform(p Platform) bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ValidContext reports whether c is one of the accepted codes.
func ValidContext(c Context) bool {
	for _, known := range Contexts {
		if c == known {
			return true
		}
	}
	return false
}

// ValidTone reports whether t is one of the accepted tones.
func ValidTone(t Tone) bool {
	return t == TonePositive || t == ToneNeutral || t == ToneNegative
}
