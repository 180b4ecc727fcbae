package prompt

import (
	"fmt"

	"github.com/you/emojilens/internal/core"
)

// Prompt is the pair handed to the completion provider.
type Prompt struct {
	System string
	User   string
}

const systemTemplate = `You are an expert at reading emoji usage in digital messages.
Given a message, the platform it was sent on, and the sender's relationship to the recipient:

1. Identify each distinct emoji and explain what it is doing in this message.
2. Write a plain-language interpretation of what the sender most likely means.
3. Score the probability the message is sarcastic (0-100).
4. Score the probability the message is passive-aggressive (0-100).
5. Classify the overall tone as positive, neutral, or negative.
6. List any red flags, each with a type, a short description, and a severity of low, medium, or high.

Be direct and concrete. Ground every claim in the actual emoji and wording used.`

// Build renders the prompt pair for a validated request. Deterministic and
// pure: the user prompt embeds the literal message and both enum codes so
// callers can assert on substring containment.
func Build(req core.InterpretRequest) Prompt {
	user := fmt.Sprintf(
		"Message: %s\nPlatform: %s\nRelationship to recipient: %s\n\nInterpret the emoji usage in this message.",
		req.Message, req.Platform, req.Context,
	)
	return Prompt{System: systemTemplate, User: user}
}
