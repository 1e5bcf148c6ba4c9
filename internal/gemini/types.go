package gemini

import (
	"errors"
	"fmt"
	"strings"
)

// Operation labels used for logging and metrics.
const (
	OpGreeting = "greeting"
	OpImage    = "image"
	OpSpeech   = "speech"
	OpEvents   = "events"
)

var (
	// ErrMissingAPIKey is returned by New when no credential is configured.
	ErrMissingAPIKey = errors.New("gemini: API key is required")
	// ErrEmptyRecipient rejects greetings addressed to nobody.
	ErrEmptyRecipient = errors.New("gemini: recipient is required")
	// ErrInvalidTone rejects tones outside the supported set.
	ErrInvalidTone = errors.New("gemini: unsupported tone")
	// ErrEmptyText rejects speech requests without text.
	ErrEmptyText = errors.New("gemini: text is required")
	// ErrMalformedResponse means the service answered with something that is not JSON.
	ErrMalformedResponse = errors.New("gemini: malformed response")
)

// Tone is the mood of a generated greeting.
type Tone string

const (
	ToneInspiring Tone = "inspiring"
	ToneFunny     Tone = "funny"
	TonePoetic    Tone = "poetic"
	ToneBold      Tone = "bold"
)

// Tones lists every supported tone.
func Tones() []Tone {
	return []Tone{ToneInspiring, ToneFunny, TonePoetic, ToneBold}
}

// Valid reports whether t is one of the supported tones.
func (t Tone) Valid() bool {
	switch t {
	case ToneInspiring, ToneFunny, TonePoetic, ToneBold:
		return true
	}
	return false
}

// ParseTone accepts a tone name in any case. An empty name selects ToneInspiring.
func ParseTone(s string) (Tone, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ToneInspiring, nil
	}
	t := Tone(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTone, s)
	}
	return t, nil
}

// GroundingLink is a source reference attached to a grounded answer.
type GroundingLink struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// EventsResult is the answer to a local events lookup.
type EventsResult struct {
	Text  string          `json:"text"`
	Links []GroundingLink `json:"links"`
}
