package gemini

import (
	"fmt"
)

// FallbackGreeting is used when the service answers without any text.
const FallbackGreeting = "Happy New Year!"

// EventsQuery is the fixed question sent with a location hint.
const EventsQuery = "What are the top New Year's Eve events, parties, and fireworks locations near me?"

const greetingTemperature = 0.8

// GreetingPrompt asks for a short festive greeting for recipient in the given tone.
func GreetingPrompt(recipient string, tone Tone) string {
	return fmt.Sprintf(
		"Write a beautiful, creative, and inspiring New Year greeting for %s. The tone should be %s. "+
			"Keep it under 100 words. Include festive emojis.",
		recipient, tone)
}

// PosterPrompt describes the poster for recipient; the image template is added by
// GenerateFestiveImage.
func PosterPrompt(recipient string, tone Tone, year int) string {
	return fmt.Sprintf("A stunning New Year %d celebration poster for %s, tone: %s", year, recipient, tone)
}

func imagePrompt(prompt string) string {
	return fmt.Sprintf(
		"A high-quality, cinematic, festive New Year celebration poster. %s. "+
			"Cinematic lighting, 4k, artistic, joyful atmosphere.",
		prompt)
}

func speechPrompt(text string) string {
	return "Say with excitement: " + text
}
