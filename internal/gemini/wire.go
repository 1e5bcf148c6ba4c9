package gemini

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Request is one generateContent call. Operation only labels the call for logs and
// metrics and is not sent.
type Request struct {
	Operation string
	Model     string
	Body      GenerateContentRequest
}

// GenerateContentRequest is the JSON body of a generateContent call.
type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
	Tools            []Tool            `json:"tools,omitempty"`
	ToolConfig       *ToolConfig       `json:"toolConfig,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text,omitempty"`
}

type GenerationConfig struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
	ImageConfig        *ImageConfig  `json:"imageConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// Tool enables a server-side grounding tool. Exactly one field is set.
type Tool struct {
	GoogleMaps   *struct{} `json:"googleMaps,omitempty"`
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type ToolConfig struct {
	RetrievalConfig RetrievalConfig `json:"retrievalConfig"`
}

type RetrievalConfig struct {
	LatLng LatLng `json:"latLng"`
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func userText(text string) []Content {
	return []Content{{Role: "user", Parts: []Part{{Text: text}}}}
}

// Response wraps the raw JSON answer. Fields are read lazily with gjson paths so
// unknown or missing parts of the payload never fail the call.
type Response struct {
	raw []byte
}

// NewResponse wraps a raw generateContent answer.
func NewResponse(raw []byte) *Response {
	return &Response{raw: raw}
}

// Raw returns the payload as received.
func (r *Response) Raw() []byte {
	return r.raw
}

func (r *Response) parts() []gjson.Result {
	return gjson.GetBytes(r.raw, "candidates.0.content.parts").Array()
}

// Text concatenates the text parts of the first candidate, skipping thought parts.
func (r *Response) Text() string {
	var b strings.Builder
	for _, part := range r.parts() {
		if part.Get("thought").Bool() {
			continue
		}
		b.WriteString(part.Get("text").String())
	}
	return strings.TrimSpace(b.String())
}

// InlineData returns the first inline payload of the first candidate: its MIME type
// and base64 data.
func (r *Response) InlineData() (mimeType, data string, ok bool) {
	for _, part := range r.parts() {
		inline := part.Get("inlineData")
		if !inline.Exists() {
			continue
		}
		if d := inline.Get("data").String(); d != "" {
			return inline.Get("mimeType").String(), d, true
		}
	}
	return "", "", false
}

const defaultLinkTitle = "Event Page"

// GroundingLinks lists the map and web sources of the first candidate in the order
// the service returned them. Chunks without a URI are skipped.
func (r *Response) GroundingLinks() []GroundingLink {
	chunks := gjson.GetBytes(r.raw, "candidates.0.groundingMetadata.groundingChunks").Array()
	links := make([]GroundingLink, 0, len(chunks))
	for _, chunk := range chunks {
		source := chunk.Get("maps")
		if !source.Exists() {
			source = chunk.Get("web")
		}
		uri := source.Get("uri").String()
		if uri == "" {
			continue
		}
		title := source.Get("title").String()
		if title == "" {
			title = defaultLinkTitle
		}
		links = append(links, GroundingLink{URI: uri, Title: title})
	}
	return links
}
