package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/JohnPlummer/jp-go-newyear/internal/audio"
	"github.com/JohnPlummer/jp-go-newyear/internal/calendar"
	"github.com/JohnPlummer/jp-go-newyear/internal/gemini"
	"github.com/JohnPlummer/jp-go-newyear/internal/geo"
	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

// Messages shown to the user when a feature fails.
const (
	MsgInvalidBody      = "Request body must be valid JSON."
	MsgGreetingFailed   = "Could not generate greeting. Please try again."
	MsgPosterFailed     = "Failed to create artwork. Check connection and try again."
	MsgSpeechFailed     = "Could not read the greeting aloud. Please try again."
	MsgEventsFailed     = "Failed to fetch events. Location might be restricted."
	MsgCalendarFailed   = "Could not build the calendar link."
	MsgMissingText      = "Text to speak is required."
	MsgMissingRecipient = "Recipient is required."
)

type greetingRequest struct {
	Recipient string `json:"recipient"`
	Tone      string `json:"tone"`
}

type greetingResponse struct {
	Message string `json:"message"`
}

type posterResponse struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type calendarResponse struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type healthResponse struct {
	Status      string                  `json:"status"`
	Breaker     resilience.HealthStatus `json:"breaker"`
	Subscribers int                     `json:"subscribers"`
}

// readGreeting decodes and validates a recipient/tone body, writing a 400 on failure.
// A blank recipient falls back to the configured default.
func (s *Server) readGreeting(w http.ResponseWriter, r *http.Request) (string, gemini.Tone, bool) {
	var req greetingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return "", "", false
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		recipient = s.cfg.DefaultRecipient
	}
	if recipient == "" {
		writeError(w, http.StatusBadRequest, MsgMissingRecipient)
		return "", "", false
	}

	tone, err := gemini.ParseTone(req.Tone)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Tone must be one of "+toneList()+".")
		return "", "", false
	}
	return recipient, tone, true
}

func toneList() string {
	tones := gemini.Tones()
	names := make([]string, len(tones))
	for i, t := range tones {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	recipient, tone, ok := s.readGreeting(w, r)
	if !ok {
		return
	}

	message, err := s.ai.GenerateGreeting(r.Context(), recipient, tone)
	if err != nil {
		s.fail(w, r, err, MsgGreetingFailed, "greeting generation failed")
		return
	}
	writeJSON(w, http.StatusOK, greetingResponse{Message: message})
}

func (s *Server) handlePoster(w http.ResponseWriter, r *http.Request) {
	recipient, tone, ok := s.readGreeting(w, r)
	if !ok {
		return
	}

	prompt := gemini.PosterPrompt(recipient, tone, s.timer.Snapshot().Target.Year())
	image, found, err := s.ai.GenerateFestiveImage(r.Context(), prompt)
	if err != nil {
		s.fail(w, r, err, MsgPosterFailed, "poster generation failed")
		return
	}
	if !found {
		s.log(r).Warn("poster generation returned no image")
		writeError(w, http.StatusBadGateway, MsgPosterFailed)
		return
	}
	writeJSON(w, http.StatusOK, posterResponse{Image: image, Prompt: prompt})
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, MsgMissingText)
		return
	}

	pcm, found, err := s.ai.SpeakGreeting(r.Context(), req.Text, req.Voice)
	if err != nil {
		s.fail(w, r, err, MsgSpeechFailed, "speech synthesis failed")
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	wav, err := audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels)
	if err != nil {
		s.log(r).Error("speech payload could not be encoded", "bytes", len(pcm), "error", err)
		writeError(w, http.StatusBadGateway, MsgSpeechFailed)
		return
	}

	seconds := audio.Duration(pcm, audio.SampleRate, audio.Channels)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("X-Audio-Duration", strconv.FormatFloat(seconds, 'f', 3, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var report geo.Report
	if err := decodeJSON(w, r, &report); err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	pos, err := geo.FromReport(report)
	if err != nil {
		s.log(r).Info("geolocation unavailable", "error", err)
		writeError(w, http.StatusUnprocessableEntity, geo.Message(err))
		return
	}

	result, err := s.ai.FindLocalEvents(r.Context(), pos.Latitude, pos.Longitude)
	if err != nil {
		s.fail(w, r, err, MsgEventsFailed, "local events lookup failed")
		return
	}
	if result.Links == nil {
		result.Links = []gemini.GroundingLink{}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCountdown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.timer.Snapshot())
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	// the target is January 1, so the eve falls in the year before it
	event := calendar.NewYearsEve(s.timer.Snapshot().Target.Year()-1, s.cfg.Host)
	link, err := calendar.GoogleCalendarURL(event)
	if err != nil {
		s.log(r).Error("calendar link failed", "error", err)
		writeError(w, http.StatusInternalServerError, MsgCalendarFailed)
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse{URL: link, Title: event.Title})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	breaker := s.ai.Health()
	resp := healthResponse{
		Status:      "ok",
		Breaker:     breaker,
		Subscribers: s.broadcaster.Len(),
	}
	if !breaker.Healthy {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail answers 400 for input the client should fix and 502 for everything else. The
// user always gets msg; the cause only goes to the log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg, logMsg string) {
	status := http.StatusBadGateway
	if isClientError(err) {
		status = http.StatusBadRequest
	}
	s.log(r).Error(logMsg, "status", status, "error", err)
	writeError(w, status, msg)
}

// isClientError reports errors caused by the request rather than the service.
func isClientError(err error) bool {
	return errors.Is(err, gemini.ErrEmptyRecipient) ||
		errors.Is(err, gemini.ErrInvalidTone) ||
		errors.Is(err, gemini.ErrEmptyText) ||
		errors.Is(err, geo.ErrInvalidPosition)
}
