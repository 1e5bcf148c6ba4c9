// Package calendar builds "add to calendar" links for the celebration.
package calendar

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const googleRenderURL = "https://calendar.google.com/calendar/render"

// Event is a calendar entry.
type Event struct {
	Title   string
	Details string
	Start   time.Time
	End     time.Time
}

// NewYearsEve returns the default celebration running from 20:00 UTC on December 31
// of year to 04:00 UTC on January 1.
func NewYearsEve(year int, host string) Event {
	details := "Join the global New Year's Eve celebration."
	if host != "" {
		details = fmt.Sprintf("Join the global New Year's Eve celebration curated by %s.", host)
	}
	return Event{
		Title:   fmt.Sprintf("New Year Countdown %d Celebration", year+1),
		Details: details,
		Start:   time.Date(year, time.December, 31, 20, 0, 0, 0, time.UTC),
		End:     time.Date(year+1, time.January, 1, 4, 0, 0, 0, time.UTC),
	}
}

// GoogleCalendarURL returns a Google Calendar template link for e.
func GoogleCalendarURL(e Event) (string, error) {
	if e.Title == "" {
		return "", errors.New("calendar event needs a title")
	}
	if !e.End.After(e.Start) {
		return "", errors.New("calendar event must end after it starts")
	}

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", e.Title)
	q.Set("dates", stamp(e.Start)+"/"+stamp(e.End))
	q.Set("details", e.Details)

	return googleRenderURL + "?" + q.Encode(), nil
}

func stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
