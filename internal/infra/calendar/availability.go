// internal/infra/calendar/availability.go
package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/emersion/go-ical"
	"github.com/sirupsen/logrus"
)

var ErrUnknownOrganizer = fmt.Errorf("no calendar feed configured for organizer")

const defaultFeedTTL = 5 * time.Minute

// ICSAvailability answers free/busy questions from organizers' published ICS feeds.
type ICSAvailability struct {
	feeds  map[string]string // lower-cased email -> feed URL
	client *http.Client
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Entry

	mu    sync.Mutex
	cache map[string]cachedFeed
}

type cachedFeed struct {
	events    []*ical.Component
	fetchedAt time.Time
}

func NewICSAvailability(feeds map[string]string, client *http.Client, logger *logrus.Entry) *ICSAvailability {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	normalized := make(map[string]string, len(feeds))
	for email, url := range feeds {
		normalized[strings.ToLower(email)] = url
	}
	return &ICSAvailability{
		feeds:  normalized,
		client: client,
		ttl:    defaultFeedTTL,
		now:    time.Now,
		logger: logger,
		cache:  make(map[string]cachedFeed),
	}
}

// IsFree reports whether the organizer has no busy event overlapping window.
func (a *ICSAvailability) IsFree(ctx context.Context, organizer string, window scheduling.TimeWindow) (bool, error) {
	events, err := a.events(ctx, organizer)
	if err != nil {
		return false, err
	}
	for _, comp := range events {
		busy, err := overlaps(comp, window)
		if err != nil {
			a.logger.WithError(err).WithField("organizer", organizer).Debug("Skipping unreadable calendar event")
			continue
		}
		if busy {
			return false, nil
		}
	}
	return true, nil
}

func (a *ICSAvailability) events(ctx context.Context, organizer string) ([]*ical.Component, error) {
	key := strings.ToLower(strings.TrimSpace(organizer))
	url, ok := a.feeds[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrganizer, organizer)
	}

	a.mu.Lock()
	cached, ok := a.cache[key]
	a.mu.Unlock()
	if ok && a.now().Sub(cached.fetchedAt) < a.ttl {
		return cached.events, nil
	}

	events, err := a.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.cache[key] = cachedFeed{events: events, fetchedAt: a.now()}
	a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{"organizer": organizer, "events": len(events)}).Debug("Calendar feed refreshed")
	return events, nil
}

func (a *ICSAvailability) fetch(ctx context.Context, url string) ([]*ical.Component, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return parseFeed(string(body))
}

// parseFeed returns the busy-relevant VEVENTs of an ICS document.
func parseFeed(body string) ([]*ical.Component, error) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "BEGIN:VCALENDAR") {
		return nil, fmt.Errorf("invalid iCalendar format - expected BEGIN:VCALENDAR")
	}

	decoder := ical.NewDecoder(strings.NewReader(trimmed))
	var events []*ical.Component
	for {
		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent || !blocksTime(comp) {
				continue
			}
			events = append(events, comp)
		}
	}
	return events, nil
}

// blocksTime excludes cancelled and transparent (free) events.
func blocksTime(comp *ical.Component) bool {
	if p := comp.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return false
	}
	if p := comp.Props.Get(ical.PropTransparency); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return false
	}
	return true
}

func overlaps(comp *ical.Component, window scheduling.TimeWindow) (bool, error) {
	event := ical.Event{Component: comp}
	start, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return false, err
	}
	end, err := event.DateTimeEnd(time.UTC)
	if err != nil || end.IsZero() || !end.After(start) {
		end = start.Add(defaultEventLength(comp))
	}
	length := end.Sub(start)

	set, err := comp.RecurrenceSet(time.UTC)
	if err != nil {
		return false, err
	}
	if set == nil {
		return (scheduling.TimeWindow{Start: start, End: end}).Overlaps(window), nil
	}
	for _, occ := range set.Between(window.Start.Add(-length), window.End, true) {
		if (scheduling.TimeWindow{Start: occ, End: occ.Add(length)}).Overlaps(window) {
			return true, nil
		}
	}
	return false, nil
}

// defaultEventLength is one day for all-day events and zero otherwise.
func defaultEventLength(comp *ical.Component) time.Duration {
	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
		return 24 * time.Hour
	}
	return 0
}
