// internal/infra/calendar/invite.go
package calendar

import (
	"bytes"
	"fmt"
	"time"

	"scheduling_autopilot/internal/domain/calendar"

	"github.com/emersion/go-ical"
)

const productID = "-//scheduling-autopilot//EN"

// RenderInvite encodes a booked meeting as an iCalendar REQUEST.
func RenderInvite(eventID string, in calendar.EventInput, joinURL string, stamp time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropMethod, "REQUEST")

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, eventID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, in.Window.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, in.Window.End.UTC())
	event.Props.SetText(ical.PropSummary, in.Title)
	event.Props.SetText(ical.PropStatus, "CONFIRMED")
	if in.Location != "" {
		event.Props.SetText(ical.PropLocation, in.Location)
	} else if joinURL != "" {
		event.Props.SetText(ical.PropLocation, joinURL)
	}
	if joinURL != "" {
		event.Props.SetText(ical.PropDescription, "Join: "+joinURL)
	}

	for _, a := range in.Attendees {
		name := ical.PropAttendee
		if a.IsOrganizer {
			name = ical.PropOrganizer
		}
		prop := ical.NewProp(name)
		prop.Value = "mailto:" + a.Email
		if a.Name != "" {
			prop.Params.Set(ical.ParamCommonName, a.Name)
		}
		event.Props.Add(prop)
	}
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode invite: %w", err)
	}
	return buf.String(), nil
}
