// internal/app/messages.go
package app

import (
	"fmt"
	"strings"
	"time"

	"scheduling_autopilot/internal/domain/scheduling"
)

const timeLayout = "Mon Jan 2, 3:04 PM MST"

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(timeLayout)
}

func greeting(req *scheduling.Request) string {
	for _, a := range req.ExternalAttendees() {
		if a.IsPrimaryContact && a.Name != "" {
			return fmt.Sprintf("Hi %s,", strings.Fields(a.Name)[0])
		}
	}
	return "Hi,"
}

func alternativesBody(req *scheduling.Request, declined time.Time, alternatives []scheduling.TimeWindow) string {
	loc := req.Loc()
	var b strings.Builder
	b.WriteString(greeting(req))
	b.WriteString("\n\n")
	if !declined.IsZero() {
		fmt.Fprintf(&b, "Unfortunately %s doesn't work on our side.", formatTime(declined, loc))
	} else {
		b.WriteString("No problem, here are some other options.")
	}
	b.WriteString(" Would any of these times work instead?\n\n")
	for _, w := range alternatives {
		fmt.Fprintf(&b, "  - %s\n", formatTime(w.Start, loc))
	}
	b.WriteString("\nJust reply with the one that suits you best.\n")
	return b.String()
}

func confirmationSubject(req *scheduling.Request) string {
	return "Confirmed: " + req.Title
}

func confirmationBody(req *scheduling.Request) string {
	var b strings.Builder
	b.WriteString(greeting(req))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Great, you're booked for %s (%d min).", formatTime(req.SelectedTime.Time, req.Loc()), int(req.Duration.Minutes()))
	if req.MeetingLink != "" {
		fmt.Fprintf(&b, "\nJoin: %s", req.MeetingLink)
	} else if req.Location != "" {
		fmt.Fprintf(&b, "\nLocation: %s", req.Location)
	}
	b.WriteString("\n\nA calendar invite is on its way. Looking forward to it!\n")
	return b.String()
}

func reminderBody(req *scheduling.Request) string {
	var b strings.Builder
	b.WriteString(greeting(req))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "A quick reminder about %q on %s.", req.Title, formatTime(req.SelectedTime.Time, req.Loc()))
	if req.MeetingLink != "" {
		fmt.Fprintf(&b, "\nJoin: %s", req.MeetingLink)
	}
	b.WriteString("\n")
	return b.String()
}

func externalEmails(req *scheduling.Request) []string {
	var to []string
	for _, a := range req.ExternalAttendees() {
		to = append(to, a.Email)
	}
	return to
}
