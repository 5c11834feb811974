// Package oracle classifies scheduling replies with a hosted language model.
// The Anthropic and OpenAI adapters share the prompt and the JSON answer contract.
package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scheduling_autopilot/internal/domain/intent"
)

const systemPrompt = `You classify replies to meeting scheduling emails.
Answer with one JSON object and nothing else:
{"intent": "accept" | "decline" | "counter_propose" | "ambiguous",
 "extracted_times": ["<RFC3339 start time with offset>", ...],
 "confidence": <number between 0 and 1>,
 "reasoning": "<one sentence>"}
Rules:
- accept: the sender agrees to one of the offered times. Put the accepted start time in extracted_times when it is identifiable.
- decline: the sender rejects the offered times without proposing another.
- counter_propose: the sender proposes a different time. An explicit new time always means counter_propose, even if the text also sounds agreeable.
- ambiguous: anything else, including "let me check and get back to you".
- Resolve relative expressions ("Monday the 6th", "11am instead") against the received timestamp in the given timezone.
- Never invent times that are not in the message.`

// BuildPrompt renders the user message sent to the model.
func BuildPrompt(in intent.Input) string {
	loc := time.UTC
	if in.Timezone != "" {
		if l, err := time.LoadLocation(in.Timezone); err == nil {
			loc = l
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Timezone: %s\n", loc.String())
	fmt.Fprintf(&b, "Received at: %s\n", in.ReceivedAt.In(loc).Format(time.RFC3339))
	b.WriteString("Offered windows:\n")
	if len(in.OfferedWindows) == 0 {
		b.WriteString("- none\n")
	}
	for _, w := range in.OfferedWindows {
		fmt.Fprintf(&b, "- %s to %s (%s)\n", w.Start.In(loc).Format(time.RFC3339), w.End.In(loc).Format(time.RFC3339), w.Start.In(loc).Format("Monday"))
	}
	fmt.Fprintf(&b, "\nSubject: %s\n\n%s\n", in.Subject, in.Body)
	return b.String()
}

type answer struct {
	Intent         string   `json:"intent"`
	ExtractedTimes []string `json:"extracted_times"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
}

// ParseAnswer extracts the JSON object from a model reply. Times without an offset are read
// in the request timezone; unparseable times are dropped.
func ParseAnswer(text, timezone string) (*intent.Result, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}
	var a answer
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("failed to decode model reply: %w", err)
	}

	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	res := &intent.Result{
		Intent:     intent.Intent(strings.ToLower(strings.TrimSpace(a.Intent))),
		Confidence: a.Confidence,
		Reasoning:  a.Reasoning,
	}
	for _, raw := range a.ExtractedTimes {
		if t, ok := parseTime(raw, loc); ok {
			res.ExtractedTimes = append(res.ExtractedTimes, t)
		}
	}
	return res, nil
}

func parseTime(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
