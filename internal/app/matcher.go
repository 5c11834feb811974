// internal/app/matcher.go
package app

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"scheduling_autopilot/internal/domain/scheduling"

	"github.com/sirupsen/logrus"
)

// Match signal scores, highest precedence first. A thread match always wins.
const (
	ScoreThread   = 100
	ScoreAttendee = 70
	scoreSubject  = 30 // plus up to 30 scaled by subject similarity
	ScoreLinkage  = 20

	minSubjectSimilarity = 0.5
)

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fw|fwd|aw|sv|wg)\s*(\[\d+\])?\s*:\s*`)

var subjectStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "for": true, "with": true, "to": true,
	"of": true, "on": true, "in": true, "at": true, "re": true, "fw": true, "fwd": true,
}

// ContactDirectory resolves which company and deal a sender belongs to.
type ContactDirectory interface {
	LookupSender(ctx context.Context, email string) (companyID, dealID string, err error)
}

// Match is the best open request for an inbound message.
type Match struct {
	Request *scheduling.Request
	Score   int
	Signal  string

	titleOverlap float64
}

// Matcher maps inbound messages to open scheduling requests.
type Matcher struct {
	directory ContactDirectory
	expiry    time.Duration
	logger    *logrus.Entry
}

// NewMatcher creates a matcher. directory may be nil, which disables linkage matching.
func NewMatcher(directory ContactDirectory, expiry time.Duration, logger *logrus.Entry) *Matcher {
	return &Matcher{directory: directory, expiry: expiry, logger: logger}
}

// Match returns the best candidate for email, or ErrMatchNotFound.
func (m *Matcher) Match(ctx context.Context, email *scheduling.IncomingEmail, candidates []*scheduling.Request) (*Match, error) {
	companyID, dealID := m.lookupSender(ctx, email.SenderAddress)
	subjectTokens := tokenize(NormalizeSubject(email.Subject))

	var matches []*Match
	for _, req := range candidates {
		if !req.Status.IsOpen() {
			continue
		}
		match := m.score(email, req, subjectTokens, companyID, dealID)
		if match != nil {
			matches = append(matches, match)
		}
	}
	if len(matches) == 0 {
		return nil, scheduling.ErrMatchNotFound
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.titleOverlap != b.titleOverlap {
			return a.titleOverlap > b.titleOverlap
		}
		if !a.Request.LastActionAt.Equal(b.Request.LastActionAt) {
			return a.Request.LastActionAt.After(b.Request.LastActionAt)
		}
		return a.Request.ID < b.Request.ID
	})

	best := matches[0]
	m.logger.WithFields(logrus.Fields{
		"message_id": email.ID,
		"request_id": best.Request.ID,
		"signal":     best.Signal,
		"score":      best.Score,
		"candidates": len(matches),
	}).Debug("Message matched to scheduling request")
	return best, nil
}

func (m *Matcher) score(email *scheduling.IncomingEmail, req *scheduling.Request, subjectTokens map[string]bool, companyID, dealID string) *Match {
	titleTokens := tokenize(NormalizeSubject(req.Title))
	match := &Match{Request: req, titleOverlap: overlap(subjectTokens, titleTokens)}

	switch {
	case email.ConversationID != "" && req.ThreadID.Valid && req.ThreadID.String == email.ConversationID:
		match.Score, match.Signal = ScoreThread, "thread"
	case req.HasExternalAttendee(email.SenderAddress):
		match.Score, match.Signal = ScoreAttendee, "attendee"
	case !m.isRecent(email, req):
		return nil
	default:
		if sim := jaccard(subjectTokens, titleTokens); sim >= minSubjectSimilarity {
			match.Score, match.Signal = scoreSubject+int(sim*30), "subject"
		} else if linked(req, companyID, dealID) {
			match.Score, match.Signal = ScoreLinkage, "linkage"
		} else {
			return nil
		}
	}
	return match
}

// isRecent requires the message to arrive after the request's last action and within the expiry window.
func (m *Matcher) isRecent(email *scheduling.IncomingEmail, req *scheduling.Request) bool {
	if email.ReceivedAt.Before(req.LastActionAt) {
		return false
	}
	return m.expiry <= 0 || email.ReceivedAt.Sub(req.LastActionAt) <= m.expiry
}

func (m *Matcher) lookupSender(ctx context.Context, sender string) (string, string) {
	if m.directory == nil || sender == "" {
		return "", ""
	}
	companyID, dealID, err := m.directory.LookupSender(ctx, sender)
	if err != nil {
		m.logger.WithError(err).WithField("sender", sender).Warn("Contact directory lookup failed, skipping linkage match")
		return "", ""
	}
	return companyID, dealID
}

func linked(req *scheduling.Request, companyID, dealID string) bool {
	if dealID != "" && req.DealID.Valid && req.DealID.String == dealID {
		return true
	}
	return companyID != "" && req.CompanyID.Valid && req.CompanyID.String == companyID
}

// NormalizeSubject strips reply and forward prefixes and lowercases the subject.
func NormalizeSubject(subject string) string {
	s := subject
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, word := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 2 || subjectStopwords[word] {
			continue
		}
		tokens[word] = true
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// overlap is the share of title tokens present in the subject.
func overlap(subject, title map[string]bool) float64 {
	if len(title) == 0 {
		return 0
	}
	inter := 0
	for t := range title {
		if subject[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(title))
}
