// internal/domain/scheduling/email.go
package scheduling

import "time"

// IncomingEmail is a transient inbound message handed to the engine.
type IncomingEmail struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	BodyPreview    string    `json:"bodyPreview"`
	SenderAddress  string    `json:"senderAddress"`
	SenderName     string    `json:"senderName"`
	ReceivedAt     time.Time `json:"receivedAt"`
	ConversationID string    `json:"conversationId"`
}

// Text returns the full body, or the preview when the provider only sent that.
func (e *IncomingEmail) Text() string {
	if e.Body != "" {
		return e.Body
	}
	return e.BodyPreview
}
