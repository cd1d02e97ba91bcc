package types

import "time"

// Candidate is one Assistant reply reachable under a canonical key.
type Candidate struct {
	ConversationID string
	Content        string
}

// ResponseEnvelope is the body returned for a successful lookup.
// It is built per request and never stored.
type ResponseEnvelope struct {
	ID      string  `json:"id"`
	Created int64   `json:"created"`
	Message Message `json:"message"`
}

// NewResponseEnvelope wraps c as an Assistant message stamped with now.
func NewResponseEnvelope(c Candidate, now time.Time) ResponseEnvelope {
	return ResponseEnvelope{
		ID:      c.ConversationID,
		Created: now.Unix(),
		Message: Message{
			Role:    RoleAssistant,
			Content: c.Content,
		},
	}
}

// ChatCompletionRequest is the inbound request body. Fields other than
// messages are ignored.
type ChatCompletionRequest struct {
	Messages []Message `json:"messages"`
}

// NotFoundMessage is returned verbatim whenever no response exists.
const NotFoundMessage = "No valid response exists for the given request"
