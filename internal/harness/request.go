// Package harness replays every derivable request from the dataset against a
// running replay service, validates each response and measures aggregate
// throughput.
package harness

import (
	"fmt"

	"github.com/chatreplay/chatreplay/internal/canonical"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// Request is one replayable prefix together with what the service must
// answer for it.
type Request struct {
	// Index is the position of the request in derivation order.
	Index          int
	ConversationID string
	// Position is the index of the expected Assistant message in its conversation.
	Position int
	Messages []types.Message
	Expected types.Candidate
	// Valid holds every candidate stored under the same key, in dataset
	// order. It is shared between requests of the same key.
	Valid []types.Candidate
}

// Accepts reports whether c is a correct answer for r.
func (r *Request) Accepts(c types.Candidate) bool {
	if c.Content == r.Expected.Content {
		return true
	}
	for _, v := range r.Valid {
		if v == c {
			return true
		}
	}
	return false
}

// Derive enumerates one request per Assistant message at position i > 0,
// using the same walk as the index builder. The valid set of each request is
// the group of all candidates that share its key.
func Derive(convs []types.Conversation) ([]Request, error) {
	var (
		reqs   []Request
		keys   []canonical.Key
		groups = make(map[canonical.Key][]types.Candidate)
		b      canonical.Builder
	)

	for _, conv := range convs {
		b.Reset()
		for i, m := range conv.Messages {
			if m.Role == types.RoleAssistant && i > 0 {
				k := b.Key()
				cand := types.Candidate{ConversationID: conv.ID, Content: m.Content}
				groups[k] = append(groups[k], cand)
				keys = append(keys, k)
				reqs = append(reqs, Request{
					Index:          len(reqs),
					ConversationID: conv.ID,
					Position:       i,
					Messages:       conv.Messages[:i:i],
					Expected:       cand,
				})
			}
			if err := b.Append(m); err != nil {
				return nil, fmt.Errorf("conversation %s message %d: %w", conv.ID, i, err)
			}
		}
	}

	for i := range reqs {
		reqs[i].Valid = groups[keys[i]]
	}
	return reqs, nil
}
