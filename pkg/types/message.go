// Package types holds the data model shared by the index, the lookup engine,
// the transports and the load harness.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
// The canonical spellings match the chat completions schema the service emits.
type Role string

const (
	RoleSystem    Role = "System"
	RoleUser      Role = "User"
	RoleAssistant Role = "Assistant"
	RoleFunction  Role = "Function"
)

// roleAliases maps every spelling found in the dataset or in requests to a
// canonical role. Lookups are done on the lower-cased input.
var roleAliases = map[string]Role{
	"system":    RoleSystem,
	"user":      RoleUser,
	"human":     RoleUser,
	"assistant": RoleAssistant,
	"gpt":       RoleAssistant,
	"bing":      RoleAssistant,
	"chatgpt":   RoleAssistant,
	"bard":      RoleAssistant,
	"function":  RoleFunction,
}

// ParseRole resolves a role name or alias.
func ParseRole(s string) (Role, error) {
	if r, ok := roleAliases[strings.ToLower(s)]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Tag returns the single byte used for r in canonical keys, or 0 for an
// unknown role.
func (r Role) Tag() byte {
	switch r {
	case RoleSystem:
		return 'S'
	case RoleUser:
		return 'U'
	case RoleAssistant:
		return 'A'
	case RoleFunction:
		return 'F'
	}
	return 0
}

// UnmarshalJSON accepts any known alias.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is one dialogue thread from the dataset.
type Conversation struct {
	ID       string
	Messages []Message
}

// AssistantCount returns the number of Assistant messages in c.
func (c Conversation) AssistantCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleAssistant {
			n++
		}
	}
	return n
}
