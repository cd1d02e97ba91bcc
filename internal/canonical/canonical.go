// Package canonical turns an ordered message prefix into the byte-exact key
// used by the index and the lookup engine.
//
// A key is a sequence of records, one per message:
//
//	tag (1 byte) | uvarint(len(content)) | content
//
// The record is self-delimiting, so two different message sequences always
// produce different keys regardless of what the content contains.
package canonical

import (
	"encoding/binary"
	"fmt"

	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// Key is the canonical encoding of a message prefix. It is comparable and
// usable as a map key.
type Key string

// Canonicalize encodes messages into a Key.
// An empty slice or an unknown role yields an INVALID_REQUEST error.
func Canonicalize(messages []types.Message) (Key, error) {
	if len(messages) == 0 {
		return "", errors.NewInvalidRequest("empty message list")
	}
	size := 0
	for _, m := range messages {
		size += recordSize(m)
	}
	b := Builder{buf: make([]byte, 0, size)}
	for i, m := range messages {
		if err := b.Append(m); err != nil {
			return "", fmt.Errorf("message %d: %w", i, err)
		}
	}
	return b.Key(), nil
}

// Builder extends a key one message at a time. The zero value is ready to use.
// Key may be called after every Append to obtain the key of the prefix so far.
type Builder struct {
	buf []byte
	n   int
}

// Append adds one message record.
func (b *Builder) Append(m types.Message) error {
	tag := m.Role.Tag()
	if tag == 0 {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown role %q", m.Role))
	}
	b.buf = append(b.buf, tag)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(m.Content)))
	b.buf = append(b.buf, m.Content...)
	b.n++
	return nil
}

// Len returns the number of messages appended.
func (b *Builder) Len() int {
	return b.n
}

// Key returns the key of all messages appended so far.
// It returns the empty key if nothing was appended.
func (b *Builder) Key() Key {
	return Key(b.buf)
}

// Reset empties the builder, keeping its buffer.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.n = 0
}

// Decode reverses Canonicalize. It is used by diagnostics and tests.
func Decode(k Key) ([]types.Message, error) {
	data := []byte(k)
	var out []types.Message
	for len(data) > 0 {
		role, ok := roleForTag(data[0])
		if !ok {
			return nil, fmt.Errorf("canonical: unknown tag %q", data[0])
		}
		n, w := binary.Uvarint(data[1:])
		if w <= 0 {
			return nil, fmt.Errorf("canonical: malformed length")
		}
		data = data[1+w:]
		if uint64(len(data)) < n {
			return nil, fmt.Errorf("canonical: truncated content")
		}
		out = append(out, types.Message{Role: role, Content: string(data[:n])})
		data = data[n:]
	}
	return out, nil
}

func recordSize(m types.Message) int {
	var tmp [binary.MaxVarintLen64]byte
	return 1 + binary.PutUvarint(tmp[:], uint64(len(m.Content))) + len(m.Content)
}

func roleForTag(tag byte) (types.Role, bool) {
	for _, r := range []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleFunction} {
		if r.Tag() == tag {
			return r, true
		}
	}
	return "", false
}
