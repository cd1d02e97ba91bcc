// Package dataset reads ShareGPT-style conversation dumps into the shared
// data model.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// DefaultFileName is the dataset file looked up in the data directory.
const DefaultFileName = "ShareGPT_V3_unfiltered_cleaned_split.json"

// SnappySuffix marks a dataset compressed with the snappy framing format.
const SnappySuffix = ".sz"

const readBufferSize = 4 << 20

// Stats describes one parse.
type Stats struct {
	Entries           int
	EmptyEntries      int
	MergedEntries     int
	DroppedBoundaries int
	Conversations     int
	Messages          int
	AssistantMessages int
}

type rawMessage struct {
	From    *string `json:"from"`
	Role    *string `json:"role"`
	Value   *string `json:"value"`
	Content *string `json:"content"`
}

type rawEntry struct {
	ID            string       `json:"id"`
	Conversations []rawMessage `json:"conversations"`
}

func (m rawMessage) toMessage() (types.Message, error) {
	roleName := m.From
	if roleName == nil {
		roleName = m.Role
	}
	if roleName == nil {
		return types.Message{}, fmt.Errorf("message has no role")
	}
	role, err := types.ParseRole(*roleName)
	if err != nil {
		return types.Message{}, err
	}
	var content string
	switch {
	case m.Value != nil:
		content = *m.Value
	case m.Content != nil:
		content = *m.Content
	}
	return types.Message{Role: role, Content: content}, nil
}

// GeneralID returns the part of a dataset id before the first underscore.
// Entries sharing a general id are pieces of one conversation.
func GeneralID(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[:i]
	}
	return id
}

// Parse decodes a JSON array of entries one element at a time. Entries
// whose ids share a general id are concatenated in file order; when a
// piece starts with the message that ended the previous piece, that
// duplicate is dropped. Conversations are returned in first-seen order.
func Parse(r io.Reader) ([]types.Conversation, Stats, error) {
	var stats Stats
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, stats, errors.NewDatasetError(errors.CodeDatasetParse, "read opening token", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, stats, errors.NewDatasetError(errors.CodeDatasetParse, "dataset must be a JSON array", nil)
	}

	var convs []types.Conversation
	byID := make(map[string]int)

	for dec.More() {
		var entry rawEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, stats, errors.NewDatasetError(errors.CodeDatasetParse,
				fmt.Sprintf("decode entry %d", stats.Entries), err)
		}
		stats.Entries++

		if len(entry.Conversations) == 0 {
			stats.EmptyEntries++
			continue
		}
		msgs := make([]types.Message, 0, len(entry.Conversations))
		for i, rm := range entry.Conversations {
			m, err := rm.toMessage()
			if err != nil {
				return nil, stats, errors.NewDatasetError(errors.CodeDatasetParse,
					fmt.Sprintf("entry %q message %d", entry.ID, i), err)
			}
			msgs = append(msgs, m)
		}

		gid := GeneralID(entry.ID)
		pos, seen := byID[gid]
		if !seen {
			byID[gid] = len(convs)
			convs = append(convs, types.Conversation{ID: gid, Messages: msgs})
			continue
		}

		stats.MergedEntries++
		existing := &convs[pos]
		if n := len(existing.Messages); n > 0 && existing.Messages[n-1] == msgs[0] {
			msgs = msgs[1:]
			stats.DroppedBoundaries++
		}
		existing.Messages = append(existing.Messages, msgs...)
	}

	if _, err := dec.Token(); err != nil {
		return nil, stats, errors.NewDatasetError(errors.CodeDatasetParse, "read closing token", err)
	}

	stats.Conversations = len(convs)
	for _, c := range convs {
		stats.Messages += len(c.Messages)
		stats.AssistantMessages += c.AssistantCount()
	}
	return convs, stats, nil
}

// Load opens path and parses it. Paths ending in .sz are decompressed with
// the snappy stream format.
func Load(path string) ([]types.Conversation, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Stats{}, errors.NewDatasetError(errors.CodeDatasetMissing, path, err)
		}
		return nil, Stats{}, errors.NewDatasetError(errors.CodeDatasetParse, "open dataset", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, readBufferSize)
	if strings.HasSuffix(path, SnappySuffix) {
		r = snappy.NewReader(r)
	}
	return Parse(r)
}

// Locate resolves the dataset file inside dir, preferring the plain file
// over its snappy-compressed variant.
func Locate(dir, name string) (string, error) {
	if name == "" {
		name = DefaultFileName
	}
	candidates := []string{filepath.Join(dir, name)}
	if !strings.HasSuffix(name, SnappySuffix) {
		candidates = append(candidates, filepath.Join(dir, name+SnappySuffix))
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", errors.NewDatasetError(errors.CodeDatasetMissing,
		fmt.Sprintf("dataset %s not found in %s", name, dir), nil)
}
