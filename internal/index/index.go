// Package index builds the immutable key to candidates map served by the
// lookup engine.
package index

import (
	"fmt"
	"time"

	"github.com/chatreplay/chatreplay/internal/bloom"
	"github.com/chatreplay/chatreplay/internal/canonical"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// DefaultBloomFPR is the target false positive rate of the negative-lookup filter.
const DefaultBloomFPR = 0.01

// Stats describes one build.
type Stats struct {
	Conversations      int           `json:"conversations"`
	Messages           int           `json:"messages"`
	Keys               int           `json:"keys"`
	Candidates         int           `json:"candidates"`
	CollidingKeys      int           `json:"colliding_keys"`
	MaxCandidates      int           `json:"max_candidates"`
	SkippedEmptyPrefix int           `json:"skipped_empty_prefix"`
	BuildDuration      time.Duration `json:"build_duration_ns"`
	BloomBits          int           `json:"bloom_bits"`
	BloomHashes        int           `json:"bloom_hashes"`
	BloomEstimatedFPR  float64       `json:"bloom_estimated_fpr"`
}

// Index maps canonical keys to the Assistant replies that follow them.
// It is never modified after Build returns and is safe for concurrent reads.
type Index struct {
	entries map[canonical.Key][]types.Candidate
	filter  *bloom.Filter
	stats   Stats
}

type buildOptions struct {
	bloomFPR float64
	now      func() time.Time
}

// Option configures Build.
type Option func(*buildOptions)

// WithBloomFPR sets the target false positive rate of the key filter.
// A rate of zero disables the filter.
func WithBloomFPR(fpr float64) Option {
	return func(o *buildOptions) {
		o.bloomFPR = fpr
	}
}

// WithClock sets the clock used to time the build.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) {
		o.now = now
	}
}

// Build walks every conversation once. For each Assistant message at
// position i > 0 it records the message under the key of messages[0:i].
// Candidates sharing a key keep dataset order. Assistant messages at
// position 0 have no addressable prefix and are counted as skipped.
func Build(convs []types.Conversation, opts ...Option) (*Index, error) {
	o := buildOptions{bloomFPR: DefaultBloomFPR, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	start := o.now()

	ix := &Index{entries: make(map[canonical.Key][]types.Candidate)}
	var b canonical.Builder

	for _, conv := range convs {
		ix.stats.Conversations++
		ix.stats.Messages += len(conv.Messages)
		b.Reset()

		for i, m := range conv.Messages {
			if m.Role == types.RoleAssistant {
				if i == 0 {
					ix.stats.SkippedEmptyPrefix++
				} else {
					k := b.Key()
					ix.entries[k] = append(ix.entries[k], types.Candidate{
						ConversationID: conv.ID,
						Content:        m.Content,
					})
					ix.stats.Candidates++
				}
			}
			if err := b.Append(m); err != nil {
				return nil, fmt.Errorf("conversation %s message %d: %w", conv.ID, i, err)
			}
		}
	}

	ix.stats.Keys = len(ix.entries)
	for _, cands := range ix.entries {
		if len(cands) > 1 {
			ix.stats.CollidingKeys++
		}
		if len(cands) > ix.stats.MaxCandidates {
			ix.stats.MaxCandidates = len(cands)
		}
	}

	if o.bloomFPR > 0 && len(ix.entries) > 0 {
		f := bloom.NewWithEstimates(len(ix.entries), o.bloomFPR)
		for k := range ix.entries {
			f.AddString(string(k))
		}
		f.Freeze()
		ix.filter = f
		ix.stats.BloomBits = f.NumBits()
		ix.stats.BloomHashes = f.NumHashes()
		ix.stats.BloomEstimatedFPR = f.FalsePositiveRate()
	}

	ix.stats.BuildDuration = o.now().Sub(start)
	return ix, nil
}

// Candidates returns the candidates stored under k in dataset order.
// The returned slice is shared and must not be modified.
func (ix *Index) Candidates(k canonical.Key) ([]types.Candidate, bool) {
	if ix.filter != nil && !ix.filter.ContainsString(string(k)) {
		return nil, false
	}
	c, ok := ix.entries[k]
	return c, ok
}

// Len returns the number of distinct keys.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Stats returns the build statistics.
func (ix *Index) Stats() Stats {
	return ix.stats
}
