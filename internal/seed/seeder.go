// Package seed corrupts a small fraction of dataset messages before the
// index is built. It exists to prove that the harness detects wrong answers.
package seed

import (
	"fmt"
	"math/rand/v2"
	"unicode/utf8"

	"github.com/chatreplay/chatreplay/pkg/types"
)

// DefaultRate is the fraction of eligible messages that get mutated.
const DefaultRate = 0.01

// Target selects which messages are eligible for mutation.
type Target string

const (
	// TargetAny makes every message eligible.
	TargetAny Target = "any"
	// TargetPrefix limits mutation to non-Assistant messages followed by a
	// later Assistant message, so every mutation lands in some request
	// prefix without changing a served reply. Mutated prefixes become
	// unreachable and surface as not-found.
	TargetPrefix Target = "prefix"
	// TargetResponse limits mutation to Assistant messages that end their
	// conversation. Keys are unchanged and the served content differs.
	TargetResponse Target = "response"
)

// ParseTarget parses a target name. The empty string means TargetAny.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case "", TargetAny:
		return TargetAny, nil
	case TargetPrefix, TargetResponse:
		return Target(s), nil
	}
	return "", fmt.Errorf("unknown seed target %q", s)
}

// Config controls a seeding pass.
type Config struct {
	Rate   float64
	Target Target
	// Seed makes the pass reproducible when HasSeed is set.
	Seed    uint64
	HasSeed bool
}

// Mutation records one corrupted message.
type Mutation struct {
	ConversationID string
	Index          int
	Role           types.Role
	Before         string
	After          string
}

// Report summarizes a seeding pass.
type Report struct {
	Eligible  int
	Mutations []Mutation
}

// Seeder applies single-character corruptions.
type Seeder struct {
	cfg Config
	rng *rand.Rand
}

// New creates a seeder. Without a seed the pass differs on every run.
func New(cfg Config) *Seeder {
	if cfg.Target == "" {
		cfg.Target = TargetAny
	}
	seed := cfg.Seed
	if !cfg.HasSeed {
		seed = rand.Uint64()
	}
	return &Seeder{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Apply mutates convs in place and reports what changed. It must run before
// the index is built and is not safe for concurrent use.
func (s *Seeder) Apply(convs []types.Conversation) Report {
	var rep Report
	for ci := range convs {
		conv := &convs[ci]
		last := len(conv.Messages) - 1
		lastAssistant := -1
		for mi, m := range conv.Messages {
			if m.Role == types.RoleAssistant {
				lastAssistant = mi
			}
		}
		for mi := range conv.Messages {
			m := &conv.Messages[mi]
			if !s.eligible(m, mi == last, mi < lastAssistant) {
				continue
			}
			rep.Eligible++
			if s.rng.Float64() >= s.cfg.Rate {
				continue
			}
			before := m.Content
			m.Content = s.mutate(before)
			rep.Mutations = append(rep.Mutations, Mutation{
				ConversationID: conv.ID,
				Index:          mi,
				Role:           m.Role,
				Before:         before,
				After:          m.Content,
			})
		}
	}
	return rep
}

func (s *Seeder) eligible(m *types.Message, isLast, beforeAssistant bool) bool {
	switch s.cfg.Target {
	case TargetPrefix:
		return m.Role != types.RoleAssistant && beforeAssistant
	case TargetResponse:
		return isLast && m.Role == types.RoleAssistant
	}
	return true
}

// mutate replaces one rune with a different printable ASCII character, or
// inserts one into empty content. An invalid UTF-8 byte counts as one rune
// and the bytes outside the replaced rune are kept as they are.
func (s *Seeder) mutate(content string) string {
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return string(s.printable())
	}
	target := s.rng.IntN(n)
	i := 0
	for off, cur := range content {
		if i == target {
			_, width := utf8.DecodeRuneInString(content[off:])
			r := s.printable()
			for r == cur {
				r = s.printable()
			}
			return content[:off] + string(r) + content[off+width:]
		}
		i++
	}
	return content
}

func (s *Seeder) printable() rune {
	return rune(' ' + s.rng.IntN('~'-' '+1))
}
