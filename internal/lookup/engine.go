// Package lookup serves exact-match queries against a built index.
package lookup

import (
	"math/rand/v2"
	"time"

	"github.com/chatreplay/chatreplay/internal/canonical"
	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/internal/index"
	"github.com/chatreplay/chatreplay/internal/observability"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// Chooser returns an integer in [0, n). It must be safe for concurrent use.
type Chooser func(n int) int

// Engine answers lookups. It holds no locks and never mutates the index, so
// one Engine may serve any number of goroutines.
type Engine struct {
	idx    *index.Index
	choose Chooser
	now    func() time.Time
	stats  *observability.LookupStats
}

// Option configures an Engine.
type Option func(*Engine)

// WithChooser sets the tie-break source used when a key has several candidates.
func WithChooser(c Chooser) Option {
	return func(e *Engine) {
		e.choose = c
	}
}

// WithClock sets the clock used to stamp responses.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over idx. The index must be fully built.
func NewEngine(idx *index.Index, opts ...Option) *Engine {
	e := &Engine{
		idx:    idx,
		choose: rand.IntN,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.stats = observability.NewLookupStats(e.now())
	return e
}

// Lookup returns the recorded reply for messages. When several
// conversations share the prefix, one candidate is picked uniformly at
// random on every call.
func (e *Engine) Lookup(messages []types.Message) (types.Candidate, error) {
	k, err := canonical.Canonicalize(messages)
	if err != nil {
		e.stats.RecordInvalid()
		return types.Candidate{}, err
	}
	cands, ok := e.idx.Candidates(k)
	if !ok {
		e.stats.RecordMiss()
		return types.Candidate{}, errors.NewKeyNotFound("no candidates for prefix")
	}
	if len(cands) == 1 {
		e.stats.RecordHit(false)
		return cands[0], nil
	}
	e.stats.RecordHit(true)
	return cands[e.choose(len(cands))], nil
}

// Respond looks up messages and wraps the result in a response envelope.
func (e *Engine) Respond(messages []types.Message) (types.ResponseEnvelope, error) {
	c, err := e.Lookup(messages)
	if err != nil {
		return types.ResponseEnvelope{}, err
	}
	return types.NewResponseEnvelope(c, e.now()), nil
}

// Index returns the index served by e.
func (e *Engine) Index() *index.Index {
	return e.idx
}

// Stats returns a snapshot of the lookup counters.
func (e *Engine) Stats() observability.Snapshot {
	return e.stats.Snapshot(e.now())
}
