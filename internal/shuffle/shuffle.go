// Package shuffle produces the per-attempt presentation order of questions
// and options. It prevents accidental neighbour copying; it is not a
// security boundary, so math/rand is sufficient.
package shuffle

import (
	"math/rand/v2"
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Engine permutes question sets.
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Engine. A nil source uses the runtime's global generator.
func New(src rand.Source) *Engine {
	e := &Engine{}
	if src != nil {
		e.rng = rand.New(src)
	}
	return e
}

// Shuffle returns a deep copy of questions with the question order and,
// independently, each question's option order uniformly permuted.
// The input slice and its questions are left untouched.
func (e *Engine) Shuffle(questions []model.Question) []model.Question {
	out := make([]model.Question, len(questions))
	for i, q := range questions {
		out[i] = q.Clone()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.permute(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	for i := range out {
		opts := out[i].Options
		e.permute(len(opts), func(a, b int) { opts[a], opts[b] = opts[b], opts[a] })
	}
	return out
}

func (e *Engine) permute(n int, swap func(i, j int)) {
	if e.rng != nil {
		e.rng.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

// Memo holds the one shuffled sequence of an attempt. The first Get with a
// non-empty source computes it; every later Get returns the same slice,
// whatever source is passed. An empty source is not memoized, so a set that
// is still loading does not pin the attempt to an empty exam.
type Memo struct {
	mu     sync.Mutex
	done   bool
	engine *Engine
	result []model.Question
}

// NewMemo creates a Memo backed by engine.
func NewMemo(engine *Engine) *Memo {
	return &Memo{engine: engine}
}

// Get returns the memoized sequence, computing it from source on first use.
func (m *Memo) Get(source []model.Question) []model.Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return m.result
	}
	if len(source) == 0 {
		return []model.Question{}
	}
	m.result = m.engine.Shuffle(source)
	m.done = true
	return m.result
}

// Set installs a precomputed sequence, e.g. one restored from storage.
// It has no effect once the memo holds a value.
func (m *Memo) Set(questions []model.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done || len(questions) == 0 {
		return
	}
	m.result = questions
	m.done = true
}

// Ready reports whether the sequence has been fixed.
func (m *Memo) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}
