package scheduler

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"rollcall/internal/types"
)

// Default delay bounds, in minutes, added after a window (or session) opens.
const (
	DefaultDelayMin = 1
	DefaultDelayMax = 7
)

// Selector picks a randomized firing time for a session. It is safe for
// concurrent use.
type Selector struct {
	mu       sync.Mutex
	rng      *rand.Rand
	delayMin int
	delayMax int
}

// NewSelector builds a Selector drawing integer minute delays uniformly from
// [delayMin, delayMax]. A zero seed seeds the generator from the runtime's
// random source; any other seed makes the draws reproducible.
func NewSelector(delayMin, delayMax int, seed uint64) (*Selector, error) {
	if delayMin < 0 || delayMax < delayMin {
		return nil, fmt.Errorf("selector: invalid delay range [%d, %d]", delayMin, delayMax)
	}

	var src rand.Source
	if seed == 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	} else {
		src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}

	return &Selector{
		rng:      rand.New(src),
		delayMin: delayMin,
		delayMax: delayMax,
	}, nil
}

func (s *Selector) delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.delayMin + s.rng.IntN(s.delayMax-s.delayMin+1)
	return time.Duration(n) * time.Minute
}

// Select proposes one candidate per window, starting from the later of the
// window start and the session start, and returns the earliest candidate that
// does not fall past its window's end. ok is false when no window yields a
// valid candidate.
func (s *Selector) Select(session types.Session, windows []types.WindowInstance) (firing time.Time, window types.WindowInstance, ok bool) {
	for _, w := range windows {
		candidateStart := w.Start
		if session.Start.After(candidateStart) {
			candidateStart = session.Start
		}

		candidate := candidateStart.Add(s.delay())
		if candidate.After(w.End) {
			continue
		}
		if !ok || candidate.Before(firing) {
			firing, window, ok = candidate, w, true
		}
	}
	return firing, window, ok
}
