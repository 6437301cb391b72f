package activity

import (
	"slices"
	"sync"
)

// Tracker maintains the Status as activities finish in arbitrary order.
type Tracker struct {
	mu   sync.Mutex
	last int64
	gaps map[int64]struct{}
}

func NewTracker(s Status) *Tracker {
	t := &Tracker{last: s.LastActivityID, gaps: make(map[int64]struct{}, len(s.Gaps))}
	for _, g := range s.Gaps {
		t.gaps[g] = struct{}{}
	}
	return t
}

// Done records id as applied. Finishing past the cursor moves it and turns
// every skipped id into a gap.
func (t *Tracker) Done(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id > t.last {
		for g := t.last + 1; g < id; g++ {
			t.gaps[g] = struct{}{}
		}
		t.last = id
		return
	}
	delete(t.gaps, id)
}

// IsDone reports whether id has been applied.
func (t *Tracker) IsDone(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id > t.last {
		return false
	}
	_, gap := t.gaps[id]
	return !gap
}

// Status returns a snapshot with sorted gaps.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{LastActivityID: t.last}
	if len(t.gaps) > 0 {
		s.Gaps = make([]int64, 0, len(t.gaps))
		for g := range t.gaps {
			s.Gaps = append(s.Gaps, g)
		}
		slices.Sort(s.Gaps)
	}
	return s
}

// Reset replaces the tracked state.
func (t *Tracker) Reset(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = s.LastActivityID
	t.gaps = make(map[int64]struct{}, len(s.Gaps))
	for _, g := range s.Gaps {
		t.gaps[g] = struct{}{}
	}
}
