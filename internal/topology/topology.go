// Package topology implements Topology State (C4): two cells, "observed"
// and "calibrated", each a (fingerprint, Topology) pair with a monotonic
// generation counter, and change notification to subscribers (spec.md
// §4.2).
package topology

import (
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/opendt-project/opendt/internal/model"
)

// Cell identifies which of the two topology slots is being addressed.
type Cell int

const (
	Observed Cell = iota
	Calibrated
)

func (c Cell) String() string {
	if c == Observed {
		return "observed"
	}
	return "calibrated"
}

// Update is delivered to subscribers when a cell's Topology genuinely
// changes (Set is a no-op, no notification, if the fingerprint is
// unchanged).
type Update struct {
	Cell        Cell
	Generation  uint64
	Fingerprint string
	Topology    model.Topology
	// Diff is a JSON merge patch (RFC 7396) from the cell's previous value
	// to Topology, empty on a cell's first Set. It exists for operator
	// visibility into what a calibration epoch actually changed, not for
	// the no-op decision itself (that's the fingerprint comparison above).
	Diff []byte
}

type cellState struct {
	fingerprint string
	topology    model.Topology
	generation  uint64
	initialized bool
}

// State holds the observed/calibrated cells and fans out Updates to
// subscribers. A single State instance is shared within one process
// address space; the simulator-side process and the calibration-side
// process each own their own State (spec.md §4.2: calibrated is mutated
// "in the simulator service's address space, by C5 messages").
type State struct {
	mu          sync.RWMutex
	cells       [2]cellState
	subscribers []func(Update)
}

func New() *State {
	return &State{}
}

// Subscribe registers fn to be invoked synchronously, on the goroutine
// that calls Set, whenever a cell changes. State does not move fn onto a
// separate loop of the subscriber's.
func (s *State) Subscribe(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Set recomputes the fingerprint of t; if it matches the cell's current
// fingerprint, Set is a no-op (no generation bump, no notification). On
// genuine change, the generation is incremented and all subscribers are
// invoked with the new Update.
//
// Setting Observed for the first time also initializes Calibrated to a
// deep copy of the same Topology, per spec.md §4.2 ("calibrated is
// initialized to a deep copy of observed on first arrival").
func (s *State) Set(cell Cell, t model.Topology) error {
	fp, err := model.Fingerprint(t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cur := &s.cells[cell]
	if cur.initialized && cur.fingerprint == fp {
		s.mu.Unlock()
		return nil
	}
	var diff []byte
	if cur.initialized {
		diff = mergeDiff(cur.topology, t)
	}
	cur.fingerprint = fp
	cur.topology = t
	cur.generation++
	cur.initialized = true
	update := Update{Cell: cell, Generation: cur.generation, Fingerprint: fp, Topology: t, Diff: diff}

	var bootstrapCalibrated *Update
	if cell == Observed && !s.cells[Calibrated].initialized {
		calib := &s.cells[Calibrated]
		calib.topology = t.DeepCopy()
		calib.fingerprint = fp
		calib.generation++
		calib.initialized = true
		u := Update{Cell: Calibrated, Generation: calib.generation, Fingerprint: fp, Topology: calib.topology}
		bootstrapCalibrated = &u
	}
	subs := append([]func(Update){}, s.subscribers...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(update)
		if bootstrapCalibrated != nil {
			sub(*bootstrapCalibrated)
		}
	}
	return nil
}

// Get returns the current (fingerprint, Topology, generation) of cell.
func (s *State) Get(cell Cell) (string, model.Topology, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.cells[cell]
	return c.fingerprint, c.topology, c.generation, c.initialized
}

// mergeDiff computes an RFC 7396 JSON merge patch from prev to next,
// purely for the Update.Diff observability field. A marshaling failure
// here is not fatal to Set; it just means the Diff is omitted.
func mergeDiff(prev, next model.Topology) []byte {
	prevJSON, err := model.CanonicalJSON(prev)
	if err != nil {
		return nil
	}
	nextJSON, err := model.CanonicalJSON(next)
	if err != nil {
		return nil
	}
	patch, err := jsonpatch.CreateMergePatch(prevJSON, nextJSON)
	if err != nil {
		return nil
	}
	return patch
}
