// Package progress turns per-phase completion fractions into a single
// percent and a coarse time-remaining estimate for one running node.
//
// A node run advances through named phases, each carrying a weight for its
// share of the total work. Reporting a fraction for a phase moves the
// overall percent by that phase's weight, so a cheap download phase and an
// expensive processing phase can progress at very different rates while the
// displayed number stays meaningful.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Phase is one weighted segment of a node run.
type Phase struct {
	ID     string
	Weight float64
}

// minETAFraction is the phase completion below which no estimate is shown.
// Extrapolating from under one percent of progress produces junk.
const minETAFraction = 0.01

// Tracker aggregates phase fractions for a single node run. Safe for
// concurrent use.
type Tracker struct {
	mu         sync.Mutex
	phases     []Phase
	fractions  map[string]float64
	started    map[string]bool
	lastPhase  string
	startedAt  time.Time
	phaseStart time.Time
	completed  bool
	now        func() time.Time
}

// NewTracker builds a tracker over the given phases and starts its clock.
// Weights are normalized, so callers may pass any positive values.
func NewTracker(phases ...Phase) *Tracker {
	return newTracker(phases, time.Now)
}

func newTracker(phases []Phase, now func() time.Time) *Tracker {
	var total float64
	for _, p := range phases {
		if p.Weight > 0 {
			total += p.Weight
		}
	}
	normalized := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if p.Weight <= 0 {
			continue
		}
		normalized = append(normalized, Phase{ID: p.ID, Weight: p.Weight / total})
	}
	start := now()
	return &Tracker{
		phases:     normalized,
		fractions:  make(map[string]float64, len(normalized)),
		started:    make(map[string]bool, len(normalized)),
		startedAt:  start,
		phaseStart: start,
		now:        now,
	}
}

// Report records the completion fraction of one phase, clamped to [0, 1].
// Unknown phases are ignored.
func (t *Tracker) Report(phaseID string, fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return
	}
	known := false
	for _, p := range t.phases {
		if p.ID == phaseID {
			known = true
			break
		}
	}
	if !known {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if t.lastPhase != "" && phaseID != t.lastPhase {
		// A new phase begins: the estimate restarts from this instant.
		t.phaseStart = t.now()
	}
	t.started[phaseID] = true
	t.fractions[phaseID] = fraction
	t.lastPhase = phaseID
}

// Complete clamps the tracker to 100 percent.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
}

// Reset zeroes all phase state and restarts the clocks. Used when a node
// is re-run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// ResetAndStart resets the tracker and marks one phase as started, so the
// active phase is visible before its first fraction arrives. An unknown
// phase id leaves the tracker reset with no active phase.
func (t *Tracker) ResetAndStart(phaseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	for _, p := range t.phases {
		if p.ID == phaseID {
			t.started[phaseID] = true
			t.lastPhase = phaseID
			break
		}
	}
}

func (t *Tracker) resetLocked() {
	t.fractions = make(map[string]float64, len(t.phases))
	t.started = make(map[string]bool, len(t.phases))
	t.lastPhase = ""
	now := t.now()
	t.startedAt = now
	t.phaseStart = now
	t.completed = false
}

// Fraction returns the weighted overall completion in [0, 1].
func (t *Tracker) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fractionLocked()
}

func (t *Tracker) fractionLocked() float64 {
	if t.completed {
		return 1
	}
	var sum float64
	for _, p := range t.phases {
		sum += t.fractions[p.ID] * p.Weight
	}
	if sum > 1 {
		sum = 1
	}
	return sum
}

// Percent returns the overall completion scaled to [0, 100].
func (t *Tracker) Percent() float64 {
	return t.Fraction() * 100
}

// Phase returns the active phase id, empty before any phase starts.
func (t *Tracker) Phase() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPhase
}

// Started reports whether work for the phase has begun.
func (t *Tracker) Started(phaseID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started[phaseID]
}

// Elapsed returns the time since the tracker started or was last reset.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.startedAt)
}

// ETA extrapolates the remaining time of the active phase from its fraction
// and the time since that phase began. It reports false while no phase has
// enough progress to extrapolate from, and after the run completes. A phase
// change restarts the estimate.
func (t *Tracker) ETA() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed || t.lastPhase == "" {
		return 0, false
	}
	f := t.fractions[t.lastPhase]
	if f < minETAFraction {
		return 0, false
	}
	elapsed := t.now().Sub(t.phaseStart)
	remaining := time.Duration(float64(elapsed)/f) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ETAString formats the estimate as "45s" or "2m 5s", or returns "" when no
// estimate is available.
func (t *Tracker) ETAString() string {
	d, ok := t.ETA()
	if !ok {
		return ""
	}
	return FormatETA(d)
}

// FormatETA renders a duration as whole seconds, with a minute component
// once it passes sixty seconds.
func FormatETA(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm %ds", m, s)
}
