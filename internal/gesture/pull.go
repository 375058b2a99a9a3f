// Package gesture turns a vertical drag on a scrolled-to-top surface into
// a pull-to-refresh commitment. The tracker is pure bookkeeping: it owns no
// timers and triggers nothing itself, the caller reads the commit decision
// out of End.
package gesture

// Resistance scales raw downward travel into indicator distance.
const Resistance = 0.5

// Threshold is the indicator distance, in logical pixels, at or past which
// releasing the drag commits a refresh.
const Threshold = 80.0

// Phase is the tracker's lifecycle phase.
type Phase int

const (
	// PhaseIdle means no gesture is in progress.
	PhaseIdle Phase = iota
	// PhasePulling means a drag is being tracked.
	PhasePulling
	// PhaseRefreshing means a committed refresh has not resolved yet.
	PhaseRefreshing
)

func (p Phase) String() string {
	switch p {
	case PhasePulling:
		return "pulling"
	case PhaseRefreshing:
		return "refreshing"
	default:
		return "idle"
	}
}

// AtTopFunc reports whether the scrollable surface sits at offset zero.
type AtTopFunc func() bool

// Tracker accumulates one drag at a time. It is not safe for concurrent
// use; drive it from the event loop that owns the pointer events.
type Tracker struct {
	atTop    AtTopFunc
	phase    Phase
	startY   float64
	distance float64
}

// NewTracker builds a tracker over the surface's at-top predicate.
func NewTracker(atTop AtTopFunc) *Tracker {
	return &Tracker{atTop: atTop}
}

// Phase returns the current lifecycle phase.
func (t *Tracker) Phase() Phase { return t.phase }

// Distance returns the current post-resistance pull distance.
func (t *Tracker) Distance() float64 {
	if t.phase != PhasePulling {
		return 0
	}
	return t.distance
}

// Begin arms the tracker at the pointer's start position. Ignored while a
// refresh is resolving or when the surface is scrolled away from the top.
func (t *Tracker) Begin(y float64) {
	if t.phase != PhaseIdle {
		return
	}
	if t.atTop != nil && !t.atTop() {
		return
	}
	t.phase = PhasePulling
	t.startY = y
	t.distance = 0
}

// Move updates the pull with the pointer's current position. The returned
// consumed flag is true while the gesture owns the drag, telling the caller
// to suppress native scrolling. Reversing upward past the start point
// abandons the gesture.
func (t *Tracker) Move(y float64) (distance float64, consumed bool) {
	if t.phase != PhasePulling {
		return 0, false
	}
	delta := y - t.startY
	if delta < 0 {
		t.phase = PhaseIdle
		t.distance = 0
		return 0, false
	}
	t.distance = delta * Resistance
	return t.distance, true
}

// End resolves the drag. Returns true when the accumulated distance reached
// the threshold; the tracker then stays in PhaseRefreshing until
// FinishRefresh. A short pull snaps back to idle.
func (t *Tracker) End() bool {
	if t.phase != PhasePulling {
		return false
	}
	if t.distance >= Threshold {
		t.phase = PhaseRefreshing
		return true
	}
	t.phase = PhaseIdle
	t.distance = 0
	return false
}

// FinishRefresh returns the tracker to idle once the refresh resolved,
// successfully or not.
func (t *Tracker) FinishRefresh() {
	if t.phase != PhaseRefreshing {
		return
	}
	t.phase = PhaseIdle
	t.distance = 0
}

// Cancel abandons any in-flight drag without committing.
func (t *Tracker) Cancel() {
	if t.phase != PhasePulling {
		return
	}
	t.phase = PhaseIdle
	t.distance = 0
}

// Opacity is the pull indicator's alpha for the current distance, ramping
// linearly from 0 at rest to 1 at the threshold.
func (t *Tracker) Opacity() float64 {
	d := t.Distance()
	if d >= Threshold {
		return 1
	}
	return d / Threshold
}

// Rotation is the pull indicator's angle in degrees, completing a half
// turn at the threshold.
func (t *Tracker) Rotation() float64 {
	return t.Distance() / Threshold * 180
}
