package player

import "time"

// inactivityTimer counts down the grace period of an idle session. arm and
// disarm are called with the session lock held. Firing only posts an event
// carrying the arm generation; the handler ignores it unless that generation
// is still armed, so a disarm always wins over a concurrent fire.
type inactivityTimer struct {
	d     time.Duration
	timer *time.Timer
	gen   uint64
	armed bool
}

// arm starts the countdown unless it is already running.
func (t *inactivityTimer) arm(fire func(gen uint64)) bool {
	if t.armed || t.d <= 0 {
		return false
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.timer = time.AfterFunc(t.d, func() { fire(gen) })
	return true
}

func (t *inactivityTimer) disarm() {
	if !t.armed {
		return
	}
	t.timer.Stop()
	t.armed = false
	t.gen++
}

// live reports whether gen is the countdown currently armed.
func (t *inactivityTimer) live(gen uint64) bool {
	return t.armed && gen == t.gen
}
