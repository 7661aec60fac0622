package carousel

import "time"

// autoplay owns the single advance timer of an engine. Every arm stops the
// previous timer and takes a new token; a callback whose token is no longer
// current was queued by a replaced schedule and must not apply.
type autoplay struct {
	clock  Clock
	period time.Duration
	timer  Timer
	token  uint64
}

func (a *autoplay) stop() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.token++
}

func (a *autoplay) arm(fire func(token uint64)) {
	a.stop()
	if a.period <= 0 {
		return
	}
	token := a.token
	a.timer = a.clock.AfterFunc(a.period, func() { fire(token) })
}

func (a *autoplay) current(token uint64) bool {
	return a.timer != nil && token == a.token
}

func (a *autoplay) armed() bool {
	return a.timer != nil
}

// rescheduleLocked tears the autoplay timer down and, when advancing is
// allowed, grants the current slide a full period.
func (e *Engine) rescheduleLocked() {
	e.sched.stop()
	if e.disposed || !e.autoplayEnabled || e.hovering || len(e.items) < 2 {
		return
	}
	e.sched.arm(e.onAutoplayTick)
}

func (e *Engine) onAutoplayTick(token uint64) {
	e.update(func() bool {
		if !e.sched.current(token) {
			return false
		}
		e.sched.timer = nil
		return e.moveLocked(e.wrap(e.index+1), Forward, "autoplay")
	})
}
