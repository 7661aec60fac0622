package carousel

import (
	"context"

	"cinereel/internal/trailer"
)

// The trailer pipeline waits TrailerDelay after the current item was
// selected, resolves a trailer, then reveals the video. Both suspension
// points capture the generation they were started for and drop their
// result if it moved on in the meantime.

// restartLocked opens a new generation: whatever the previous one had
// scheduled or in flight is cancelled, the video falls back to the image,
// and a fresh pipeline is armed for the current item.
func (e *Engine) restartLocked() {
	e.cancelPipelineLocked()
	e.generation++
	e.videoVisible = false
	e.muted = true
	e.pending = nil
	e.armTrailerLocked()
}

func (e *Engine) cancelPipelineLocked() {
	if e.trailerTimer != nil {
		e.trailerTimer.Stop()
		e.trailerTimer = nil
	}
	if e.resolveCancel != nil {
		e.resolveCancel()
		e.resolveCancel = nil
	}
	e.stage = stageIdle
}

func (e *Engine) armTrailerLocked() {
	if e.disposed || !e.trailerEnabled || e.opts.Resolver == nil || len(e.items) == 0 {
		e.stage = stageIdle
		return
	}
	gen := e.generation
	e.stage = stageWaiting
	e.trailerTimer = e.clock.AfterFunc(e.opts.TrailerDelay, func() { e.onTrailerDelay(gen) })
}

func (e *Engine) onTrailerDelay(gen uint64) {
	e.mu.Lock()
	if e.disposed || gen != e.generation || !e.trailerEnabled || e.stage != stageWaiting {
		e.mu.Unlock()
		e.metrics.StaleDrop("timer")
		return
	}
	e.trailerTimer = nil
	item := e.items[e.index]
	ctx, cancel := context.WithCancel(e.lifetime)
	e.resolveCancel = cancel
	e.stage = stageResolving
	e.version++
	snap := e.snapshotLocked()
	resolver := e.opts.Resolver
	e.wg.Go(func() {
		ref, ok := resolver.Resolve(ctx, item.MediaType, item.ID)
		e.onResolved(gen, ref, ok)
	})
	e.mu.Unlock()
	e.publish(snap)
}

func (e *Engine) onResolved(gen uint64, ref trailer.Ref, ok bool) {
	stale := false
	ran := e.update(func() bool {
		if gen != e.generation || e.stage != stageResolving {
			stale = true
			return false
		}
		if e.resolveCancel != nil {
			e.resolveCancel()
			e.resolveCancel = nil
		}
		if !ok || ref.IsZero() {
			e.stage = stageIdle
			e.log.Debug().Uint64("generation", gen).Msg("no trailer for current item")
			return true
		}
		r := ref
		e.pending = &r
		e.videoVisible = true
		e.muted = true
		e.stage = stageVisible
		// The revealed trailer gets a full autoplay period of its own.
		e.rescheduleLocked()
		e.log.Debug().Uint64("generation", gen).Str("key", ref.Key).Msg("trailer revealed")
		return true
	})
	if stale || !ran {
		e.metrics.StaleDrop("resolve")
	}
}
