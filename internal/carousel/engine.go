// Package carousel implements the hero carousel: slide rotation, autoplay,
// and the delayed trailer background that replaces a slide's static image.
//
// One mutex serializes every entry point and every timer or network
// callback, so the engine behaves as if it ran on a single event loop.
// Asynchronous work is tagged with the generation that was current when it
// was scheduled. The generation moves on every index change, trailer toggle
// and rotation set replacement; anything that completes for an older
// generation is dropped without touching state.
package carousel

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"cinereel/internal/featured"
	"cinereel/internal/metrics"
	"cinereel/internal/mute"
	"cinereel/internal/trailer"
)

const (
	DefaultTrailerDelay   = 2 * time.Second
	DefaultAutoplayPeriod = 12 * time.Second
	DefaultDragThreshold  = 100.0
)

type TrailerResolver interface {
	Resolve(ctx context.Context, mediaType, id string) (trailer.Ref, bool)
}

// Preloader warms an image in the background. ctx ends when the carousel is
// torn down.
type Preloader interface {
	Preload(ctx context.Context, url string)
}

// MuteChannel must not block: it is called with the engine lock held.
type MuteChannel interface {
	SetMuted(frame mute.FrameHandle, muted bool) bool
}

type Options struct {
	TrailerDelay   time.Duration
	AutoplayPeriod time.Duration
	DragThreshold  float64
	Autoplay       bool
	Trailers       bool

	Clock     Clock
	Resolver  TrailerResolver
	Preloader Preloader
	Mute      MuteChannel
	Metrics   *metrics.Metrics
	Log       zerolog.Logger

	// OnChange receives every published snapshot, outside the lock.
	OnChange func(State)
}

// OptionsFromUI maps the featured UI config onto engine options.
func OptionsFromUI(ui featured.UIConfig) Options {
	return Options{
		TrailerDelay:   ui.TrailerDelay(),
		AutoplayPeriod: ui.AutoplayInterval(),
		DragThreshold:  ui.DragThreshold,
		Autoplay:       ui.Autoplay,
		Trailers:       ui.Trailers,
	}
}

type Engine struct {
	opts    Options
	clock   Clock
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu              sync.Mutex
	items           []featured.Item
	index           int
	direction       Direction
	autoplayEnabled bool
	trailerEnabled  bool
	videoVisible    bool
	muted           bool
	pending         *trailer.Ref
	hovering        bool
	disposed        bool
	generation      uint64
	version         uint64
	stage           pipelineStage
	trailerTimer    Timer
	resolveCancel   context.CancelFunc
	sched           autoplay
	frame           mute.FrameHandle
	deferred        []func()

	// lifetime is cancelled by Dispose; background work for this carousel
	// hangs off it.
	lifetime    context.Context
	endLifetime context.CancelFunc
	wg          conc.WaitGroup
}

// New mounts a carousel over items. An empty set yields an engine that is
// already torn down and ignores every call.
func New(items []featured.Item, opts Options) *Engine {
	if opts.TrailerDelay <= 0 {
		opts.TrailerDelay = DefaultTrailerDelay
	}
	if opts.AutoplayPeriod <= 0 {
		opts.AutoplayPeriod = DefaultAutoplayPeriod
	}
	if opts.DragThreshold <= 0 {
		opts.DragThreshold = DefaultDragThreshold
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	e := &Engine{
		opts:            opts,
		clock:           opts.Clock,
		log:             opts.Log.With().Str("component", "carousel").Logger(),
		metrics:         opts.Metrics,
		direction:       Forward,
		autoplayEnabled: opts.Autoplay,
		trailerEnabled:  opts.Trailers,
		muted:           true,
	}
	e.sched = autoplay{clock: opts.Clock, period: opts.AutoplayPeriod}
	e.lifetime, e.endLifetime = context.WithCancel(context.Background())
	if len(items) == 0 {
		e.disposed = true
		e.endLifetime()
		return e
	}
	e.items = append([]featured.Item(nil), items...)

	e.mu.Lock()
	e.restartLocked()
	e.rescheduleLocked()
	e.preloadNextLocked()
	deferred := e.takeDeferredLocked()
	e.mu.Unlock()
	runAll(deferred)
	return e
}

// Next advances one slide, wrapping at the end.
func (e *Engine) Next() {
	e.step(1, "manual")
}

// Previous goes back one slide, wrapping at the start.
func (e *Engine) Previous() {
	e.step(-1, "manual")
}

func (e *Engine) step(delta int, trigger string) {
	dir := Forward
	if delta < 0 {
		dir = Backward
	}
	e.update(func() bool {
		return e.moveLocked(e.wrap(e.index+delta), dir, trigger)
	})
}

// GoTo jumps straight to index, clamped into range. Jumping to the current
// slide changes nothing.
func (e *Engine) GoTo(index int) {
	e.update(func() bool {
		target := e.clamp(index)
		dir := Forward
		if target < e.index {
			dir = Backward
		}
		return e.moveLocked(target, dir, "jump")
	})
}

// OnDragRelease turns a finished swipe into a transition. Short drags snap
// back and do nothing.
func (e *Engine) OnDragRelease(offsetX float64) {
	if math.IsNaN(offsetX) || math.Abs(offsetX) <= e.opts.DragThreshold {
		return
	}
	if offsetX < 0 {
		e.step(1, "drag")
		return
	}
	e.step(-1, "drag")
}

// ToggleTrailer flips the trailer background on or off for every slide.
func (e *Engine) ToggleTrailer() {
	e.update(func() bool {
		e.trailerEnabled = !e.trailerEnabled
		e.restartLocked()
		e.rescheduleLocked()
		return true
	})
}

// ToggleMute flips the trailer's sound. It does nothing unless a trailer is
// showing, and nothing if the player frame could not take the command.
func (e *Engine) ToggleMute() {
	e.update(func() bool {
		if !e.videoVisible {
			return false
		}
		want := !e.muted
		if e.opts.Mute == nil || !e.opts.Mute.SetMuted(e.frame, want) {
			return false
		}
		e.muted = want
		return true
	})
}

// SetHovering pauses autoplay while the pointer is over the carousel.
func (e *Engine) SetHovering(hovering bool) {
	e.update(func() bool {
		if e.hovering == hovering {
			return false
		}
		e.hovering = hovering
		e.rescheduleLocked()
		return true
	})
}

func (e *Engine) SetAutoplay(enabled bool) {
	e.update(func() bool {
		if e.autoplayEnabled == enabled {
			return false
		}
		e.autoplayEnabled = enabled
		e.rescheduleLocked()
		return true
	})
}

// SetItems replaces the rotation set. The same ids in the same order only
// refresh item data; anything else restarts at the first slide. An empty
// set tears the engine down.
func (e *Engine) SetItems(items []featured.Item) {
	if len(items) == 0 {
		e.Dispose()
		return
	}
	e.update(func() bool {
		same := featured.SameIDs(e.items, items)
		e.items = append([]featured.Item(nil), items...)
		if same {
			return true
		}
		e.index = 0
		e.direction = Forward
		e.restartLocked()
		e.rescheduleLocked()
		e.preloadNextLocked()
		e.metrics.Transition("replace")
		return true
	})
}

// AttachFrame hands the engine the embedded player frame mute commands go
// to. Pass nil when the frame goes away.
func (e *Engine) AttachFrame(frame mute.FrameHandle) {
	e.mu.Lock()
	e.frame = frame
	e.mu.Unlock()
}

// Dispose cancels the autoplay timer, the trailer delay timer and any
// in-flight resolution, in that order. Nothing mutates the state afterwards.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.sched.stop()
	if e.trailerTimer != nil {
		e.trailerTimer.Stop()
		e.trailerTimer = nil
	}
	e.generation++
	if e.resolveCancel != nil {
		e.resolveCancel()
		e.resolveCancel = nil
	}
	e.endLifetime()
	e.stage = stageIdle
	e.disposed = true
	e.frame = nil
	e.version++
	snap := e.snapshotLocked()
	e.deferred = nil
	e.mu.Unlock()
	e.log.Debug().Msg("carousel disposed")
	e.publish(snap)
}

// Wait blocks until every resolution goroutine has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Current returns the slide being shown.
func (e *Engine) Current() (featured.Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 {
		return featured.Item{}, false
	}
	return e.items[e.index], true
}

func (e *Engine) Items() []featured.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]featured.Item(nil), e.items...)
}

// moveLocked is the single transition handler: it switches the slide,
// cancels the old pipeline and starts the new one in one step, then
// re-arms autoplay and warms the following backdrop.
func (e *Engine) moveLocked(index int, dir Direction, trigger string) bool {
	if len(e.items) == 0 || index == e.index {
		return false
	}
	e.index = index
	e.direction = dir
	e.restartLocked()
	e.rescheduleLocked()
	e.preloadNextLocked()
	e.metrics.Transition(trigger)
	e.log.Debug().Int("index", index).Str("direction", string(dir)).Str("trigger", trigger).Msg("slide changed")
	return true
}

func (e *Engine) preloadNextLocked() {
	if e.opts.Preloader == nil || len(e.items) == 0 {
		return
	}
	url := e.items[e.wrap(e.index+1)].Images.Backdrop
	if url == "" {
		return
	}
	p, ctx := e.opts.Preloader, e.lifetime
	e.deferred = append(e.deferred, func() { p.Preload(ctx, url) })
}

func (e *Engine) wrap(i int) int {
	n := len(e.items)
	if n == 0 {
		return 0
	}
	return ((i % n) + n) % n
}

func (e *Engine) clamp(i int) int {
	n := len(e.items)
	switch {
	case n == 0 || i < 0:
		return 0
	case i >= n:
		return n - 1
	default:
		return i
	}
}

func (e *Engine) snapshotLocked() State {
	s := State{
		CurrentIndex:    e.index,
		Direction:       e.direction,
		AutoplayEnabled: e.autoplayEnabled,
		TrailerEnabled:  e.trailerEnabled,
		VideoVisible:    e.videoVisible,
		Muted:           e.muted,
		Phase:           e.stage.phase(),
		Hovering:        e.hovering,
		Length:          len(e.items),
		Generation:      e.generation,
		Version:         e.version,
		Disposed:        e.disposed,
	}
	if e.pending != nil {
		ref := *e.pending
		s.PendingTrailer = &ref
		if e.videoVisible {
			s.EmbedURL = ref.EmbedURL()
		}
	}
	return s
}

// update runs fn under the lock unless the engine is torn down. When fn
// reports a change the new snapshot is published after the lock is
// released, together with any side effects fn queued. It returns whether
// fn ran.
func (e *Engine) update(fn func() bool) bool {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return false
	}
	changed := fn()
	var snap State
	if changed {
		e.version++
		snap = e.snapshotLocked()
	}
	deferred := e.takeDeferredLocked()
	e.mu.Unlock()

	runAll(deferred)
	if changed {
		e.publish(snap)
	}
	return true
}

func (e *Engine) takeDeferredLocked() []func() {
	d := e.deferred
	e.deferred = nil
	return d
}

func (e *Engine) publish(s State) {
	if e.opts.OnChange != nil {
		e.opts.OnChange(s)
	}
}

func runAll(fns []func()) {
	for _, f := range fns {
		f()
	}
}
