package stabilizer

import (
	"context"
	"math"
	"sync"
	"time"
)

// EaseOutCubic maps linear progress t in [0,1] to eased progress.
func EaseOutCubic(t float64) float64 {
	t = math.Max(0, math.Min(1, t))
	u := 1 - t
	return 1 - u*u*u
}

func progress(start time.Time, d time.Duration, now time.Time) float64 {
	if d <= 0 {
		return 1
	}
	return math.Min(1, math.Max(0, float64(now.Sub(start))/float64(d)))
}

// Animation interpolates a position from From to To.
type Animation struct {
	From, To Point
	Start    time.Time
	Duration time.Duration
}

// At returns the interpolated position at now.
func (a Animation) At(now time.Time) Point {
	k := EaseOutCubic(progress(a.Start, a.Duration, now))
	return Point{
		Lat: a.From.Lat + (a.To.Lat-a.From.Lat)*k,
		Lon: a.From.Lon + (a.To.Lon-a.From.Lon)*k,
	}
}

// Done reports whether the animation has reached To.
func (a Animation) Done(now time.Time) bool {
	return progress(a.Start, a.Duration, now) >= 1
}

// Retarget starts a new animation toward `to` from wherever this one is at now.
func (a Animation) Retarget(now time.Time, to Point, d time.Duration) Animation {
	return Animation{From: a.At(now), To: to, Start: now, Duration: d}
}

// Rotation interpolates a heading on a continuous (unwrapped) angle so the
// marker never spins the long way round.
type Rotation struct {
	From, To float64
	Start    time.Time
	Duration time.Duration
}

// At returns the continuous angle at now; it may lie outside [0,360).
func (r Rotation) At(now time.Time) float64 {
	return r.From + (r.To-r.From)*EaseOutCubic(progress(r.Start, r.Duration, now))
}

// Heading returns At normalized into [0,360).
func (r Rotation) Heading(now time.Time) float64 {
	return NormalizeBearing(r.At(now))
}

func (r Rotation) Done(now time.Time) bool {
	return progress(r.Start, r.Duration, now) >= 1
}

// Retarget rotates toward bearing along the shortest path from the current
// continuous angle.
func (r Rotation) Retarget(now time.Time, bearing float64, d time.Duration) Rotation {
	cur := r.At(now)
	return Rotation{
		From:     cur,
		To:       cur + ShortestDelta(NormalizeBearing(cur), NormalizeBearing(bearing)),
		Start:    now,
		Duration: d,
	}
}

// Frame is one rendered animator sample.
type Frame struct {
	Position Point
	Rotation float64 // continuous angle
	Heading  float64 // Rotation normalized into [0,360)
	Done     bool
}

// Animator drives a marker between display updates. A new target replaces
// the in-flight animation, continuing from the current rendered point.
type Animator struct {
	mu        sync.Mutex
	pos       Animation
	rot       Rotation
	primed    bool
	rotPrimed bool
	now       func() time.Time
	wake      chan struct{}
}

// NewAnimator returns an idle animator using the wall clock.
func NewAnimator() *Animator {
	return &Animator{now: time.Now, wake: make(chan struct{}, 1)}
}

// Move animates toward p over d. The first call places the marker directly.
func (a *Animator) Move(p Point, d time.Duration) {
	a.mu.Lock()
	now := a.now()
	if !a.primed {
		a.pos = Animation{From: p, To: p, Start: now}
		a.primed = true
	} else {
		a.pos = a.pos.Retarget(now, p, d)
	}
	a.mu.Unlock()
	a.poke()
}

// Rotate animates the heading toward bearing over d. The first call sets the
// heading directly.
func (a *Animator) Rotate(bearing float64, d time.Duration) {
	a.mu.Lock()
	now := a.now()
	if !a.rotPrimed {
		b := NormalizeBearing(bearing)
		a.rot = Rotation{From: b, To: b, Start: now}
		a.rotPrimed = true
	} else {
		a.rot = a.rot.Retarget(now, bearing, d)
	}
	a.mu.Unlock()
	a.poke()
}

// Apply feeds a stabilized location into the animator when it asks for a
// display update.
func (a *Animator) Apply(loc Location) {
	if !loc.ShouldUpdate {
		return
	}
	a.Move(Point{Lat: loc.DisplayLat, Lon: loc.DisplayLon}, loc.AnimationDuration)
	if loc.HasBearing {
		a.Rotate(loc.Bearing, loc.AnimationDuration)
	}
}

// Frame samples the animator at the current time.
func (a *Animator) Frame() Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	return Frame{
		Position: a.pos.At(now),
		Rotation: a.rot.At(now),
		Heading:  a.rot.Heading(now),
		Done:     a.pos.Done(now) && a.rot.Done(now),
	}
}

func (a *Animator) poke() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run calls render once per interval while an animation is in flight and
// sleeps while idle. It returns when ctx is cancelled.
func (a *Animator) Run(ctx context.Context, interval time.Duration, render func(Frame)) {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	idle := false
	for {
		if idle {
			select {
			case <-ctx.Done():
				return
			case <-a.wake:
				idle = false
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		case <-ticker.C:
			f := a.Frame()
			render(f)
			idle = f.Done
		}
	}
}
