package stabilizer

import (
	"sync"
	"time"
)

// SpeedClass buckets the rolling speed.
type SpeedClass int

const (
	Stationary SpeedClass = iota
	Walking
	Vehicle
	FastVehicle
)

func (c SpeedClass) String() string {
	switch c {
	case Stationary:
		return "stationary"
	case Walking:
		return "walking"
	case Vehicle:
		return "vehicle"
	case FastVehicle:
		return "fast_vehicle"
	default:
		return "unknown"
	}
}

// Tier holds the display policy for one speed class. BufferRadius is the
// distance (meters) the smoothed fix may drift from the anchor before the
// display moves; it is largest when stationary to absorb GPS jitter.
type Tier struct {
	Class             SpeedClass
	BelowSpeed        float64 // m/s, exclusive upper bound
	BufferRadius      float64
	PollInterval      time.Duration
	AnimationDuration time.Duration
}

// Tiers are ordered by speed.
var Tiers = [...]Tier{
	{Stationary, 0.5, 25, 10 * time.Second, 1000 * time.Millisecond},
	{Walking, 2, 5, 3 * time.Second, 800 * time.Millisecond},
	{Vehicle, 10, 10, 2 * time.Second, 500 * time.Millisecond},
	{FastVehicle, 0, 20, 1 * time.Second, 300 * time.Millisecond},
}

// TierFor returns the tier for a speed in m/s.
func TierFor(speed float64) Tier {
	for _, t := range Tiers[:len(Tiers)-1] {
		if speed < t.BelowSpeed {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

const (
	speedWindow   = 5
	bearingWindow = 3
	// MinTravelDistance is the displacement (meters) a fix must move before it
	// contributes to the predicted travel bearing.
	MinTravelDistance = 3.0
)

// Location is the stabilized output for one raw fix.
type Location struct {
	DisplayLat, DisplayLon float64
	Speed                  float64
	SpeedClass             SpeedClass
	// Bearing is the predicted travel bearing; valid when HasBearing.
	Bearing           float64
	HasBearing        bool
	ShouldUpdate      bool
	AnimationDuration time.Duration
	PollInterval      time.Duration
}

// TrackerState is the full state of the position pipeline. Step never
// mutates its receiver.
type TrackerState struct {
	Lat, Lon Kalman

	Anchor    Point
	HasAnchor bool

	LastFix  Point
	LastTime time.Time
	HasLast  bool
	Speeds   []float64

	TravelFrom     Point
	HasTravelFrom  bool
	TravelBearings []float64
}

// NewTrackerState returns a state with default position noise.
func NewTrackerState() TrackerState {
	return TrackerState{
		Lat: NewKalman(PositionProcessNoise, PositionMeasurementNoise),
		Lon: NewKalman(PositionProcessNoise, PositionMeasurementNoise),
	}
}

// Step folds a raw fix taken at time at into the state.
func (s TrackerState) Step(lat, lon float64, at time.Time) (TrackerState, Location) {
	var fix Point
	s.Lat, fix.Lat = s.Lat.Step(lat)
	s.Lon, fix.Lon = s.Lon.Step(lon)

	if s.HasLast {
		if dt := at.Sub(s.LastTime).Seconds(); dt > 0 {
			s.Speeds = pushWindow(s.Speeds, Distance(s.LastFix, fix)/dt, speedWindow)
		}
	}
	s.LastFix, s.LastTime, s.HasLast = fix, at, true

	if !s.HasTravelFrom {
		s.TravelFrom, s.HasTravelFrom = fix, true
	} else if Distance(s.TravelFrom, fix) > MinTravelDistance {
		s.TravelBearings = pushWindow(s.TravelBearings, InitialBearing(s.TravelFrom, fix), bearingWindow)
		s.TravelFrom = fix
	}

	speed := mean(s.Speeds)
	tier := TierFor(speed)
	out := Location{
		Speed:        speed,
		SpeedClass:   tier.Class,
		PollInterval: tier.PollInterval,
	}
	if len(s.TravelBearings) > 0 {
		out.Bearing, out.HasBearing = circularMean(s.TravelBearings), true
	}

	if !s.HasAnchor || Distance(s.Anchor, fix) > tier.BufferRadius {
		s.Anchor, s.HasAnchor = fix, true
		out.ShouldUpdate = true
		out.AnimationDuration = tier.AnimationDuration
	}
	out.DisplayLat, out.DisplayLon = s.Anchor.Lat, s.Anchor.Lon
	return s, out
}

// pushWindow appends v to a copy of win, keeping at most n trailing values.
func pushWindow(win []float64, v float64, n int) []float64 {
	start := 0
	if len(win) >= n {
		start = len(win) - n + 1
	}
	out := make([]float64, 0, n)
	out = append(out, win[start:]...)
	return append(out, v)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// Tracker owns one pipeline instance for a live location source. It is safe
// for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	state   TrackerState
	bearing BearingSmoother
	now     func() time.Time
}

// NewTracker returns a tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{state: NewTrackerState(), bearing: NewBearingSmoother(), now: time.Now}
}

// Update folds a raw fix stamped with the current time.
func (t *Tracker) Update(lat, lon float64) Location {
	return t.UpdateAt(lat, lon, t.now())
}

// UpdateAt folds a raw fix stamped with at.
func (t *Tracker) UpdateAt(lat, lon float64, at time.Time) Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	var loc Location
	t.state, loc = t.state.Step(lat, lon, at)
	return loc
}

// UpdateBearing folds a heading sample; ok is false until a bearing exists.
func (t *Tracker) UpdateBearing(raw, speed float64, isCompass bool) (bearing float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bearing, bearing, ok = t.bearing.Step(raw, speed, isCompass)
	return bearing, ok
}

// Reset discards all filter state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.state = NewTrackerState()
	t.bearing = NewBearingSmoother()
	t.mu.Unlock()
}
