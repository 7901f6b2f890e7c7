package stabilizer

import "math"

// MinBearingSpeed is the speed (m/s) below which GPS course is ignored.
const MinBearingSpeed = 1.0

// NormalizeBearing maps any angle into [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// ShortestDelta returns the signed rotation in [-180, 180] from `from` to `to`.
func ShortestDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

// BearingSmoother filters headings on an unwrapped, cumulative angle so a
// 359 -> 1 crossing is a 2 degree step rather than a 358 degree one.
type BearingSmoother struct {
	Filter     Kalman
	Cumulative float64
	LastRaw    float64
	Output     float64
	HasRaw     bool
	HasOutput  bool
}

// NewBearingSmoother returns a smoother using the default bearing noise.
func NewBearingSmoother() BearingSmoother {
	return BearingSmoother{Filter: NewKalman(BearingProcessNoise, BearingMeasurementNoise)}
}

// Step folds one heading sample in. Course-over-ground samples taken below
// MinBearingSpeed are ignored and the previous output is held; compass
// samples are always used. ok is false until a first output exists.
func (s BearingSmoother) Step(raw, speed float64, isCompass bool) (next BearingSmoother, bearing float64, ok bool) {
	if !isCompass && speed < MinBearingSpeed {
		return s, s.Output, s.HasOutput
	}
	raw = NormalizeBearing(raw)
	if !s.HasRaw {
		s.Cumulative = raw
		s.HasRaw = true
	} else {
		s.Cumulative += ShortestDelta(s.LastRaw, raw)
	}
	s.LastRaw = raw

	var filtered float64
	s.Filter, filtered = s.Filter.Step(s.Cumulative)
	s.Output = NormalizeBearing(filtered)
	s.HasOutput = true
	return s, s.Output, true
}
