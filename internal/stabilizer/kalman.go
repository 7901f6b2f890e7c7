package stabilizer

// Default noise parameters.
const (
	PositionProcessNoise     = 1e-3
	PositionMeasurementNoise = 1e-2
	BearingProcessNoise      = 0.05
	BearingMeasurementNoise  = 0.2
)

// Kalman is a one-dimensional constant-state Kalman filter. The zero value
// with Q and R set is ready to use.
type Kalman struct {
	Q, R   float64
	X, P   float64
	Primed bool
}

// NewKalman returns an unprimed filter with the given process (q) and
// measurement (r) noise.
func NewKalman(q, r float64) Kalman {
	return Kalman{Q: q, R: r}
}

// Step folds measurement m into the filter and returns the new state and
// the filtered value. The first measurement is returned unchanged.
func (k Kalman) Step(m float64) (Kalman, float64) {
	if !k.Primed {
		k.X, k.P, k.Primed = m, 1, true
		return k, m
	}
	k.P += k.Q
	gain := k.P / (k.P + k.R)
	k.X += gain * (m - k.X)
	k.P *= 1 - gain
	return k, k.X
}
