// Package gesture classifies short touch traces as human or scripted input.
// Classification is a pure computation over the sampled points; callers feed
// the verdict into check-in completion.
package gesture

import (
	"math"
)

// Point is one touch sample. T is milliseconds since the trace started.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// Flag names a suspicious property of a trace. A trace may carry several.
type Flag string

const (
	FlagInsufficientData Flag = "insufficient_data"
	FlagTooFast          Flag = "too_fast"
	FlagTooSlow          Flag = "too_slow"
	FlagTooStraight      Flag = "too_straight"
	FlagTooCurved        Flag = "too_curved"
	FlagConstantSpeed    Flag = "constant_speed"
	FlagNoJitter         Flag = "no_jitter"
)

// Metrics are the geometric summaries persisted with a completed challenge.
type Metrics struct {
	Straightness  float64 `json:"straightness"`
	SpeedVariance float64 `json:"speed_variance"`
	Jitter        float64 `json:"jitter"`
	DurationMs    int     `json:"duration_ms"`
}

// Result is the classifier verdict for one trace.
type Result struct {
	IsHuman    bool    `json:"is_human"`
	Confidence float64 `json:"confidence"`
	Metrics    Metrics `json:"metrics"`
	Flags      []Flag  `json:"flags"`
}

// Config holds the classification thresholds. The values are empirically
// chosen; keep them configurable rather than re-deriving them.
type Config struct {
	MinPoints int

	MinDurationMs int
	MaxDurationMs int

	// Straightness band considered human. Above the max is machine-straight,
	// below the min is an erratic scribble.
	MinStraightness float64
	MaxStraightness float64

	// Flag thresholds for speed variance and jitter.
	MinSpeedVariance float64
	MinJitter        float64

	// Indicator thresholds (looser than the flag thresholds above).
	IndicatorSpeedVariance float64
	IndicatorJitter        float64

	// Decision rule: at least MinIndicators of the four human indicators
	// must hold, and at most MaxFlags flags may be raised.
	MinIndicators int
	MaxFlags      int

	// Confidence weighting per satisfied indicator, on top of the 0.5 base.
	BaseConfidence     float64
	StraightnessBonus  float64
	SpeedVarianceBonus float64
	JitterBonus        float64
	DurationBonus      float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinPoints:              5,
		MinDurationMs:          200,
		MaxDurationMs:          10000,
		MinStraightness:        0.70,
		MaxStraightness:        0.98,
		MinSpeedVariance:       0.05,
		MinJitter:              0.05,
		IndicatorSpeedVariance: 0.10,
		IndicatorJitter:        0.03,
		MinIndicators:          3,
		MaxFlags:               1,
		BaseConfidence:         0.50,
		StraightnessBonus:      0.15,
		SpeedVarianceBonus:     0.15,
		JitterBonus:            0.10,
		DurationBonus:          0.10,
	}
}

// Classifier evaluates touch traces against a fixed config.
type Classifier struct {
	cfg Config
}

// New constructs a classifier. A zero MinPoints falls back to the default
// config so an uninitialized Config cannot accept empty traces.
func New(cfg Config) *Classifier {
	if cfg.MinPoints == 0 {
		cfg = DefaultConfig()
	}
	return &Classifier{cfg: cfg}
}

// Classify produces a verdict for an ordered trace with the given total
// duration in milliseconds.
func (c *Classifier) Classify(points []Point, durationMs int) Result {
	if len(points) < c.cfg.MinPoints {
		return Result{
			IsHuman:    false,
			Confidence: 0,
			Metrics:    Metrics{DurationMs: durationMs},
			Flags:      []Flag{FlagInsufficientData},
		}
	}

	m := Metrics{
		Straightness:  straightness(points),
		SpeedVariance: speedVariance(points),
		Jitter:        jitter(points),
		DurationMs:    durationMs,
	}

	var flags []Flag
	if durationMs < c.cfg.MinDurationMs {
		flags = append(flags, FlagTooFast)
	}
	if durationMs > c.cfg.MaxDurationMs {
		flags = append(flags, FlagTooSlow)
	}
	if m.Straightness > c.cfg.MaxStraightness {
		flags = append(flags, FlagTooStraight)
	}
	if m.Straightness < c.cfg.MinStraightness {
		flags = append(flags, FlagTooCurved)
	}
	if m.SpeedVariance < c.cfg.MinSpeedVariance {
		flags = append(flags, FlagConstantSpeed)
	}
	if m.Jitter < c.cfg.MinJitter {
		flags = append(flags, FlagNoJitter)
	}

	indicators := 0
	confidence := c.cfg.BaseConfidence
	if m.Straightness >= c.cfg.MinStraightness && m.Straightness <= c.cfg.MaxStraightness {
		indicators++
		confidence += c.cfg.StraightnessBonus
	}
	if m.SpeedVariance >= c.cfg.IndicatorSpeedVariance {
		indicators++
		confidence += c.cfg.SpeedVarianceBonus
	}
	if m.Jitter >= c.cfg.IndicatorJitter {
		indicators++
		confidence += c.cfg.JitterBonus
	}
	if durationMs >= c.cfg.MinDurationMs && durationMs <= c.cfg.MaxDurationMs {
		indicators++
		confidence += c.cfg.DurationBonus
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	// A trace can pass the majority-indicator test yet still be rejected if
	// it trips two or more suspicious flags.
	isHuman := indicators >= c.cfg.MinIndicators && len(flags) <= c.cfg.MaxFlags

	return Result{
		IsHuman:    isHuman,
		Confidence: confidence,
		Metrics:    m,
		Flags:      flags,
	}
}

// straightness is 1 minus the average perpendicular distance of interior
// points from the first-last segment, normalized by segment length and scaled
// by 2, floored at 0. A perfect straight line scores 1.0.
func straightness(points []Point) float64 {
	first, last := points[0], points[len(points)-1]
	dx := last.X - first.X
	dy := last.Y - first.Y
	segLen := math.Hypot(dx, dy)
	if segLen == 0 {
		// Degenerate trace (a tap, not a swipe); nothing straight about it.
		return 0
	}

	var totalDist float64
	for _, p := range points[1 : len(points)-1] {
		// Perpendicular distance from p to the line through first and last.
		totalDist += math.Abs(dy*p.X-dx*p.Y+last.X*first.Y-last.Y*first.X) / segLen
	}
	avgDist := totalDist / float64(len(points)-2)

	s := 1 - (avgDist/segLen)*2
	if s < 0 {
		return 0
	}
	return s
}

// speedVariance is the coefficient of variation of point-to-point speed,
// clamped to [0, 1]. Fewer than 3 usable samples yields 0.
func speedVariance(points []Point) float64 {
	var speeds []float64
	for i := 1; i < len(points); i++ {
		dt := float64(points[i].T - points[i-1].T)
		if dt <= 0 {
			continue
		}
		dist := math.Hypot(points[i].X-points[i-1].X, points[i].Y-points[i-1].Y)
		speeds = append(speeds, dist/dt)
	}
	if len(speeds) < 3 {
		return 0
	}

	var sum float64
	for _, s := range speeds {
		sum += s
	}
	mean := sum / float64(len(speeds))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, s := range speeds {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(speeds))

	cv := math.Sqrt(variance) / mean
	if cv > 1 {
		return 1
	}
	return cv
}

// jitter is the average magnitude of small heading changes between
// consecutive point triplets, scaled by 10 and clamped to [0, 1]. Only angle
// deltas strictly between 0.01 and 0.5 radians count; large turns are
// deliberate direction changes, not tremor.
func jitter(points []Point) float64 {
	var deltas []float64
	for i := 2; i < len(points); i++ {
		h1 := math.Atan2(points[i-1].Y-points[i-2].Y, points[i-1].X-points[i-2].X)
		h2 := math.Atan2(points[i].Y-points[i-1].Y, points[i].X-points[i-1].X)
		delta := math.Abs(h2 - h1)
		if delta > math.Pi {
			delta = 2*math.Pi - delta
		}
		if delta > 0.01 && delta < 0.5 {
			deltas = append(deltas, delta)
		}
	}
	if len(deltas) == 0 {
		return 0
	}

	var sum float64
	for _, d := range deltas {
		sum += d
	}
	j := (sum / float64(len(deltas))) * 10
	if j > 1 {
		return 1
	}
	return j
}
