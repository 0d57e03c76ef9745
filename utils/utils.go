package utils

import (
	"math"

	"github.com/google/uuid"
)

const (
	MaxWPM     = 400
	MaxPercent = 100
)

// ClampFloat bounds v to [lo, hi]; NaN and infinities become 0 before clamping.
func ClampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return math.Max(lo, math.Min(hi, v))
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func NewConnectionID() string {
	return uuid.NewString()
}
