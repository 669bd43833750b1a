package rewards

import (
	"math"
	"time"
)

// Segment is one slice of the spin wheel.
type Segment struct {
	Points int64
	Weight int
}

// Wheel is the daily spin wheel.
type Wheel []Segment

// DefaultWheel pays 1 point three times out of four and 10 points rarely.
var DefaultWheel = Wheel{
	{Points: 1, Weight: 50},
	{Points: 1, Weight: 25},
	{Points: 2, Weight: 15},
	{Points: 5, Weight: 8},
	{Points: 10, Weight: 2},
}

// TotalWeight sums the segment weights.
func (w Wheel) TotalWeight() int {
	total := 0
	for _, s := range w {
		total += s.Weight
	}
	return total
}

// Spin maps u in [0,1) onto a segment and returns its points.
func (w Wheel) Spin(u float64) int64 {
	if len(w) == 0 {
		return 0
	}
	if u < 0 {
		u = 0
	}
	r := u * float64(w.TotalWeight())
	for _, s := range w {
		r -= float64(s.Weight)
		if r <= 0 {
			return s.Points
		}
	}
	return w[len(w)-1].Points
}

// PointsForAmount awards one point per whole currency unit.
func PointsForAmount(amount float64) int64 {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0
	}
	return int64(math.Floor(amount))
}

// CanSpin reports whether a customer whose last spin was at last may spin at now.
// Days are UTC calendar days.
func CanSpin(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly != ny || lm != nm || ld != nd
}

// NextSpinAt returns the start of the UTC day after last.
func NextSpinAt(last time.Time) time.Time {
	y, m, d := last.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
