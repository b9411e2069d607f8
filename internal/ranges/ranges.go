// Package ranges describes hardware-admissible parameter values as a union of
// discrete points and stepped or continuous intervals.
package ranges

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var ErrOverlap = errors.New("ranges overlap")

// Range is a single admissible interval. A zero Step with Start == Stop is a
// discrete point, a zero Step with Start < Stop is continuous.
type Range struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

func (r Range) contains(v float64) bool { return v >= r.Start && v <= r.Stop }

// last is the highest admissible value, which for a stepped range is the
// last step at or below Stop.
func (r Range) last() float64 {
	if r.Step <= 0 {
		return r.Stop
	}
	return r.Start + math.Floor((r.Stop-r.Start)/r.Step+1e-9)*r.Step
}

func (r Range) clip(v float64, closest bool) float64 {
	if v <= r.Start {
		return r.Start
	}
	if top := r.last(); v >= top {
		return top
	}
	if r.Step <= 0 {
		return v
	}
	steps := (v - r.Start) / r.Step
	if closest {
		steps = math.Round(steps)
	} else {
		steps = math.Floor(steps)
	}
	return r.Start + steps*r.Step
}

// RangeSet is an ordered union of non-overlapping ranges.
type RangeSet []Range

// Point is a set holding one discrete value.
func Point(v float64) RangeSet { return RangeSet{{Start: v, Stop: v}} }

// Span is a continuous interval.
func Span(start, stop float64) RangeSet { return RangeSet{{Start: start, Stop: stop}} }

// Stepped is an interval admitting start + k*step.
func Stepped(start, stop, step float64) RangeSet {
	return RangeSet{{Start: start, Stop: stop, Step: step}}
}

// Points builds a set of discrete values.
func Points(vs ...float64) RangeSet {
	rs := make(RangeSet, 0, len(vs))
	for _, v := range vs {
		rs = append(rs, Range{Start: v, Stop: v})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	return rs
}

// New sorts the ranges and rejects overlapping or inverted entries.
func New(rs ...Range) (RangeSet, error) {
	out := make(RangeSet, len(rs))
	copy(out, rs)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i, r := range out {
		if r.Stop < r.Start || r.Step < 0 {
			return nil, fmt.Errorf("invalid range %v", r)
		}
		if i > 0 && r.Start <= out[i-1].Stop {
			return nil, fmt.Errorf("%w: %v and %v", ErrOverlap, out[i-1], r)
		}
	}
	return out, nil
}

// MustNew is New for package-level tables.
func MustNew(rs ...Range) RangeSet {
	out, err := New(rs...)
	if err != nil {
		panic(err)
	}
	return out
}

func (rs RangeSet) Empty() bool { return len(rs) == 0 }

// Start returns the lowest admissible value.
func (rs RangeSet) Start() float64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[0].Start
}

// Stop returns the highest admissible value.
func (rs RangeSet) Stop() float64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].last()
}

// Contains reports whether v is admissible exactly.
func (rs RangeSet) Contains(v float64) bool {
	for _, r := range rs {
		if !r.contains(v) {
			continue
		}
		if r.Step <= 0 {
			return r.Start < r.Stop || v == r.Start
		}
		return r.clip(v, true) == v
	}
	return false
}

// Values enumerates every discrete value. Continuous ranges contribute their
// endpoints only.
func (rs RangeSet) Values() []float64 {
	var out []float64
	for _, r := range rs {
		switch {
		case r.Start == r.Stop:
			out = append(out, r.Start)
		case r.Step <= 0:
			out = append(out, r.Start, r.Stop)
		default:
			n := int(math.Floor((r.Stop-r.Start)/r.Step + 1e-9))
			for k := 0; k <= n; k++ {
				out = append(out, r.Start+float64(k)*r.Step)
			}
		}
	}
	return out
}

// Clip returns the admissible value nearest to v. Inside a stepped range the
// result lands on a step: rounded when preferClosest is set, floored otherwise.
func (rs RangeSet) Clip(v float64, preferClosest bool) float64 {
	if len(rs) == 0 {
		return v
	}
	if v <= rs.Start() {
		return rs.Start()
	}
	if v >= rs.Stop() {
		return rs.Stop()
	}
	best, bestDist := rs[0].Start, math.Inf(1)
	for _, r := range rs {
		c := r.clip(v, preferClosest)
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = c, d
		}
		if r.contains(v) && (r.Step <= 0 || !preferClosest) {
			return c
		}
	}
	return best
}

func (rs RangeSet) String() string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		switch {
		case r.Start == r.Stop:
			parts = append(parts, fmt.Sprintf("%g", r.Start))
		case r.Step > 0:
			parts = append(parts, fmt.Sprintf("[%g..%g step %g]", r.Start, r.Stop, r.Step))
		default:
			parts = append(parts, fmt.Sprintf("[%g..%g]", r.Start, r.Stop))
		}
	}
	return strings.Join(parts, " ")
}
