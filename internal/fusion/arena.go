package fusion

import (
	"math"

	"threatfusion/internal/sensors"
)

// traceArena owns the traces of one Correlate call and tracks which are claimed.
type traceArena struct {
	traces  []sensors.RadarTrace
	claimed []uint64
}

func newTraceArena(traces []sensors.RadarTrace) *traceArena {
	return &traceArena{
		traces:  traces,
		claimed: make([]uint64, (len(traces)+63)/64),
	}
}

func (a *traceArena) isClaimed(i int) bool {
	return a.claimed[i/64]&(1<<(uint(i)%64)) != 0
}

func (a *traceArena) claim(i int) {
	a.claimed[i/64] |= 1 << (uint(i) % 64)
}

// nearest returns the unclaimed trace with the smallest gate distance under thresholdM.
func (a *traceArena) nearest(thresholdM float64) (int, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, t := range a.traces {
		if a.isClaimed(i) {
			continue
		}
		dist := math.Abs(t.RangeKM*1000 - thresholdM)
		if dist < thresholdM && dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, best >= 0
}
