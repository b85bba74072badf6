package safety

import (
	"sync"
	"time"
)

const patternHistory = 50

const (
	PatternRegularTiming = "Too regular timing pattern detected"
	PatternRepetitive    = "Repetitive action sequence detected"
	PatternTooFast       = "Impossibly fast action sequence"
)

// PatternDetector flags bot-like action streams: intervals with almost no
// variance, a two-action cycle repeating, or actions under 50ms apart.
type PatternDetector struct {
	mu         sync.Mutex
	actions    []string
	times      []time.Time
	suspicious int
}

func NewPatternDetector() *PatternDetector { return &PatternDetector{} }

func (d *PatternDetector) Record(action string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
	d.times = append(d.times, at)
	if len(d.actions) > patternHistory {
		d.actions = d.actions[len(d.actions)-patternHistory:]
		d.times = d.times[len(d.times)-patternHistory:]
	}
}

// Detect returns the patterns present in the recorded history.
func (d *PatternDetector) Detect() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var found []string
	if len(d.times) >= 10 {
		var sum float64
		intervals := make([]float64, 0, len(d.times)-1)
		for i := 1; i < len(d.times); i++ {
			iv := d.times[i].Sub(d.times[i-1]).Seconds()
			intervals = append(intervals, iv)
			sum += iv
		}
		mean := sum / float64(len(intervals))
		var variance float64
		for _, iv := range intervals {
			variance += (iv - mean) * (iv - mean)
		}
		variance /= float64(len(intervals))
		if variance < 0.01 && mean < 1.0 {
			found = append(found, PatternRegularTiming)
		}
	}

	if len(d.actions) >= 6 {
		recent := d.actions[len(d.actions)-6:]
		for i := 0; i+3 < len(recent); i++ {
			if recent[i] == recent[i+2] && recent[i+1] == recent[i+3] {
				found = append(found, PatternRepetitive)
				break
			}
		}
	}

	if n := len(d.times); n >= 2 && d.times[n-1].Sub(d.times[n-2]) < 50*time.Millisecond {
		found = append(found, PatternTooFast)
	}

	d.suspicious += len(found)
	return found
}

// SuspiciousCount is the running total of patterns reported by Detect.
func (d *PatternDetector) SuspiciousCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspicious
}

func (d *PatternDetector) Reset() {
	d.mu.Lock()
	d.actions, d.times = nil, nil
	d.mu.Unlock()
}
