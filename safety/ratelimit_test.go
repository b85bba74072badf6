package safety

import (
	"slices"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func newClock() *fakeClock                   { return &fakeClock{t: t0} }
func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiter_WindowSlides(t *testing.T) {
	c := newClock()
	l := NewRateLimiter(3, 60*time.Second, c.now)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("action %d rejected", i+1)
		}
		l.Record()
		c.advance(10 * time.Second)
	}
	if l.Allow() {
		t.Fatal("4th action inside the window should be rejected")
	}
	if got := l.TimeUntilNext(); got != 30*time.Second {
		t.Errorf("TimeUntilNext = %v, want 30s", got)
	}

	c.t = t0.Add(61 * time.Second)
	if !l.Allow() {
		t.Error("a slot should free up 61s after the first action")
	}
	if got := l.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := l.TimeUntilNext(); got != 0 {
		t.Errorf("TimeUntilNext = %v, want 0", got)
	}
}

func TestPatternDetector_RegularTiming(t *testing.T) {
	d := NewPatternDetector()
	for i := 0; i < 10; i++ {
		d.Record(string(rune('a'+i)), t0.Add(time.Duration(i)*500*time.Millisecond))
	}
	got := d.Detect()
	if !slices.Equal(got, []string{PatternRegularTiming}) {
		t.Errorf("Detect = %v", got)
	}
	if d.SuspiciousCount() != 1 {
		t.Errorf("SuspiciousCount = %d", d.SuspiciousCount())
	}
}

func TestPatternDetector_Repetition(t *testing.T) {
	d := NewPatternDetector()
	at := t0
	for i, a := range []string{"a", "b", "a", "b", "c", "d"} {
		at = at.Add(time.Duration(i+1) * time.Second)
		d.Record(a, at)
	}
	if got := d.Detect(); !slices.Equal(got, []string{PatternRepetitive}) {
		t.Errorf("Detect = %v", got)
	}

	d.Reset()
	for i, a := range []string{"a", "b", "c", "d", "e", "f"} {
		d.Record(a, t0.Add(time.Duration(i)*time.Second))
	}
	if got := d.Detect(); len(got) != 0 {
		t.Errorf("distinct actions flagged: %v", got)
	}
}

func TestPatternDetector_TooFast(t *testing.T) {
	d := NewPatternDetector()
	d.Record("a", t0)
	d.Record("b", t0.Add(20*time.Millisecond))
	if got := d.Detect(); !slices.Equal(got, []string{PatternTooFast}) {
		t.Errorf("Detect = %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Level = "paranoid"
	cfg.MaxActionsPerMinute = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error")
	}

	if _, err := ParseLevel("STRICT"); err != nil {
		t.Errorf("ParseLevel: %v", err)
	}
}

func TestThreatLevel_String(t *testing.T) {
	if ThreatCritical.String() != "CRITICAL" || ThreatNone.String() != "NONE" {
		t.Errorf("got %s, %s", ThreatCritical, ThreatNone)
	}
}
