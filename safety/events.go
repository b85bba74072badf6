package safety

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Event is one entry of the safety audit trail.
type Event struct {
	SessionID   string         `json:"session_id,omitempty"`
	Timestamp   time.Time      `json:"-"`
	Type        string         `json:"event_type"`
	Threat      ThreatLevel    `json:"threat_level"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details"`
	ActionTaken string         `json:"action_taken,omitempty"`
	Resolved    bool           `json:"resolved"`
}

// MarshalJSON writes the timestamp as fractional Unix seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		Timestamp float64 `json:"timestamp"`
		plain
	}{
		Timestamp: float64(e.Timestamp.Unix()) + float64(e.Timestamp.Nanosecond())/1e9,
		plain:     plain(e),
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	type plain Event
	var aux struct {
		Timestamp float64 `json:"timestamp"`
		plain
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = Event(aux.plain)
	sec := int64(aux.Timestamp)
	e.Timestamp = time.Unix(sec, int64((aux.Timestamp-float64(sec))*1e9)).UTC()
	return nil
}

// AuditSink persists events beyond the in-memory trail. Writes must not
// block the caller.
type AuditSink interface {
	WriteEvent(Event) error
	Close() error
}

// WriteAuditTrail encodes events as an indented JSON array.
func WriteAuditTrail(w io.Writer, events []Event) error {
	if events == nil {
		events = []Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encode audit trail: %w", err)
	}
	return nil
}

// Alert fires Action and logs an event whenever Condition holds at the end
// of a recorded action.
type Alert struct {
	Name      string
	Threat    ThreatLevel
	Message   string
	Condition func(AlertContext) bool
	Action    func()
	Disabled  bool

	Triggered     bool
	LastTriggered time.Time
	TriggerCount  int
}

// AlertContext is what alert conditions may look at.
type AlertContext struct {
	ConsecutiveFailures int
	SessionDuration     time.Duration
	MaxSessionDuration  time.Duration
	System              SystemStats
}

func (a *Alert) check(ctx AlertContext, now time.Time) bool {
	if a.Disabled || a.Condition == nil || !a.Condition(ctx) {
		return false
	}
	a.Triggered = true
	a.LastTriggered = now
	a.TriggerCount++
	if a.Action != nil {
		a.Action()
	}
	return true
}

func defaultAlerts() []*Alert {
	return []*Alert{
		{
			Name:      "high_failure_rate",
			Threat:    ThreatHigh,
			Message:   "High failure rate detected",
			Condition: func(c AlertContext) bool { return c.ConsecutiveFailures >= 3 },
		},
		{
			Name:      "high_cpu_usage",
			Threat:    ThreatMedium,
			Message:   "CPU usage critically high",
			Condition: func(c AlertContext) bool { return c.System.CPUPercent > 90 },
		},
		{
			Name:    "long_session",
			Threat:  ThreatMedium,
			Message: "Session approaching time limit",
			Condition: func(c AlertContext) bool {
				return float64(c.SessionDuration) > float64(c.MaxSessionDuration)*0.9
			},
		},
	}
}
