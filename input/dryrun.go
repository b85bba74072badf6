package input

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// DryRun logs every event instead of sending it. It is the default backend
// and what tests drive.
type DryRun struct {
	mu     sync.Mutex
	events []string
}

func NewDryRun() *DryRun { return &DryRun{} }

func (d *DryRun) record(ev string) error {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	slog.Debug("dry-run input", "event", ev)
	return nil
}

func (d *DryRun) SendKey(key string) error { return d.record("key " + key) }

func (d *DryRun) SendKeyCombination(keys []string) error {
	if _, _, err := splitCombination(keys); err != nil {
		return err
	}
	return d.record("keys " + strings.Join(keys, "+"))
}

func (d *DryRun) Click(x, y int, button string) error {
	return d.record(fmt.Sprintf("click %s %d,%d", button, x, y))
}

func (d *DryRun) Drag(x1, y1, x2, y2 int) error {
	return d.record(fmt.Sprintf("drag %d,%d -> %d,%d", x1, y1, x2, y2))
}

func (d *DryRun) TypeCharacter(c rune) error { return d.record(fmt.Sprintf("type %q", c)) }

// Events returns what has been recorded so far.
func (d *DryRun) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.events)
}

func (d *DryRun) Close() error { return nil }
