package executor

import (
	"fmt"
	"time"

	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/safety"
)

// Input is the injection backend the executor drives. Implementations live
// in the input package.
type Input interface {
	SendKey(key string) error
	SendKeyCombination(keys []string) error
	Click(x, y int, button string) error
	Drag(x1, y1, x2, y2 int) error
	TypeCharacter(c rune) error
}

type Method string

const (
	MethodKeyboard   Method = "keyboard"
	MethodMouseClick Method = "mouse_click"
	MethodMouseDrag  Method = "mouse_drag"
)

// Instruction is the concrete input an action name maps to. For keyboard
// instructions exactly one of Key, Keys or Text is used, in that order.
type Instruction struct {
	Method Method `json:"method"`

	Key  string   `json:"key,omitempty"`
	Keys []string `json:"keys,omitempty"`
	Text string   `json:"text,omitempty"`

	Position  *model.Point `json:"position,omitempty"`
	DragStart *model.Point `json:"dragStart,omitempty"`
	DragEnd   *model.Point `json:"dragEnd,omitempty"`
	Button    string       `json:"button,omitempty"`

	Hold        time.Duration `json:"hold,omitempty"`
	DelayBefore time.Duration `json:"delayBefore,omitempty"`
	DelayAfter  time.Duration `json:"delayAfter,omitempty"`
}

func (in Instruction) Validate() error {
	switch in.Method {
	case MethodKeyboard:
		if in.Key == "" && len(in.Keys) == 0 && in.Text == "" {
			return fmt.Errorf("keyboard instruction has no key, combination or text")
		}
	case MethodMouseClick:
		if in.Position == nil {
			return fmt.Errorf("click instruction has no position")
		}
	case MethodMouseDrag:
		if in.DragStart == nil || in.DragEnd == nil {
			return fmt.Errorf("drag instruction needs start and end")
		}
	default:
		return fmt.Errorf("unknown execution method %q", in.Method)
	}
	return nil
}

// Kind is the safety rate-limit bucket the instruction counts against.
func (in Instruction) Kind() safety.ActionKind {
	switch in.Method {
	case MethodKeyboard:
		return safety.KindKeystroke
	case MethodMouseClick, MethodMouseDrag:
		return safety.KindClick
	}
	return safety.KindGeneral
}

// Attempt is one try at executing an instruction.
type Attempt struct {
	Number int       `json:"number"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Error  string    `json:"error,omitempty"`
}

func (a Attempt) Success() bool           { return a.Error == "" }
func (a Attempt) Duration() time.Duration { return a.End.Sub(a.Start) }

// Result extends the action result with per-attempt detail.
type Result struct {
	model.ActionResult
	Method    Method        `json:"method,omitempty"`
	Attempts  []Attempt     `json:"attempts,omitempty"`
	TotalTime time.Duration `json:"totalTime"`
}
