package input

import (
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
)

// Native drives the OS input queue through robotgo. Events go to whatever
// window has focus.
type Native struct{}

func NewNative() *Native { return &Native{} }

// robotgo names a few keys differently from the key names used in profiles.
var nativeKeys = map[string]string{
	"escape": "esc",
	"return": "enter",
	"ctrl":   "control",
}

func nativeKey(k string) string {
	k = strings.ToLower(k)
	if n, ok := nativeKeys[k]; ok {
		return n
	}
	return k
}

func (n *Native) SendKey(key string) error {
	if err := robotgo.KeyTap(nativeKey(key)); err != nil {
		return fmt.Errorf("key tap %s: %w", key, err)
	}
	return nil
}

func (n *Native) SendKeyCombination(keys []string) error {
	mods, key, err := splitCombination(keys)
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, len(mods))
	for _, m := range mods {
		args = append(args, nativeKey(m))
	}
	if err := robotgo.KeyTap(nativeKey(key), args...); err != nil {
		return fmt.Errorf("key tap %v: %w", keys, err)
	}
	return nil
}

func (n *Native) Click(x, y int, button string) error {
	robotgo.Move(x, y)
	robotgo.Click(button)
	return nil
}

func (n *Native) Drag(x1, y1, x2, y2 int) error {
	robotgo.Move(x1, y1)
	if err := robotgo.Toggle("left"); err != nil {
		return fmt.Errorf("mouse down: %w", err)
	}
	robotgo.MoveSmooth(x2, y2)
	if err := robotgo.Toggle("left", "up"); err != nil {
		return fmt.Errorf("mouse up: %w", err)
	}
	return nil
}

func (n *Native) TypeCharacter(c rune) error {
	robotgo.TypeStr(string(c))
	return nil
}

func (n *Native) Close() error { return nil }
