package input

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cdpinput "github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Browser dispatches events into a page driven by chromedp, for game
// clients that run in a browser tab.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
}

// NewBrowser starts a browser and navigates to cfg.URL.
func NewBrowser(ctx context.Context, cfg Config) (*Browser, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("browser backend needs a url")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", false),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(800, 600),
	)
	b := &Browser{timeout: cfg.Timeout}
	if b.timeout <= 0 {
		b.timeout = 2 * time.Second
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	b.allocCancel = allocCancel
	b.ctx, b.cancel = chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		slog.Debug(fmt.Sprintf(format, args...))
	}))

	navCtx, cancel := context.WithTimeout(b.ctx, 60*time.Second)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(cfg.URL)); err != nil {
		b.Close()
		return nil, fmt.Errorf("navigate to %s: %w", cfg.URL, err)
	}
	slog.Info("browser input ready", "url", cfg.URL)
	return b, nil
}

func (b *Browser) run(actions ...chromedp.Action) error {
	if b.ctx == nil || b.ctx.Err() != nil {
		return fmt.Errorf("browser context is invalid")
	}
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

var browserKeys = map[string]string{
	"enter":     kb.Enter,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"tab":       kb.Tab,
	"backspace": kb.Backspace,
	"space":     " ",
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"f1":        kb.F1,
	"f2":        kb.F2,
	"f3":        kb.F3,
	"f4":        kb.F4,
	"f5":        kb.F5,
	"f6":        kb.F6,
	"f7":        kb.F7,
	"f8":        kb.F8,
	"f9":        kb.F9,
	"f10":       kb.F10,
	"f11":       kb.F11,
	"f12":       kb.F12,
}

var browserModifiers = map[string]cdpinput.Modifier{
	"alt":     cdpinput.ModifierAlt,
	"ctrl":    cdpinput.ModifierCtrl,
	"control": cdpinput.ModifierCtrl,
	"shift":   cdpinput.ModifierShift,
	"meta":    cdpinput.ModifierMeta,
	"cmd":     cdpinput.ModifierMeta,
}

func browserKey(k string) string {
	if v, ok := browserKeys[strings.ToLower(k)]; ok {
		return v
	}
	return k
}

func (b *Browser) SendKey(key string) error {
	return b.run(chromedp.KeyEvent(browserKey(key)))
}

func (b *Browser) SendKeyCombination(keys []string) error {
	mods, key, err := splitCombination(keys)
	if err != nil {
		return err
	}
	var ms []cdpinput.Modifier
	for _, m := range mods {
		v, ok := browserModifiers[strings.ToLower(m)]
		if !ok {
			return fmt.Errorf("unknown modifier %q", m)
		}
		ms = append(ms, v)
	}
	return b.run(chromedp.KeyEvent(browserKey(key), chromedp.KeyModifiers(ms...)))
}

func (b *Browser) Click(x, y int, button string) error {
	return b.run(chromedp.MouseClickXY(float64(x), float64(y), chromedp.Button(button)))
}

func (b *Browser) Drag(x1, y1, x2, y2 int) error {
	return b.run(
		chromedp.MouseEvent(cdpinput.MouseMoved, float64(x1), float64(y1)),
		chromedp.MouseEvent(cdpinput.MousePressed, float64(x1), float64(y1), chromedp.Button("left"), chromedp.ClickCount(1)),
		chromedp.MouseEvent(cdpinput.MouseMoved, float64(x2), float64(y2), chromedp.Button("left")),
		chromedp.MouseEvent(cdpinput.MouseReleased, float64(x2), float64(y2), chromedp.Button("left"), chromedp.ClickCount(1)),
	)
}

func (b *Browser) TypeCharacter(c rune) error {
	return b.run(chromedp.KeyEvent(string(c)))
}

func (b *Browser) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}
