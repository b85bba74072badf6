package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/safety"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingInput logs every call and fails the first failN calls.
type recordingInput struct {
	calls []string
	failN int
	panic bool
}

func (r *recordingInput) do(call string) error {
	r.calls = append(r.calls, call)
	if r.panic {
		panic("driver crashed")
	}
	if r.failN > 0 {
		r.failN--
		return errors.New("window not focused")
	}
	return nil
}

func (r *recordingInput) SendKey(key string) error { return r.do("key:" + key) }
func (r *recordingInput) SendKeyCombination(keys []string) error {
	return r.do("combo:" + strings.Join(keys, "+"))
}
func (r *recordingInput) Click(x, y int, button string) error {
	return r.do(fmt.Sprintf("click:%d,%d,%s", x, y, button))
}
func (r *recordingInput) Drag(x1, y1, x2, y2 int) error {
	return r.do(fmt.Sprintf("drag:%d,%d,%d,%d", x1, y1, x2, y2))
}
func (r *recordingInput) TypeCharacter(c rune) error { return r.do("char:" + string(c)) }

type harness struct {
	in     *recordingInput
	exec   *Executor
	now    time.Time
	sleeps []time.Duration
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{in: &recordingInput{}, now: t0}
	e, err := New(h.in, cfg,
		WithClock(func() time.Time { return h.now }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			h.now = h.now.Add(d)
			return ctx.Err()
		}),
		WithRand(rand.New(rand.NewSource(1))),
	)
	if err != nil {
		t.Fatal(err)
	}
	h.exec = e
	return h
}

func (h *harness) run(action string) *Result {
	return h.exec.Execute(context.Background(), action, model.GameState{})
}

func TestExecute_Keyboard(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.exec.RegisterKeyboardAction("attack", "1"); err != nil {
		t.Fatal(err)
	}

	res := h.run("attack")
	if !res.Success || res.Error != "" {
		t.Fatalf("result = %+v", res)
	}
	if !slices.Equal(h.in.calls, []string{"key:1"}) {
		t.Errorf("calls = %v", h.in.calls)
	}
	if len(res.Attempts) != 1 || res.Method != MethodKeyboard {
		t.Errorf("attempts = %d, method = %s", len(res.Attempts), res.Method)
	}
	if len(h.sleeps) != 1 {
		t.Fatalf("sleeps = %v", h.sleeps)
	}
	// 0.1-0.3s range widened by ±10% variance.
	if d := h.sleeps[0]; d < 90*time.Millisecond || d > 330*time.Millisecond {
		t.Errorf("human delay %v out of range", d)
	}
	if res.ExecutionTime != h.sleeps[0] {
		t.Errorf("execution time = %v, want %v", res.ExecutionTime, h.sleeps[0])
	}
}

func TestExecute_NoMappingIsTerminal(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	res := h.run("fireball")
	if res.Success || res.Error != "No mapping found for action: fireball" {
		t.Errorf("result = %+v", res.ActionResult)
	}
	if len(h.in.calls) != 0 || len(h.sleeps) != 0 {
		t.Errorf("unmapped action touched input: %v %v", h.in.calls, h.sleeps)
	}
	if st := h.exec.Stats(); st.Total != 0 || st.ConsecutiveFailures != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.exec.RegisterKeyboardAction("attack", "1")
	h.in.failN = 2

	res := h.run("attack")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Attempts) != 3 || res.Attempts[0].Success() || !res.Attempts[2].Success() {
		t.Errorf("attempts = %+v", res.Attempts)
	}
	// Two retry delays of 1s ±10% precede the successful attempt.
	for _, d := range h.sleeps[:2] {
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Errorf("retry delay %v", d)
		}
	}
}

func TestExecute_RetriesExhausted(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.exec.RegisterKeyboardAction("attack", "1")
	h.in.failN = 10
	var errs []string
	h.exec.OnError(func(err error, action string) { errs = append(errs, action+": "+err.Error()) })

	res := h.run("attack")
	if res.Success || len(res.Attempts) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "window not focused") {
		t.Errorf("error = %q", res.Error)
	}
	if len(errs) != 3 {
		t.Errorf("error callbacks = %v", errs)
	}
	st := h.exec.Stats()
	if st.Failed != 1 || st.ConsecutiveFailures != 1 || st.SuccessRate() != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestExecute_NoRetryWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryFailed = false
	h := newHarness(t, cfg)
	_ = h.exec.RegisterKeyboardAction("attack", "1")
	h.in.failN = 1

	if res := h.run("attack"); res.Success || len(res.Attempts) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestExecute_PanicBecomesFailedAttempt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	h := newHarness(t, cfg)
	_ = h.exec.RegisterKeyboardAction("attack", "1")
	h.in.panic = true

	res := h.run("attack")
	if res.Success || !strings.Contains(res.Error, "driver crashed") {
		t.Errorf("result = %+v", res.ActionResult)
	}
}

func TestExecute_ClickJitter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClickJitter = 3
	h := newHarness(t, cfg)
	_ = h.exec.RegisterClickAction("loot", model.Point{X: 100, Y: 200}, "")

	for i := 0; i < 20; i++ {
		h.now = h.now.Add(3 * time.Second)
		if res := h.run("loot"); !res.Success {
			t.Fatalf("click failed: %s", res.Error)
		}
	}
	for _, c := range h.in.calls {
		var x, y int
		var button string
		if _, err := fmt.Sscanf(strings.ReplaceAll(c, ",", " "), "click:%d %d %s", &x, &y, &button); err != nil {
			t.Fatalf("call %q: %v", c, err)
		}
		if x < 97 || x > 103 || y < 197 || y > 203 || button != "left" {
			t.Errorf("click %q outside jitter", c)
		}
	}
}

func TestExecute_NoJitterWhenZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClickJitter = 0
	h := newHarness(t, cfg)
	_ = h.exec.RegisterDragAction("move_item", model.Point{X: 1, Y: 2}, model.Point{X: 3, Y: 4})
	h.run("move_item")
	if !slices.Equal(h.in.calls, []string{"drag:1,2,3,4"}) {
		t.Errorf("calls = %v", h.in.calls)
	}
}

func TestExecute_ClickHold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClickJitter = 0
	h := newHarness(t, cfg)
	p := model.Point{X: 5, Y: 5}
	_ = h.exec.RegisterAction("channel", Instruction{Method: MethodMouseClick, Position: &p, Button: "right", Hold: 2 * time.Second})
	h.run("channel")
	if !slices.Equal(h.in.calls, []string{"click:5,5,right"}) {
		t.Errorf("calls = %v", h.in.calls)
	}
	if h.sleeps[0] != 2*time.Second {
		t.Errorf("hold = %v", h.sleeps[0])
	}
}

func TestExecute_CombinationAndText(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.exec.RegisterCombinationAction("mount", []string{"shift", "m"})
	_ = h.exec.RegisterAction("say", Instruction{Method: MethodKeyboard, Text: "hi"})

	h.run("mount")
	h.now = h.now.Add(time.Second)
	h.sleeps = nil
	h.run("say")

	want := []string{"combo:shift+m", "char:h", "char:i"}
	if !slices.Equal(h.in.calls, want) {
		t.Errorf("calls = %v", h.in.calls)
	}
	if len(h.sleeps) != 2 {
		t.Fatalf("typing sleeps = %v", h.sleeps)
	}
	for _, d := range h.sleeps {
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Errorf("typing delay %v", d)
		}
	}
}

func TestExecute_DelaysBeforeAndAfter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimingVariance = 0
	h := newHarness(t, cfg)
	_ = h.exec.RegisterAction("drink", Instruction{Method: MethodKeyboard, Key: "0",
		DelayBefore: 500 * time.Millisecond, DelayAfter: 2 * time.Second})
	h.run("drink")

	if len(h.sleeps) != 3 || h.sleeps[0] != 500*time.Millisecond || h.sleeps[2] != 2*time.Second {
		t.Errorf("sleeps = %v", h.sleeps)
	}
}

func TestExecute_GuardAPM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActionsPerMinute = 2
	h := newHarness(t, cfg)
	_ = h.exec.RegisterKeyboardAction("attack", "1")

	h.run("attack")
	h.run("attack")
	res := h.run("attack")
	if res.Success || res.Error != "Safety check failed: APM limit exceeded (2/min)" {
		t.Errorf("error = %q", res.Error)
	}
	if h.exec.IsReady() {
		t.Error("IsReady with APM exhausted")
	}
	h.now = h.now.Add(time.Minute)
	if !h.exec.IsReady() {
		t.Error("not ready after the window passed")
	}
}

func TestExecute_GuardConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 2
	cfg.RetryFailed = false
	h := newHarness(t, cfg)
	_ = h.exec.RegisterKeyboardAction("attack", "1")
	h.in.failN = 5

	h.run("attack")
	h.run("attack")
	res := h.run("attack")
	if res.Error != "Safety check failed: Too many consecutive failures (2)" {
		t.Errorf("error = %q", res.Error)
	}

	h.exec.EmergencyStop()
	if res := h.run("attack"); res.Error != "Safety check failed: Emergency stop activated" {
		t.Errorf("error = %q", res.Error)
	}
	h.exec.ResetEmergencyStop()
	h.in.failN = 0
	if res := h.run("attack"); !res.Success {
		t.Errorf("after reset: %s", res.Error)
	}
}

func TestExecute_CallbacksAndHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 2
	h := newHarness(t, cfg)
	_ = h.exec.RegisterKeyboardAction("attack", "1")

	var order []string
	h.exec.OnPreExecute(func(action string, _ model.GameState) { order = append(order, "pre:"+action) })
	h.exec.OnPostExecute(func(r *Result) { order = append(order, fmt.Sprintf("post:%t", r.Success)) })
	h.exec.OnPostExecute(func(*Result) { panic("bad listener") })

	for i := 0; i < 3; i++ {
		h.now = h.now.Add(10 * time.Second)
		h.run("attack")
	}
	if len(order) != 6 || order[0] != "pre:attack" || order[1] != "post:true" {
		t.Errorf("callbacks = %v", order)
	}
	if got := len(h.exec.RecentExecutions(0)); got != 2 {
		t.Errorf("history = %d", got)
	}
	st := h.exec.Stats()
	if st.Total != 3 || st.SuccessRate() != 100 {
		t.Errorf("stats = %+v", st)
	}
	if st.ActionsPerMinute <= 0 {
		t.Errorf("APM = %v", st.ActionsPerMinute)
	}
	h.exec.ClearHistory()
	if len(h.exec.RecentExecutions(5)) != 0 {
		t.Error("history not cleared")
	}
}

func TestExecute_CancelledContext(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_ = h.exec.RegisterAction("drink", Instruction{Method: MethodKeyboard, Key: "0", DelayBefore: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.exec.Execute(ctx, "drink", model.GameState{})
	if res.Success || len(res.Attempts) != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(h.in.calls) != 0 {
		t.Errorf("input called after cancel: %v", h.in.calls)
	}
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.exec.RegisterAction("bad", Instruction{Method: MethodMouseClick}); err == nil {
		t.Error("click without position accepted")
	}
	if err := h.exec.RegisterAction("bad", Instruction{Method: "telepathy", Key: "x"}); err == nil {
		t.Error("unknown method accepted")
	}
	_ = h.exec.RegisterKeyboardAction("b", "2")
	_ = h.exec.RegisterClickAction("a", model.Point{}, "left")
	if got := h.exec.Mapped(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Mapped = %v", got)
	}
	if h.exec.Kind("a") != safety.KindClick || h.exec.Kind("b") != safety.KindKeystroke || h.exec.Kind("zzz") != safety.KindGeneral {
		t.Error("Kind mismatch")
	}
	if !h.exec.UnregisterAction("a") || h.exec.UnregisterAction("a") {
		t.Error("UnregisterAction")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("nil input accepted")
	}
	cfg := DefaultConfig()
	cfg.MaxActionDelay = 0
	if _, err := New(&recordingInput{}, cfg); err == nil {
		t.Error("inverted delay range accepted")
	}
}

func TestConfigure_KeepsLatch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.exec.EmergencyStop()
	cfg := DefaultConfig()
	cfg.MaxActionsPerMinute = 60
	if err := h.exec.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if h.exec.IsReady() {
		t.Error("Configure cleared the emergency stop")
	}
	if h.exec.Config().MaxActionsPerMinute != 60 {
		t.Error("config not applied")
	}
}
