package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/safety"
)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

func WithSleep(s Sleeper) Option { return func(e *Executor) { e.sleep = s } }

// WithRand sets the source for delays and click jitter.
func WithRand(r *rand.Rand) Option { return func(e *Executor) { e.rng = r } }

// Stats summarises executions since the last reset.
type Stats struct {
	Total            int           `json:"totalExecutions"`
	Successful       int           `json:"successfulExecutions"`
	Failed           int           `json:"failedExecutions"`
	AvgExecutionTime time.Duration `json:"averageExecutionTime"`
	ActionsPerMinute float64       `json:"actionsPerMinute"`
	LastExecution    time.Time     `json:"lastExecutionTime"`

	ActionsLastMinute   int  `json:"actionsLastMinute"`
	ConsecutiveFailures int  `json:"consecutiveFailures"`
	TotalFailures       int  `json:"totalFailures"`
	EmergencyStop       bool `json:"emergencyStop"`
}

func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total) * 100
}

// Executor turns action names into input through registered instructions,
// with human-like delays, click jitter and retries. One action runs at a
// time.
type Executor struct {
	exec sync.Mutex // held for the whole of Execute

	mu       sync.Mutex
	input    Input
	cfg      Config
	now      func() time.Time
	sleep    Sleeper
	rng      *rand.Rand
	guard    *guard
	mappings map[string]Instruction
	history  []*Result
	stats    Stats

	pre     []func(action string, s model.GameState)
	post    []func(*Result)
	onError []func(err error, action string)
}

func New(in Input, cfg Config, opts ...Option) (*Executor, error) {
	if in == nil {
		return nil, fmt.Errorf("executor needs an input backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution config: %w", err)
	}
	e := &Executor{
		input:    in,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepCtx,
		mappings: make(map[string]Instruction),
	}
	for _, o := range opts {
		o(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.guard = newGuard(cfg, e.now)
	slog.Info("action executor initialized")
	return e, nil
}

// RegisterAction binds name to in, replacing any previous binding.
func (e *Executor) RegisterAction(name string, in Instruction) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("action %s: %w", name, err)
	}
	if in.Method == MethodMouseClick && in.Button == "" {
		in.Button = "left"
	}
	e.mu.Lock()
	e.mappings[name] = in
	e.mu.Unlock()
	slog.Debug("registered action mapping", "action", name, "method", in.Method)
	return nil
}

func (e *Executor) RegisterKeyboardAction(name, key string) error {
	return e.RegisterAction(name, Instruction{Method: MethodKeyboard, Key: key})
}

func (e *Executor) RegisterCombinationAction(name string, keys []string) error {
	return e.RegisterAction(name, Instruction{Method: MethodKeyboard, Keys: slices.Clone(keys)})
}

func (e *Executor) RegisterClickAction(name string, at model.Point, button string) error {
	return e.RegisterAction(name, Instruction{Method: MethodMouseClick, Position: &at, Button: button})
}

func (e *Executor) RegisterDragAction(name string, from, to model.Point) error {
	return e.RegisterAction(name, Instruction{Method: MethodMouseDrag, DragStart: &from, DragEnd: &to})
}

func (e *Executor) UnregisterAction(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.mappings[name]
	delete(e.mappings, name)
	return ok
}

func (e *Executor) Mapping(name string) (Instruction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, ok := e.mappings[name]
	return in, ok
}

// Mapped returns the registered action names, sorted.
func (e *Executor) Mapped() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.mappings))
	for n := range e.mappings {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Kind reports which safety bucket name counts against.
func (e *Executor) Kind(name string) safety.ActionKind {
	if in, ok := e.Mapping(name); ok {
		return in.Kind()
	}
	return safety.KindGeneral
}

func (e *Executor) OnPreExecute(fn func(action string, s model.GameState)) {
	e.mu.Lock()
	e.pre = append(e.pre, fn)
	e.mu.Unlock()
}

func (e *Executor) OnPostExecute(fn func(*Result)) {
	e.mu.Lock()
	e.post = append(e.post, fn)
	e.mu.Unlock()
}

func (e *Executor) OnError(fn func(err error, action string)) {
	e.mu.Lock()
	e.onError = append(e.onError, fn)
	e.mu.Unlock()
}

// Execute runs the instruction mapped to action. Domain failures come back
// as an unsuccessful Result, never as an error. A missing mapping fails
// immediately without retries.
func (e *Executor) Execute(ctx context.Context, action string, s model.GameState) *Result {
	e.exec.Lock()
	defer e.exec.Unlock()

	start := e.now()

	e.mu.Lock()
	if ok, reason := e.guard.canExecute(); !ok {
		e.mu.Unlock()
		return e.failed(action, "Safety check failed: "+reason, start)
	}
	in, ok := e.mappings[action]
	if !ok {
		e.mu.Unlock()
		return e.failed(action, "No mapping found for action: "+action, start)
	}
	e.guard.recordStart()
	cfg := e.cfg
	pre := slices.Clone(e.pre)
	e.mu.Unlock()

	for _, fn := range pre {
		safeCall("pre-execution", func() { fn(action, s) })
	}

	res := &Result{
		ActionResult: model.ActionResult{ActionName: action, Timestamp: start},
		Method:       in.Method,
	}
	attempts := 1
	if cfg.RetryFailed {
		attempts += cfg.MaxRetries
	}
	for i := 0; i < attempts; i++ {
		a := e.attempt(ctx, action, in, i+1)
		res.Attempts = append(res.Attempts, a)
		if a.Success() {
			res.Success = true
			res.Error = ""
			res.ExecutionTime = a.Duration()
			break
		}
		res.Error = a.Error
		if ctx.Err() != nil || i == attempts-1 {
			break
		}
		if err := e.humanDelay(ctx, cfg.RetryDelay); err != nil {
			break
		}
	}
	res.TotalTime = e.now().Sub(start)
	if !res.Success {
		res.ExecutionTime = res.TotalTime
	}

	e.mu.Lock()
	e.guard.recordResult(res.Success)
	e.record(res)
	post := slices.Clone(e.post)
	e.mu.Unlock()

	for _, fn := range post {
		safeCall("post-execution", func() { fn(res) })
	}
	if cfg.DetailedLogging {
		slog.Info("action executed", "action", action, "success", res.Success,
			"attempts", len(res.Attempts), "took", res.TotalTime)
	}
	return res
}

func (e *Executor) attempt(ctx context.Context, action string, in Instruction, n int) (a Attempt) {
	a = Attempt{Number: n, Start: e.now()}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("input panicked: %v", r)
			a.Error = err.Error()
			e.notifyError(err, action)
		}
		a.End = e.now()
	}()

	if err := e.perform(ctx, in); err != nil {
		a.Error = err.Error()
		if ctx.Err() == nil {
			e.notifyError(err, action)
		}
	}
	return a
}

func (e *Executor) perform(ctx context.Context, in Instruction) error {
	if in.DelayBefore > 0 {
		if err := e.humanDelay(ctx, in.DelayBefore); err != nil {
			return err
		}
	}

	settle := true
	switch in.Method {
	case MethodKeyboard:
		switch {
		case in.Key != "":
			if err := e.input.SendKey(in.Key); err != nil {
				return fmt.Errorf("send key %s: %w", in.Key, err)
			}
		case len(in.Keys) > 0:
			if err := e.input.SendKeyCombination(in.Keys); err != nil {
				return fmt.Errorf("send combination %v: %w", in.Keys, err)
			}
		default:
			if err := e.typeText(ctx, in.Text); err != nil {
				return err
			}
			settle = false
		}
	case MethodMouseClick:
		x, y := e.jitter(*in.Position)
		if err := e.input.Click(x, y, in.Button); err != nil {
			return fmt.Errorf("click (%d,%d): %w", x, y, err)
		}
		if in.Hold > 0 {
			if err := e.sleep(ctx, in.Hold); err != nil {
				return err
			}
		}
	case MethodMouseDrag:
		x1, y1 := e.jitter(*in.DragStart)
		x2, y2 := e.jitter(*in.DragEnd)
		if err := e.input.Drag(x1, y1, x2, y2); err != nil {
			return fmt.Errorf("drag: %w", err)
		}
	default:
		return fmt.Errorf("unknown execution method %q", in.Method)
	}

	if settle {
		if err := e.humanDelay(ctx, 0); err != nil {
			return err
		}
	}
	if in.DelayAfter > 0 {
		return e.humanDelay(ctx, in.DelayAfter)
	}
	return nil
}

// humanDelay sleeps base ± the timing variance, or a random duration in the
// configured delay range when base is zero. Never less than 10ms.
func (e *Executor) humanDelay(ctx context.Context, base time.Duration) error {
	e.mu.Lock()
	if base <= 0 {
		base = e.cfg.MinActionDelay + time.Duration(e.rng.Float64()*float64(e.cfg.MaxActionDelay-e.cfg.MinActionDelay))
	}
	v := float64(base) * e.cfg.TimingVariance
	d := base + time.Duration((e.rng.Float64()*2-1)*v)
	e.mu.Unlock()
	return e.sleep(ctx, max(10*time.Millisecond, d))
}

func (e *Executor) typeText(ctx context.Context, text string) error {
	for _, c := range text {
		if err := e.input.TypeCharacter(c); err != nil {
			return fmt.Errorf("type %q: %w", c, err)
		}
		e.mu.Lock()
		base := float64(e.cfg.TypingDelay)
		d := time.Duration(base + (e.rng.Float64()*2-1)*base*0.5)
		e.mu.Unlock()
		if err := e.sleep(ctx, max(5*time.Millisecond, d)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) jitter(p model.Point) (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.cfg.ClickJitter
	if j == 0 {
		return p.X, p.Y
	}
	return p.X + e.rng.Intn(2*j+1) - j, p.Y + e.rng.Intn(2*j+1) - j
}

func (e *Executor) notifyError(err error, action string) {
	e.mu.Lock()
	cbs := slices.Clone(e.onError)
	e.mu.Unlock()
	for _, fn := range cbs {
		safeCall("error", func() { fn(err, action) })
	}
}

func safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor callback panicked", "callback", kind, "panic", r)
		}
	}()
	fn()
}

func (e *Executor) failed(action, reason string, start time.Time) *Result {
	slog.Debug("action not executed", "action", action, "reason", reason)
	return &Result{ActionResult: model.ActionResult{
		ActionName:    action,
		Timestamp:     start,
		ExecutionTime: e.now().Sub(start),
		Error:         reason,
	}}
}

// record must be called with mu held.
func (e *Executor) record(res *Result) {
	e.stats.Total++
	if res.Success {
		e.stats.Successful++
	} else {
		e.stats.Failed++
	}
	if res.ExecutionTime > 0 {
		const alpha = 0.1
		e.stats.AvgExecutionTime = time.Duration(alpha*float64(res.ExecutionTime) + (1-alpha)*float64(e.stats.AvgExecutionTime))
	}
	e.stats.LastExecution = e.now()

	e.history = append(e.history, res)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	if n := len(e.history); n >= 2 {
		span := e.history[n-1].Timestamp.Sub(e.history[0].Timestamp)
		if span > 0 {
			e.stats.ActionsPerMinute = float64(n) / span.Minutes()
		}
	}
}

func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ActionsLastMinute = e.guard.apm.Count()
	s.ConsecutiveFailures = e.guard.consecutive
	s.TotalFailures = e.guard.total
	s.EmergencyStop = e.guard.stopped
	return s
}

// RecentExecutions returns up to n of the newest results, oldest first.
func (e *Executor) RecentExecutions(n int) []*Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	return slices.Clone(e.history[len(e.history)-n:])
}

func (e *Executor) ClearHistory() {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
	slog.Info("execution history cleared")
}

// IsReady reports whether the executor's own guard would allow an action.
func (e *Executor) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ok, _ := e.guard.canExecute()
	return ok
}

func (e *Executor) EmergencyStop() {
	e.mu.Lock()
	e.guard.emergencyStop()
	e.mu.Unlock()
}

func (e *Executor) ResetEmergencyStop() {
	e.mu.Lock()
	e.guard.reset()
	e.mu.Unlock()
}

// Configure replaces the config. The APM window restarts empty; failure
// counts and the emergency latch carry over.
func (e *Executor) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid execution config: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g := newGuard(cfg, e.now)
	g.consecutive, g.total, g.stopped = e.guard.consecutive, e.guard.total, e.guard.stopped
	e.guard = g
	e.cfg = cfg
	return nil
}

func (e *Executor) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}
