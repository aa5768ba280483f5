// Package terminal implements the simulated terminal: a code panel whose run
// button reveals canned output after a short delay, optionally one character
// at a time.
package terminal

import (
	"bytes"
	"context"
	"html/template"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/livetemplate/lessonview"
	"github.com/livetemplate/lessonview/internal/clipboard"
	"github.com/livetemplate/lessonview/internal/clock"
	"github.com/livetemplate/lessonview/internal/codepanel"
	"github.com/livetemplate/lessonview/internal/metrics"
)

const (
	// DefaultRunDelay is the pause between a run request and the first output.
	DefaultRunDelay = 700 * time.Millisecond
	// DefaultRevealTick is the per-character interval of the text-adventure effect.
	DefaultRevealTick = 15 * time.Millisecond
)

// Phase is the run state of a terminal.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseRevealing
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRevealing:
		return "revealing"
	default:
		return "idle"
	}
}

// Spec is the static description of a terminal.
type Spec struct {
	Command  string
	Language string
	Output   string
	EffectID string
	// OnRun is called synchronously each time a run starts.
	OnRun func()
}

// SpecFromItem maps a terminal content item.
func SpecFromItem(item lessonview.ContentItem) Spec {
	return Spec{
		Command:  item.Content.Text(),
		Language: item.Language,
		Output:   item.Output,
		EffectID: item.EffectID,
		OnRun:    item.OnRunCustomEffect,
	}
}

type options struct {
	clock    clock.Clock
	clip     clipboard.Clipboard
	delay    time.Duration
	tick     time.Duration
	confirm  time.Duration
	onChange func()
}

// Option configures a Terminal.
type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithClipboard(cb clipboard.Clipboard) Option {
	return func(o *options) { o.clip = cb }
}

// WithTiming overrides the run delay and reveal tick. Zero keeps the default.
func WithTiming(delay, tick time.Duration) Option {
	return func(o *options) {
		if delay > 0 {
			o.delay = delay
		}
		if tick > 0 {
			o.tick = tick
		}
	}
}

// WithConfirmWindow sets the copy confirmation window of the embedded panel.
func WithConfirmWindow(d time.Duration) Option {
	return func(o *options) { o.confirm = d }
}

// WithOnChange registers a callback invoked after every visible state change.
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

// Terminal is a simulated command execution. It moves
// Idle -> Pending -> Revealing -> Idle; the Revealing phase only occurs for
// the text-adventure effect.
type Terminal struct {
	spec     Spec
	output   []rune
	panel    *codepanel.Panel
	clock    clock.Clock
	delay    time.Duration
	tick     time.Duration
	onChange func()

	mu       sync.Mutex
	phase    Phase
	revealed int
	gen      uint64
	timer    clock.Timer
	closed   bool
}

// New creates a terminal. An empty language defaults to bash.
func New(spec Spec, opts ...Option) *Terminal {
	o := options{
		clock: clock.New(),
		clip:  clipboard.None,
		delay: DefaultRunDelay,
		tick:  DefaultRevealTick,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if spec.Language == "" {
		spec.Language = lessonview.DefaultTerminalLanguage
	}

	t := &Terminal{
		spec:     spec,
		output:   []rune(spec.Output),
		clock:    o.clock,
		delay:    o.delay,
		tick:     o.tick,
		onChange: o.onChange,
	}
	t.panel = codepanel.New(spec.Command, spec.Language,
		codepanel.WithRunner(t),
		codepanel.WithClipboard(o.clip),
		codepanel.WithClock(o.clock),
		codepanel.WithConfirmWindow(o.confirm),
		codepanel.WithOnChange(o.onChange),
	)
	return t
}

// Panel returns the embedded code panel.
func (t *Terminal) Panel() *codepanel.Panel { return t.panel }

// Copy copies the command through the embedded panel.
func (t *Terminal) Copy(ctx context.Context) error { return t.panel.Copy(ctx) }

// Phase returns the current run phase.
func (t *Terminal) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// IsRunning reports whether a run is pending or revealing.
func (t *Terminal) IsRunning() bool {
	return t.Phase() != PhaseIdle
}

// RawOutput returns the revealed prefix of the configured output, untrimmed.
func (t *Terminal) RawOutput() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.output[:t.revealed])
}

// Output returns the revealed output as displayed.
func (t *Terminal) Output() string {
	return strings.TrimSpace(t.RawOutput())
}

// Run starts a run. It returns false, doing nothing, while a run is in
// progress or after Close. Previous output is discarded and the custom
// effect hook runs before the reveal is scheduled.
func (t *Terminal) Run() bool {
	t.mu.Lock()
	if t.closed || t.phase != PhaseIdle {
		t.mu.Unlock()
		return false
	}
	t.gen++
	gen := t.gen
	t.phase = PhasePending
	t.revealed = 0
	t.mu.Unlock()

	metrics.TerminalRuns.WithLabelValues(effectLabel(t.spec.EffectID)).Inc()
	t.runHook()

	t.mu.Lock()
	if !t.closed && t.gen == gen {
		t.timer = t.clock.AfterFunc(t.delay, func() { t.reveal(gen) })
	}
	t.mu.Unlock()

	t.notify()
	return true
}

func (t *Terminal) runHook() {
	if t.spec.OnRun == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Terminal] Custom effect hook panicked: %v", r)
		}
	}()
	t.spec.OnRun()
}

// reveal ends the pending phase.
func (t *Terminal) reveal(gen uint64) {
	if t.spec.EffectID == lessonview.EffectTextAdventure {
		t.step(gen)
		return
	}

	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.revealed = len(t.output)
	t.phase = PhaseIdle
	t.timer = nil
	t.mu.Unlock()

	t.notify()
}

// step reveals one more character and schedules the next.
func (t *Terminal) step(gen uint64) {
	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		return
	}
	if t.revealed < len(t.output) {
		t.revealed++
	}
	if t.revealed >= len(t.output) {
		t.phase = PhaseIdle
		t.timer = nil
	} else {
		t.phase = PhaseRevealing
		t.timer = t.clock.AfterFunc(t.tick, func() { t.step(gen) })
	}
	t.mu.Unlock()

	t.notify()
}

// Close cancels any scheduled reveal and the panel's confirmation timer.
// Callbacks already in flight become no-ops.
func (t *Terminal) Close() {
	t.mu.Lock()
	t.closed = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.panel.Close()
}

func (t *Terminal) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}

var terminalTemplate = template.Must(template.New("terminal").Parse(`<div class="lv-terminal" data-phase="{{.Phase}}">
{{.Panel}}
{{- if .Output}}
<pre class="lv-terminal-output">{{.Output}}</pre>
{{- end}}
</div>`))

// Render returns the terminal markup for its current state.
func (t *Terminal) Render() template.HTML {
	t.mu.Lock()
	data := struct {
		Phase  string
		Output string
		Panel  template.HTML
	}{
		Phase:  t.phase.String(),
		Output: strings.TrimSpace(string(t.output[:t.revealed])),
	}
	t.mu.Unlock()
	data.Panel = t.panel.Render()

	var buf bytes.Buffer
	if err := terminalTemplate.Execute(&buf, data); err != nil {
		log.Printf("[Terminal] Failed to render terminal: %v", err)
		return ""
	}
	return template.HTML(buf.String())
}

func effectLabel(effect string) string {
	if effect == "" {
		return "none"
	}
	if effect == lessonview.EffectTextAdventure {
		return effect
	}
	return "other"
}
