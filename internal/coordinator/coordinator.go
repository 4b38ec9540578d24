// Package coordinator drives a live spoken interview: it alternates agent
// and human turns over the capture and speech adapters and records the
// resulting transcript.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interview/internal/capture"
	"github.com/loqalabs/loqa-interview/internal/dialogue"
	"github.com/loqalabs/loqa-interview/internal/notify"
	"github.com/loqalabs/loqa-interview/internal/silence"
	"github.com/loqalabs/loqa-interview/internal/speech"
	"github.com/loqalabs/loqa-interview/internal/transcript"
)

// ErrClosed is returned by intents issued after Close.
var ErrClosed = errors.New("coordinator: closed")

// Config holds the per-session turn-taking settings.
type Config struct {
	Locale string
	// SilenceTimeout is the quiet interval that ends a human turn.
	SilenceTimeout time.Duration
	// ListenWindow is how long to wait for any speech before nudging.
	ListenWindow time.Duration
	// OpeningText is spoken first; when empty the generator writes the
	// opening turn.
	OpeningText       string
	NudgeText         string
	FallbackText      string
	GenerationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 2 * time.Second
	}
	if c.ListenWindow <= 0 {
		c.ListenWindow = 10 * time.Second
	}
	if c.NudgeText == "" {
		c.NudgeText = "È ancora lì? Se vuole, possiamo continuare."
	}
	if c.FallbackText == "" {
		c.FallbackText = "Errore durante la richiesta."
	}
	return c
}

// NotificationKind classifies coordinator notifications.
type NotificationKind string

const (
	StateChanged   NotificationKind = "state"
	UtteranceAdded NotificationKind = "utterance"
	AdapterError   NotificationKind = "error"
)

// Notification is delivered to subscribers after every state change,
// appended utterance and absorbed adapter error.
type Notification struct {
	Session   string
	Kind      NotificationKind
	State     State
	Previous  State
	Utterance *transcript.Utterance
	Err       string
	At        time.Time
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	ID         string
	State      State
	Transcript transcript.Transcript
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithScheduler replaces the timer source of both silence detectors.
func WithScheduler(s silence.Scheduler) Option {
	return func(c *Coordinator) { c.sched = s }
}

// WithClock replaces the clock used when adapters omit timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithID sets the session identifier carried by notifications.
func WithID(id string) Option {
	return func(c *Coordinator) { c.id = id }
}

// Coordinator owns the turn-taking state machine and the transcript of one
// session. All state is mutated on a single goroutine; callers interact
// through intents and subscriptions.
type Coordinator struct {
	id      string
	cfg     Config
	capture capture.Adapter
	speech  speech.Adapter
	gen     dialogue.Generator
	logger  *slog.Logger
	sched   silence.Scheduler
	now     func() time.Time
	inst    instruments

	silence *silence.Detector
	window  *silence.Detector

	events    chan event
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	unsubs    []func()
	wg        sync.WaitGroup
	baseCtx   context.Context
	cancel    context.CancelFunc

	hub notify.Hub[Notification]

	mu         sync.RWMutex
	state      State
	transcript transcript.Transcript

	// owned by the loop goroutine
	pending      *transcript.Utterance
	agent        *agentTurn
	listening    bool
	silenceCycle uint64
	windowCycle  uint64
	genSeq       uint64
	genCancel    context.CancelFunc
}

type agentTurn struct {
	text      string
	synthetic bool
	requestID string
	requested time.Time
	start     time.Time
	started   bool
}

type intentKind int

const (
	intentStart intentKind = iota
	intentPause
	intentResume
	intentConclude
	intentText
	intentFlush
)

type event any

type captureEvent struct{ capture.Event }

type speechEvent struct{ speech.Event }

type silenceFired struct{ cycle uint64 }

type windowFired struct{ cycle uint64 }

type generated struct {
	seq  uint64
	text string
	err  error
}

type intent struct {
	kind intentKind
	text string
	done chan error
}

// New wires the adapters and starts the event loop. The session begins in
// Idle; call StartSession to speak the opening turn.
func New(cfg Config, capt capture.Adapter, spk speech.Adapter, gen dialogue.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg.withDefaults(),
		capture:  capt,
		speech:   spk,
		gen:      gen,
		logger:   slog.Default(),
		sched:    silence.SystemScheduler,
		now:      time.Now,
		events:   make(chan event, 64),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "coordinator"), slog.String("session_id", c.id))
	c.inst = newInstruments(c.logger)
	c.baseCtx, c.cancel = context.WithCancel(context.Background())

	c.silence = silence.New(c.cfg.SilenceTimeout, c.sched, func(cycle uint64) { c.post(silenceFired{cycle}) })
	c.window = silence.New(c.cfg.ListenWindow, c.sched, func(cycle uint64) { c.post(windowFired{cycle}) })

	c.unsubs = append(c.unsubs,
		capt.Subscribe(func(e capture.Event) { c.post(captureEvent{e}) }),
		spk.Subscribe(func(e speech.Event) { c.post(speechEvent{e}) }),
	)

	go c.run()
	return c
}

func (c *Coordinator) ID() string { return c.id }

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transcript returns a copy of the finalized utterances.
func (c *Coordinator) Transcript() transcript.Transcript {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transcript.Clone()
}

// Snapshot returns state and transcript read atomically.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{ID: c.id, State: c.state, Transcript: c.transcript.Clone()}
}

// Subscribe registers fn for notifications. fn runs on the coordinator
// goroutine and must not block or call intents.
func (c *Coordinator) Subscribe(fn func(Notification)) func() {
	return c.hub.Subscribe(fn)
}

// StartSession speaks the opening turn. It is a no-op unless Idle.
func (c *Coordinator) StartSession(ctx context.Context) error {
	return c.request(ctx, intentStart, "")
}

// Pause stops listening without finalizing the pending turn. It is a no-op
// unless ListeningForHuman.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.request(ctx, intentPause, "")
}

// Resume re-opens capture. It is a no-op unless Paused.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.request(ctx, intentResume, "")
}

// Conclude ends the session. Later adapter events and generator replies
// are discarded.
func (c *Coordinator) Conclude(ctx context.Context) error {
	return c.request(ctx, intentConclude, "")
}

// SubmitText records a typed human turn as if it had been spoken now. It is
// a no-op unless ListeningForHuman.
func (c *Coordinator) SubmitText(ctx context.Context, text string) error {
	return c.request(ctx, intentText, text)
}

// Close stops the loop, detaches from the adapters and waits for in-flight
// generation to return. It does not conclude the session.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		for _, unsub := range c.unsubs {
			unsub()
		}
		close(c.quit)
		<-c.loopDone
		c.cancel()
		c.wg.Wait()
	})
}

func (c *Coordinator) request(ctx context.Context, kind intentKind, text string) error {
	done := make(chan error, 1)
	select {
	case c.events <- intent{kind: kind, text: text, done: done}:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flush waits until every event queued before the call has been handled.
func (c *Coordinator) flush() error {
	return c.request(context.Background(), intentFlush, "")
}

func (c *Coordinator) post(e event) {
	select {
	case c.events <- e:
	case <-c.quit:
	}
}

func (c *Coordinator) run() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.quit:
			c.shutdown()
			return
		case e := <-c.events:
			c.handle(e)
		}
	}
}

func (c *Coordinator) handle(e event) {
	switch e := e.(type) {
	case intent:
		c.handleIntent(e)
		e.done <- nil
	case captureEvent:
		c.handleCapture(e.Event)
	case speechEvent:
		c.handleSpeech(e.Event)
	case silenceFired:
		if e.cycle == c.silenceCycle && c.current() == ListeningForHuman {
			c.endOfSpeech()
		}
	case windowFired:
		if e.cycle == c.windowCycle && c.current() == ListeningForHuman && c.pending == nil {
			c.logger.Debug("listen window elapsed without speech")
			c.nudge()
		}
	case generated:
		c.handleGenerated(e)
	}
}

func (c *Coordinator) handleIntent(in intent) {
	switch in.kind {
	case intentStart:
		if !c.transition(AgentSpeaking) {
			return
		}
		if strings.TrimSpace(c.cfg.OpeningText) != "" {
			c.speakAgent(c.cfg.OpeningText, false)
			return
		}
		c.requestTurn("")
	case intentPause:
		if c.current() != ListeningForHuman {
			return
		}
		c.cancelTimers()
		c.stopCapture()
		c.pending = nil
		c.transition(Paused)
	case intentResume:
		if c.transition(ListeningForHuman) {
			c.openListening()
		}
	case intentConclude:
		c.conclude()
	case intentText:
		text := strings.TrimSpace(in.text)
		if text == "" || c.current() != ListeningForHuman {
			return
		}
		now := transcript.Seconds(c.now())
		c.pending = &transcript.Utterance{Speaker: transcript.Human, Text: text, Start: now, End: now}
		c.finalizeHuman()
	case intentFlush:
	}
}

func (c *Coordinator) handleCapture(e capture.Event) {
	switch c.current() {
	case ListeningForHuman:
	case AgentSpeaking:
		c.bufferInterruption(e)
		return
	default:
		return
	}

	switch e.Kind {
	case capture.Partial:
		if strings.TrimSpace(e.Text) == "" {
			return
		}
		c.updatePending(e.Text, c.at(e.At))
		c.window.Cancel()
		c.silenceCycle = c.silence.Reset()
	case capture.Final:
		if strings.TrimSpace(e.Text) == "" {
			return
		}
		if c.pending == nil {
			c.updatePending(e.Text, c.at(e.At))
		} else {
			c.pending.Text = e.Text
		}
		c.finalizeHuman()
	case capture.Silence:
		c.endOfSpeech()
	case capture.Error:
		if e.NoSpeech() {
			c.endOfSpeech()
			return
		}
		c.logger.Warn("capture error",
			slog.String("code", e.Code),
			slog.String("message", e.Message))
		c.notifyError("capture: " + errorText(e.Code, e.Message))
		c.pending = nil
		c.cancelTimers()
		c.stopCapture()
		c.openListening()
	}
}

// bufferInterruption keeps speech that overlaps the agent's playback so it
// becomes the next human turn once listening opens.
func (c *Coordinator) bufferInterruption(e capture.Event) {
	if c.agent == nil || !c.agent.started {
		return
	}
	if e.Kind != capture.Partial && e.Kind != capture.Final {
		return
	}
	if strings.TrimSpace(e.Text) == "" {
		return
	}
	if e.Kind == capture.Final && c.pending != nil {
		c.pending.Text = e.Text
		return
	}
	c.updatePending(e.Text, c.at(e.At))
}

// updatePending starts the human turn at the first recognized text and
// moves its end to the latest update.
func (c *Coordinator) updatePending(text string, at time.Time) {
	ts := transcript.Seconds(at)
	if c.pending == nil {
		c.pending = &transcript.Utterance{Speaker: transcript.Human, Start: ts}
	}
	c.pending.Text = text
	c.pending.End = ts
}

func (c *Coordinator) endOfSpeech() {
	if c.pending != nil && !c.pending.Blank() {
		c.finalizeHuman()
		return
	}
	c.pending = nil
	c.nudge()
}

func (c *Coordinator) finalizeHuman() {
	u := *c.pending
	c.pending = nil
	if u.End < u.Start {
		u.End = u.Start
	}
	c.cancelTimers()
	c.stopCapture()
	c.appendUtterance(u)
	if c.transition(AgentSpeaking) {
		c.requestTurn(u.Text)
	}
}

func (c *Coordinator) nudge() {
	c.cancelTimers()
	c.stopCapture()
	if !c.transition(AgentSpeaking) {
		return
	}
	c.inst.nudge(c.baseCtx)
	c.speakAgent(c.cfg.NudgeText, true)
}

func (c *Coordinator) requestTurn(latest string) {
	c.cancelGeneration()
	c.genSeq++
	seq := c.genSeq

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.cfg.GenerationTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.baseCtx, c.cfg.GenerationTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.baseCtx)
	}
	c.genCancel = cancel
	history := c.Transcript()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		text, err := c.inst.generate(ctx, c.gen, history, latest)
		c.post(generated{seq: seq, text: text, err: err})
	}()
}

func (c *Coordinator) handleGenerated(g generated) {
	if g.seq != c.genSeq || c.current() != AgentSpeaking || c.agent != nil {
		c.logger.Debug("discarding stale generation", slog.Uint64("seq", g.seq))
		return
	}
	c.genCancel = nil
	text := strings.TrimSpace(g.text)
	if g.err != nil || text == "" {
		err := g.err
		if err == nil {
			err = dialogue.ErrGeneration
		}
		c.logger.Warn("dialogue generation failed", slog.String("error", err.Error()))
		c.notifyError("dialogue: " + err.Error())
		text = c.cfg.FallbackText
	}
	c.speakAgent(text, false)
}

func (c *Coordinator) speakAgent(text string, synthetic bool) {
	turn := &agentTurn{text: text, synthetic: synthetic, requested: c.now()}
	c.agent = turn
	id, err := c.speech.Speak(c.baseCtx, text)
	if err != nil {
		c.logger.Warn("speech synthesis failed", slog.String("error", err.Error()))
		c.notifyError("speech: " + err.Error())
		c.finishAgent(c.now())
		return
	}
	turn.requestID = id
}

func (c *Coordinator) handleSpeech(e speech.Event) {
	turn := c.agent
	if turn == nil || c.current() != AgentSpeaking {
		return
	}
	if e.RequestID != "" && turn.requestID != "" && e.RequestID != turn.requestID {
		return
	}
	if e.Kind == speech.Started {
		if !turn.started {
			turn.started = true
			turn.start = c.at(e.At)
		}
		return
	}
	if e.Kind == speech.Failed {
		c.logger.Warn("speech playback failed", slog.String("message", e.Message))
		c.notifyError("speech: " + errorText("playback", e.Message))
	}
	c.finishAgent(c.at(e.At))
}

func (c *Coordinator) finishAgent(end time.Time) {
	turn := c.agent
	c.agent = nil
	start := turn.requested
	if turn.started {
		start = turn.start
	}
	if end.Before(start) {
		end = start
	}
	c.appendUtterance(transcript.Utterance{
		Speaker:   transcript.Agent,
		Text:      turn.text,
		Start:     transcript.Seconds(start),
		End:       transcript.Seconds(end),
		Synthetic: turn.synthetic,
	})
	if c.transition(ListeningForHuman) {
		c.openListening()
	}
}

func (c *Coordinator) openListening() {
	if err := c.capture.Start(c.baseCtx, c.cfg.Locale); err != nil {
		c.logger.Warn("capture start failed", slog.String("error", err.Error()))
		c.notifyError("capture: " + err.Error())
	} else {
		c.listening = true
	}
	if c.pending != nil {
		c.silenceCycle = c.silence.Reset()
		return
	}
	c.windowCycle = c.window.Reset()
}

func (c *Coordinator) conclude() {
	if !c.transition(Concluded) {
		return
	}
	c.cancelTimers()
	c.cancelGeneration()
	c.genSeq++
	if c.agent != nil {
		c.agent = nil
		if err := c.speech.Stop(); err != nil {
			c.logger.Warn("speech stop failed", slog.String("error", err.Error()))
		}
	}
	c.stopCapture()
	c.pending = nil
}

func (c *Coordinator) shutdown() {
	c.cancelTimers()
	c.cancelGeneration()
	if c.agent != nil {
		c.agent = nil
		_ = c.speech.Stop()
	}
	c.stopCapture()
}

func (c *Coordinator) cancelTimers() {
	c.silence.Cancel()
	c.window.Cancel()
}

func (c *Coordinator) cancelGeneration() {
	if c.genCancel != nil {
		c.genCancel()
		c.genCancel = nil
	}
}

func (c *Coordinator) stopCapture() {
	if !c.listening {
		return
	}
	c.listening = false
	if err := c.capture.Stop(); err != nil {
		c.logger.Warn("capture stop failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) current() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) transition(next State) bool {
	c.mu.Lock()
	prev := c.state
	if !prev.CanTransition(next) {
		c.mu.Unlock()
		return false
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("state transition", slog.String("from", prev.String()), slog.String("to", next.String()))
	c.inst.transition(c.baseCtx, prev, next)
	c.hub.Publish(Notification{Session: c.id, Kind: StateChanged, State: next, Previous: prev, At: c.now()})
	return true
}

func (c *Coordinator) appendUtterance(u transcript.Utterance) {
	c.mu.Lock()
	c.transcript = append(c.transcript, u)
	state := c.state
	c.mu.Unlock()

	c.inst.utterance(c.baseCtx, u)
	c.hub.Publish(Notification{Session: c.id, Kind: UtteranceAdded, State: state, Previous: state, Utterance: &u, At: c.now()})
}

func (c *Coordinator) notifyError(msg string) {
	state := c.current()
	c.hub.Publish(Notification{Session: c.id, Kind: AdapterError, State: state, Previous: state, Err: msg, At: c.now()})
}

func (c *Coordinator) at(ts time.Time) time.Time {
	if ts.IsZero() {
		return c.now()
	}
	return ts
}

func errorText(code, message string) string {
	switch {
	case code == "":
		return message
	case message == "":
		return code
	default:
		return code + ": " + message
	}
}
