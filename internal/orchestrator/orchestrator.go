// Package orchestrator runs the turn-taking loop of a spoken conversation.
//
// An [Orchestrator] consumes speech boundary events from a segmenter, sends
// each finished utterance to a speech-to-text provider, appends the transcript
// to a bounded [session.ContextManager], streams a reply from a language model
// and plays it through a text-to-speech provider while generation is still
// running.
//
// All state transitions and every mutation of the conversation history happen
// on the goroutine that called [Orchestrator.Run]. Provider calls run on
// worker goroutines that report back over a channel; their results are tagged
// with the turn they belong to, so output of a cancelled turn is ignored.
//
// When the user starts speaking while a reply is being generated or played
// (barge-in), the reply's context is cancelled, playback stops immediately and
// the loop goes back to listening without losing the new utterance.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// DefaultTranscribeTimeout bounds a single transcription call.
	DefaultTranscribeTimeout = 15 * time.Second

	// DefaultGenerateTimeout bounds a single reply generation.
	DefaultGenerateTimeout = 60 * time.Second

	// DefaultMaxPending is how many finished utterances may wait while a
	// transcription is running.
	DefaultMaxPending = 4

	// DefaultEchoWindow is how long after a reply a transcript is compared
	// against it for echo suppression.
	DefaultEchoWindow = 3 * time.Second
)

// TurnRecorder receives every committed turn. Record is called on the loop
// goroutine and must not block.
type TurnRecorder interface {
	Record(turn session.Turn)
}

// Config holds the collaborators and tunables of an [Orchestrator].
type Config struct {
	// STT transcribes finished utterances. Required.
	STT stt.Provider

	// LLM generates replies. Required.
	LLM llm.Provider

	// TTS synthesises replies. Required unless DisableSpeech is set.
	TTS tts.Provider

	// Player plays synthesised speech. Required unless DisableSpeech is set.
	Player *playback.Player

	// History is the conversation context. Required.
	History *session.ContextManager

	// Voice is passed to every synthesis call.
	Voice tts.VoiceProfile

	// DisableSpeech prints replies to Output instead of speaking them.
	DisableSpeech bool

	// DisableBargeIn ignores user speech while a reply is in flight.
	DisableBargeIn bool

	// InterruptPolicy decides whether an interrupted reply is committed.
	// Default: [Discard].
	InterruptPolicy InterruptPolicy

	// Chunking decides when reply text is handed to the synthesiser.
	// Default: [speech.Sentence].
	Chunking speech.Mode

	// Language is an optional BCP-47 hint for transcription.
	Language string

	// Temperature and MaxTokens are forwarded to the language model.
	Temperature float64
	MaxTokens   int

	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration

	// MaxPending caps utterances queued behind a running transcription. The
	// oldest is dropped when the queue is full.
	MaxPending int

	// EchoFilter, if set, drops transcripts that repeat the reply that was
	// just played.
	EchoFilter *transcript.EchoFilter
	EchoWindow time.Duration

	// Journal, if set, receives every committed turn.
	Journal TurnRecorder

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Output receives replies when speech is disabled. Default: os.Stdout.
	Output io.Writer

	// OnTransition, if set, is called on the loop goroutine after every state
	// change. It must not block.
	OnTransition func(from, to State)
}

func (c *Config) validate() error {
	var errs []error
	if c.STT == nil {
		errs = append(errs, errors.New("orchestrator: STT provider is required"))
	}
	if c.LLM == nil {
		errs = append(errs, errors.New("orchestrator: LLM provider is required"))
	}
	if c.History == nil {
		errs = append(errs, errors.New("orchestrator: history is required"))
	}
	if !c.DisableSpeech {
		if c.TTS == nil {
			errs = append(errs, errors.New("orchestrator: TTS provider is required when speech is enabled"))
		}
		if c.Player == nil {
			errs = append(errs, errors.New("orchestrator: player is required when speech is enabled"))
		}
	}
	switch c.InterruptPolicy {
	case "", Discard, CommitPartial:
	default:
		errs = append(errs, fmt.Errorf("orchestrator: unknown interrupt policy %q", c.InterruptPolicy))
	}
	if c.Chunking != "" {
		if _, err := speech.ParseMode(string(c.Chunking)); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.InterruptPolicy == "" {
		c.InterruptPolicy = Discard
	}
	if c.Chunking == "" {
		c.Chunking = speech.Sentence
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = DefaultGenerateTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.EchoWindow <= 0 {
		c.EchoWindow = DefaultEchoWindow
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
}

// Orchestrator drives one conversation. Create it with [New] and start it
// with [Orchestrator.Run]. The accessor and command methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg     Config
	metrics *observe.Metrics

	state   atomic.Int32
	started atomic.Bool

	results  chan result
	cmds     chan command
	stopping chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	// Owned by the loop goroutine.
	runCtx      context.Context
	cur         *turn
	pending     []*segment.Segment
	speaking    bool // the user is mid-utterance
	nextID      uint64
	lastReply   string
	lastReplyAt time.Time
}

// New validates cfg and creates an [Orchestrator] in the [Idle] state.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		results:  make(chan result),
		cmds:     make(chan command),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Running reports whether [Orchestrator.Run] is active.
func (o *Orchestrator) Running() bool {
	if !o.started.Load() {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed once [Orchestrator.Run] has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// History returns the conversation context. Read it through its own methods;
// mutate it only through the orchestrator's commands.
func (o *Orchestrator) History() *session.ContextManager {
	return o.cfg.History
}

// Run consumes segmenter events until ctx is cancelled or events is closed
// and the turn in progress has finished. Only SpeechStarted and SpeechEnded
// events are acted upon. Run returns nil on a normal stop; every provider
// failure is handled inside the loop. Run may be called only once.
func (o *Orchestrator) Run(ctx context.Context, events <-chan segment.Event) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.runCtx = ctx
	defer o.shutdown()

	slog.Info("orchestrator: listening",
		"context_turns", o.cfg.History.MaxTurns(),
		"speech", !o.cfg.DisableSpeech,
		"barge_in", !o.cfg.DisableBargeIn,
		"chunking", o.cfg.Chunking,
	)
	o.transition(Listening)

	for {
		if events == nil && o.cur == nil && len(o.pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			o.handleEvent(ev)
		case r := <-o.results:
			o.handleResult(r)
		case c := <-o.cmds:
			c.fn()
			close(c.done)
		}
	}
}

func (o *Orchestrator) shutdown() {
	if t := o.cur; t != nil {
		t.cancel()
		if o.cfg.Player != nil {
			o.cfg.Player.Interrupt(audio.Shutdown)
		}
		t.span.End()
		o.cur = nil
	}
	close(o.stopping)
	o.wg.Wait()
	o.pending = nil
	o.transition(Idle)
	close(o.done)
	slog.Info("orchestrator: stopped")
}

func (o *Orchestrator) handleEvent(ev segment.Event) {
	switch ev.Type {
	case segment.SpeechStarted:
		o.speaking = true
		if o.State().replying() && !o.cfg.DisableBargeIn {
			o.bargeIn()
		}
	case segment.SpeechEnded:
		o.speaking = false
		seg := ev.Segment
		if seg == nil || len(seg.Audio) == 0 {
			return
		}
		switch st := o.State(); {
		case st == Listening:
			o.startTurn(seg)
		case st == Transcribing:
			o.enqueue(seg)
		case st.replying():
			if o.cfg.DisableBargeIn {
				slog.Debug("orchestrator: ignoring speech during reply", "duration", seg.Duration())
				return
			}
			// SpeechStarted was lost, so the reply is still in flight.
			o.bargeIn()
			o.startTurn(seg)
		}
	}
}

// enqueue holds seg until the running transcription completes, dropping the
// oldest waiting utterance when the queue is full.
func (o *Orchestrator) enqueue(seg *segment.Segment) {
	if len(o.pending) >= o.cfg.MaxPending {
		slog.Warn("orchestrator: too many pending utterances, dropping oldest", "max", o.cfg.MaxPending)
		o.pending = o.pending[1:]
	}
	o.pending = append(o.pending, seg)
}

func (o *Orchestrator) startTurn(seg *segment.Segment) {
	o.nextID++
	ctx, cancel := context.WithCancel(o.runCtx)
	ctx, span := observe.StartTurn(ctx, o.nextID)
	t := &turn{
		id:     o.nextID,
		ctx:    ctx,
		cancel: cancel,
		span:   span,
		seg:    seg,
		heard:  time.Now(),
	}
	o.cur = t
	o.transition(Transcribing)

	o.wg.Add(1)
	go o.transcribe(t)
}

// endTurn closes the current turn and moves on to the next waiting utterance,
// if any.
func (o *Orchestrator) endTurn() {
	t := o.cur
	if t == nil {
		return
	}
	t.cancel()
	t.span.End()
	if reply := strings.TrimSpace(t.reply.String()); reply != "" {
		o.lastReply = reply
		o.lastReplyAt = time.Now()
	}
	o.cur = nil
	o.transition(Listening)

	if len(o.pending) > 0 {
		seg := o.pending[0]
		o.pending = o.pending[1:]
		o.startTurn(seg)
	}
}

func (o *Orchestrator) bargeIn() {
	t := o.cur
	if t == nil {
		return
	}
	o.metrics.BargeIns.Add(t.ctx, 1)
	observe.Logger(t.ctx).Debug("orchestrator: barge-in", "turn", t.id, "state", o.State())
	t.span.AddEvent("barge-in")

	t.cancel()
	if o.cfg.Player != nil {
		o.cfg.Player.Interrupt(audio.BargeIn)
	}
	if o.cfg.InterruptPolicy == CommitPartial && !t.generated {
		if text := strings.TrimSpace(t.reply.String()); text != "" {
			o.commit(t.ctx, session.Assistant, text)
		}
	}
	o.endTurn()
}

func (o *Orchestrator) handleResult(r result) {
	t := o.cur
	if t == nil || r.turn != t.id {
		return
	}
	switch r.kind {
	case resultTranscribed:
		o.onTranscribed(t, r)
	case resultToken:
		o.onToken(t, r)
	case resultGenerated:
		o.onGenerated(t, r)
	case resultSpoken:
		o.onSpoken(t, r)
	}
}

func (o *Orchestrator) onTranscribed(t *turn, r result) {
	log := observe.Logger(t.ctx)
	if r.err != nil {
		err := &TranscriptionError{Turn: t.id, Err: r.err}
		log.Warn("orchestrator: dropping utterance", "err", err)
		o.metrics.RecordStageError(t.ctx, observe.StageTranscribe)
		o.endTurn()
		return
	}

	text := strings.TrimSpace(r.text)
	if text == "" {
		log.Debug("orchestrator: empty transcript", "turn", t.id)
		o.endTurn()
		return
	}
	if o.isEcho(text) {
		log.Debug("orchestrator: suppressed echo of last reply", "turn", t.id, "text", text)
		o.metrics.EchoesSuppressed.Add(t.ctx, 1)
		o.endTurn()
		return
	}

	log.Info("orchestrator: heard", "turn", t.id, "text", text)
	o.commit(t.ctx, session.User, text)

	// The user kept talking. Answer only the last of their utterances.
	if len(o.pending) > 0 || o.speaking {
		log.Debug("orchestrator: user still speaking, deferring reply", "turn", t.id, "pending", len(o.pending))
		o.endTurn()
		return
	}
	o.generate(t)
}

func (o *Orchestrator) isEcho(text string) bool {
	if o.cfg.EchoFilter == nil || o.lastReply == "" {
		return false
	}
	if time.Since(o.lastReplyAt) > o.cfg.EchoWindow {
		return false
	}
	return o.cfg.EchoFilter.IsEcho(text, o.lastReply)
}

func (o *Orchestrator) generate(t *turn) {
	o.transition(Generating)
	prompt := o.cfg.History.Render()
	tokens := session.EstimateTokens(prompt)
	t.span.SetAttributes(attribute.Int("prompt.tokens", tokens))
	observe.Logger(t.ctx).Debug("orchestrator: generating", "turn", t.id, "prompt_tokens", tokens)
	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
	o.wg.Add(1)
	go o.reply(t, req)
}

func (o *Orchestrator) onToken(t *turn, r result) {
	t.reply.WriteString(r.text)
	if o.State() == Generating {
		o.transition(Speaking)
	}
}

func (o *Orchestrator) onGenerated(t *turn, r result) {
	log := observe.Logger(t.ctx)
	t.generated = true
	text := strings.TrimSpace(t.reply.String())

	if r.err != nil {
		err := &GenerationError{Turn: t.id, Err: r.err}
		o.metrics.RecordStageError(t.ctx, observe.StageGenerate)
		if text == "" {
			log.Warn("orchestrator: no reply", "err", err)
			o.endTurn()
			return
		}
		log.Warn("orchestrator: reply cut short, keeping partial text", "err", err, "chars", len(text))
	}
	if text == "" {
		log.Debug("orchestrator: empty reply", "turn", t.id)
		o.endTurn()
		return
	}

	o.commit(t.ctx, session.Assistant, text)
	if o.cfg.DisableSpeech {
		fmt.Fprintf(o.cfg.Output, "Assistant: %s\n", text)
		o.endTurn()
	}
	// Otherwise the turn ends when playback reports back.
}

func (o *Orchestrator) onSpoken(t *turn, r result) {
	if err := r.err; err != nil && !errors.Is(err, ErrInterrupted) && !errors.Is(err, context.Canceled) {
		serr := &SynthesisError{Turn: t.id, Err: err}
		observe.Logger(t.ctx).Warn("orchestrator: playback failed", "err", serr)
		o.metrics.RecordStageError(t.ctx, observe.StageSynthesize)
	}
	o.endTurn()
}

func (o *Orchestrator) commit(ctx context.Context, speaker session.Speaker, text string) {
	turn := session.Turn{Speaker: speaker, Text: text, Timestamp: time.Now()}
	o.cfg.History.Append(turn)
	o.metrics.RecordTurn(ctx, speaker.String())
	o.metrics.ContextTurns.Record(ctx, int64(o.cfg.History.Len()))
	if o.cfg.Journal != nil {
		o.cfg.Journal.Record(turn)
	}
}

func (o *Orchestrator) transition(to State) {
	from := State(o.state.Swap(int32(to)))
	if from == to {
		return
	}
	o.metrics.RecordTransition(context.Background(), from.String(), to.String())
	slog.Debug("orchestrator: state", "from", from, "to", to)
	if o.cfg.OnTransition != nil {
		o.cfg.OnTransition(from, to)
	}
}

// post hands a worker result to the loop. It gives up once the loop is
// shutting down.
func (o *Orchestrator) post(r result) {
	select {
	case o.results <- r:
	case <-o.stopping:
	}
}

// SetPreamble replaces the personality preamble. The change applies from the
// next generated reply on.
func (o *Orchestrator) SetPreamble(ctx context.Context, preamble string) error {
	return o.exec(ctx, func() { o.cfg.History.SetPreamble(preamble) })
}

// ClearHistory forgets every turn but keeps the preamble.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	return o.exec(ctx, func() {
		o.cfg.History.Clear()
		o.lastReply = ""
	})
}

type command struct {
	fn   func()
	done chan struct{}
}

// exec runs fn on the loop goroutine, or directly when the loop is not
// running.
func (o *Orchestrator) exec(ctx context.Context, fn func()) error {
	if !o.started.Load() {
		fn()
		return nil
	}
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case o.cmds <- c:
	case <-o.done:
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
