// Package segment turns a speaker's stream of raw PCM frames into discrete
// utterances.
//
// A [Segmenter] serves one session. Every speaker gets a dedicated goroutine
// that owns that speaker's [Buffer] and runs a small state machine:
//
//	Idle --start/frame--> Accumulating --stop--> Flushing --> Idle
//
// Signals reach the goroutine over a per-speaker channel, so a flush (resample
// plus voice gate) for one speaker never delays accumulation for another. On
// flush the fragments are concatenated, resampled to the target format and
// passed through the voice gate; audible audio becomes a [types.Utterance]
// handed to the OnUtterance callback.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// State is the lifecycle state of one speaker.
type State int32

const (
	// StateIdle means no audio is buffered.
	StateIdle State = iota

	// StateAccumulating means frames are being appended to the buffer.
	StateAccumulating

	// StateFlushing means the buffer is being converted into an utterance.
	StateFlushing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrClosed is returned by signal methods after [Segmenter.Close].
var ErrClosed = errors.New("segment: segmenter closed")

// signalQueue is the per-speaker signal channel capacity. At 20 ms per frame
// this holds about five seconds of audio.
const signalQueue = 256

// Config configures a [Segmenter].
type Config struct {
	// SessionID is stamped onto every utterance.
	SessionID string

	// Source is the format of incoming frames. Defaults to
	// [audio.DiscordFormat].
	Source audio.Format

	// Target is the utterance format. Defaults to [audio.CanonicalFormat].
	Target audio.Format

	// Gate filters silent flushes.
	Gate audio.VoiceGate

	// MaxUtterance forces a flush once this much raw audio is buffered. The
	// speaker keeps accumulating afterwards. Zero disables the limit.
	MaxUtterance time.Duration

	// SourceLanguage is the declared spoken language; empty for auto-detect.
	SourceLanguage string

	// TargetLanguage is read at every flush. Required.
	TargetLanguage func() string

	// OnUtterance receives every accepted utterance. It runs on the speaker's
	// goroutine and must not block for long. Required.
	OnUtterance func(types.Utterance)

	// OnError receives flush failures. Optional; failures are always logged.
	OnError func(speakerID string, err error)

	// Metrics records flush outcomes. Optional.
	Metrics *observe.Metrics

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Segmenter manages the per-speaker state machines of one session. All
// methods are safe for concurrent use.
type Segmenter struct {
	cfg Config

	mu       sync.Mutex
	speakers map[string]*speaker
	closed   bool

	wg sync.WaitGroup
}

// New validates cfg and returns a Segmenter.
func New(cfg Config) (*Segmenter, error) {
	if cfg.TargetLanguage == nil {
		return nil, errors.New("segment: TargetLanguage is required")
	}
	if cfg.OnUtterance == nil {
		return nil, errors.New("segment: OnUtterance is required")
	}
	if cfg.Source == (audio.Format{}) {
		cfg.Source = audio.DiscordFormat
	}
	if cfg.Target == (audio.Format{}) {
		cfg.Target = audio.CanonicalFormat
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Segmenter{
		cfg:      cfg,
		speakers: make(map[string]*speaker),
	}, nil
}

type signalKind int

const (
	sigStart signalKind = iota
	sigFrame
	sigStop
)

type signal struct {
	kind signalKind
	name string
	pcm  []byte
}

// speaker is the goroutine-owned state of one (session, speaker) pair.
type speaker struct {
	id      string
	signals chan signal
	quit    chan bool // true discards buffered audio
	done    chan struct{}
	state   atomic.Int32
}

// Start signals that speakerID began speaking. displayName is recorded on
// the buffer and refreshed on every start.
func (s *Segmenter) Start(speakerID, displayName string) error {
	return s.send(speakerID, signal{kind: sigStart, name: displayName})
}

// Frame appends one raw PCM frame in the source format. A frame for an idle
// speaker starts accumulation implicitly. pcm is read asynchronously and must
// not be modified after the call.
func (s *Segmenter) Frame(speakerID string, pcm []byte) error {
	return s.send(speakerID, signal{kind: sigFrame, pcm: pcm})
}

// Stop signals that speakerID stopped speaking; the buffered audio is
// flushed. Stopping an idle speaker does nothing.
func (s *Segmenter) Stop(speakerID string) error {
	return s.send(speakerID, signal{kind: sigStop})
}

// State returns the current state of speakerID. Unknown speakers are idle.
func (s *Segmenter) State(speakerID string) State {
	s.mu.Lock()
	sp, ok := s.speakers[speakerID]
	s.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return State(sp.state.Load())
}

// Speakers returns the number of speaker goroutines.
func (s *Segmenter) Speakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// Close stops every speaker goroutine and waits for them to exit. With
// discard set, buffered audio is dropped; otherwise each non-empty buffer is
// flushed first. Signals already queued are processed before the goroutine
// exits. Close is idempotent.
func (s *Segmenter) Close(discard bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	speakers := s.speakers
	s.speakers = make(map[string]*speaker)
	s.mu.Unlock()

	for _, sp := range speakers {
		sp.quit <- discard
	}
	s.wg.Wait()
}

// send routes sig to the speaker's goroutine, creating it on first use.
func (s *Segmenter) send(speakerID string, sig signal) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sp, ok := s.speakers[speakerID]
	if !ok {
		sp = &speaker{
			id:      speakerID,
			signals: make(chan signal, signalQueue),
			quit:    make(chan bool, 1),
			done:    make(chan struct{}),
		}
		s.speakers[speakerID] = sp
		s.wg.Add(1)
		go s.run(sp)
	}
	s.mu.Unlock()

	select {
	case sp.signals <- sig:
		return nil
	case <-sp.done:
		return ErrClosed
	}
}

// run is the speaker's state machine. It owns buf exclusively.
func (s *Segmenter) run(sp *speaker) {
	defer s.wg.Done()
	defer close(sp.done)
	buf := NewBuffer(sp.id, "")

	for {
		select {
		case sig := <-sp.signals:
			s.handle(sp, buf, sig)
		case discard := <-sp.quit:
			s.drain(sp, buf)
			if discard {
				if !buf.Empty() {
					slog.Debug("segment: discarding partial utterance",
						"session_id", s.cfg.SessionID,
						"speaker_id", sp.id,
						"bytes", buf.Size(),
					)
				}
				buf.Reset()
			} else {
				s.flush(sp, buf)
			}
			sp.state.Store(int32(StateIdle))
			return
		}
	}
}

// drain handles every signal already queued.
func (s *Segmenter) drain(sp *speaker, buf *Buffer) {
	for {
		select {
		case sig := <-sp.signals:
			s.handle(sp, buf, sig)
		default:
			return
		}
	}
}

func (s *Segmenter) handle(sp *speaker, buf *Buffer, sig signal) {
	switch sig.kind {
	case sigStart:
		if sig.name != "" {
			buf.DisplayName = sig.name
		}
		sp.state.Store(int32(StateAccumulating))

	case sigFrame:
		if len(sig.pcm) == 0 {
			return
		}
		sp.state.Store(int32(StateAccumulating))
		buf.Append(sig.pcm)
		if s.cfg.MaxUtterance > 0 && s.cfg.Source.Duration(buf.Size()) >= s.cfg.MaxUtterance {
			slog.Debug("segment: max utterance reached, flushing early",
				"session_id", s.cfg.SessionID,
				"speaker_id", sp.id,
			)
			s.flush(sp, buf)
			sp.state.Store(int32(StateAccumulating))
		}

	case sigStop:
		s.flush(sp, buf)
	}
}

// flush converts the buffered audio into an utterance. The buffer is always
// cleared and the speaker is left idle.
func (s *Segmenter) flush(sp *speaker, buf *Buffer) {
	sp.state.Store(int32(StateFlushing))
	defer sp.state.Store(int32(StateIdle))

	raw := buf.Drain()
	if len(raw) == 0 {
		return
	}
	ctx := context.Background()

	pcm, err := audio.Resample(raw, s.cfg.Source, s.cfg.Target)
	if err != nil {
		s.fail(ctx, sp.id, fmt.Errorf("segment: flush: %w", err))
		return
	}
	if !s.cfg.Gate.HasVoiceActivity(pcm) {
		slog.Debug("segment: no voice activity, utterance dropped",
			"session_id", s.cfg.SessionID,
			"speaker_id", sp.id,
		)
		s.record(ctx, observe.OutcomeSilent)
		return
	}

	u, err := types.NewUtterance(s.cfg.SessionID, sp.id, buf.DisplayName, pcm,
		s.cfg.Now(), s.cfg.SourceLanguage, s.cfg.TargetLanguage())
	if err != nil {
		// Resampling can shrink a sub-frame buffer to nothing.
		s.fail(ctx, sp.id, types.NewError(types.KindAudioProcessing, "flush", err))
		return
	}
	s.record(ctx, observe.OutcomeDispatched)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.UtteranceAudio.Record(ctx, u.Duration().Seconds())
	}
	s.cfg.OnUtterance(u)
}

func (s *Segmenter) fail(ctx context.Context, speakerID string, err error) {
	slog.Warn("segment: utterance dropped",
		"session_id", s.cfg.SessionID,
		"speaker_id", speakerID,
		"err", err,
	)
	s.record(ctx, observe.OutcomeError)
	if s.cfg.OnError != nil {
		s.cfg.OnError(speakerID, err)
	}
}

func (s *Segmenter) record(ctx context.Context, outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordUtterance(ctx, outcome)
	}
}
