package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/sink"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// ErrNotActive is returned for a guild without an open session.
var ErrNotActive = errors.New("app: no active session")

// utteranceQueue is the buffer between a session's segmenter and its
// dispatcher stream.
const utteranceQueue = 64

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// Platform joins voice channels. Required.
	Platform audio.Platform

	// Registry tracks open sessions. Required.
	Registry *session.Registry

	// Dispatcher translates flushed utterances. Required.
	Dispatcher *dispatch.Dispatcher

	// Sink receives every result of a still-open session. Required.
	Sink sink.Sink

	// Source and Target are the frame and utterance formats. Zero values
	// default to [audio.DiscordFormat] and [audio.CanonicalFormat].
	Source audio.Format
	Target audio.Format

	// Gate filters silent utterances of sessions opened afterwards.
	Gate audio.VoiceGate

	// MaxUtterance forces an early flush during long speech. Zero disables.
	MaxUtterance time.Duration

	// ReconnectAttempts is how often a dropped voice connection is rejoined
	// before the session is closed. Zero closes the session on the first drop.
	ReconnectAttempts int

	// ReconnectBackoff is the initial wait between rejoin attempts.
	ReconnectBackoff time.Duration

	// Metrics is optional.
	Metrics *observe.Metrics
}

// SessionManager runs one translation pipeline per guild:
//
//	voice connection → segmenter → dispatcher stream → sink
//
// Sessions are keyed by guild ID. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu        sync.Mutex
	gate      audio.VoiceGate
	pipelines map[string]*pipeline

	// joining holds guilds whose Join is between the existence check and
	// Registry.Open. discordgo keeps one voice connection per guild, so a
	// second concurrent Join must not reach Platform.Connect.
	joining map[string]struct{}
}

// NewSessionManager validates cfg and returns a SessionManager.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	var errs []error
	if cfg.Platform == nil {
		errs = append(errs, errors.New("platform is required"))
	}
	if cfg.Registry == nil {
		errs = append(errs, errors.New("registry is required"))
	}
	if cfg.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: new session manager: %w", err)
	}
	if cfg.Source == (audio.Format{}) {
		cfg.Source = audio.DiscordFormat
	}
	if cfg.Target == (audio.Format{}) {
		cfg.Target = audio.CanonicalFormat
	}
	return &SessionManager{
		cfg:       cfg,
		gate:      cfg.Gate,
		pipelines: make(map[string]*pipeline),
		joining:   make(map[string]struct{}),
	}, nil
}

// Join connects to voiceChannelID in guildID and opens a session posting
// translations into textChannelID. Connection failures are
// [types.KindVoiceChannel] errors; a guild with an open session fails with
// [session.ErrSessionExists].
func (m *SessionManager) Join(ctx context.Context, guildID, voiceChannelID, textChannelID, targetLanguage string) (*session.Session, error) {
	if !m.reserve(guildID) {
		return nil, fmt.Errorf("app: join %q: %w", guildID, session.ErrSessionExists)
	}
	defer m.release(guildID)

	conn, err := m.cfg.Platform.Connect(ctx, guildID, voiceChannelID)
	if err != nil {
		return nil, types.NewError(types.KindVoiceChannel, "join", err)
	}

	sess, err := m.cfg.Registry.Open(guildID, textChannelID, voiceChannelID, targetLanguage)
	if err != nil {
		if derr := conn.Disconnect(); derr != nil {
			slog.Warn("app: disconnect after failed open", "guild_id", guildID, "err", derr)
		}
		return nil, fmt.Errorf("app: join: %w", err)
	}

	p, err := m.startPipeline(sess, conn)
	if err != nil {
		_ = m.cfg.Registry.Close(guildID)
		return nil, err
	}
	if err := sess.SetCloser(p.close); err != nil {
		return nil, fmt.Errorf("app: join: %w", err)
	}

	slog.Info("app: translation session started",
		"guild_id", guildID,
		"voice_channel_id", voiceChannelID,
		"text_channel_id", textChannelID,
		"target_language", targetLanguage,
	)
	return sess, nil
}

// reserve marks guildID as joining. It fails while another Join for the
// guild is in progress or a session is already open.
func (m *SessionManager) reserve(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.joining[guildID]; busy || m.cfg.Registry.Exists(guildID) {
		return false
	}
	m.joining[guildID] = struct{}{}
	return true
}

func (m *SessionManager) release(guildID string) {
	m.mu.Lock()
	delete(m.joining, guildID)
	m.mu.Unlock()
}

// Leave closes the session of guildID, discarding audio not yet flushed.
func (m *SessionManager) Leave(guildID string) error {
	if !m.cfg.Registry.Exists(guildID) {
		return ErrNotActive
	}
	return m.cfg.Registry.Close(guildID)
}

// SetTargetLanguage changes the target language of guildID's session for
// all utterances flushed afterwards. Reports whether a session exists.
func (m *SessionManager) SetTargetLanguage(guildID, lang string) bool {
	return m.cfg.Registry.SetTargetLanguage(guildID, lang)
}

// Status returns the status view of guildID's session.
func (m *SessionManager) Status(guildID string) (session.Status, bool) {
	s, ok := m.cfg.Registry.Get(guildID)
	if !ok {
		return session.Status{}, false
	}
	return s.Status(), true
}

// Stats returns the pipeline counters of guildID's session.
func (m *SessionManager) Stats(guildID string) (StatsSnapshot, bool) {
	m.mu.Lock()
	p, ok := m.pipelines[guildID]
	m.mu.Unlock()
	if !ok {
		return StatsSnapshot{}, false
	}
	return p.stats.Snapshot(), true
}

// SetGate replaces the voice gate used by sessions opened afterwards.
func (m *SessionManager) SetGate(g audio.VoiceGate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = g
}

// Active returns the number of open sessions.
func (m *SessionManager) Active() int {
	return m.cfg.Registry.Len()
}

// Shutdown closes every session.
func (m *SessionManager) Shutdown() error {
	return m.cfg.Registry.CloseAll()
}

// pipeline is the per-session plumbing behind a [session.Session].
type pipeline struct {
	m     *SessionManager
	sess  *session.Session
	seg   *segment.Segmenter
	stats *Stats

	ctx    context.Context
	cancel context.CancelFunc

	utterances chan types.Utterance

	mu   sync.Mutex
	conn audio.Connection

	// formatWarned limits the format-mismatch warning to one per session.
	formatWarned bool

	closeOnce sync.Once
	closeErr  error
}

func (m *SessionManager) startPipeline(sess *session.Session, conn audio.Connection) (*pipeline, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		m:          m,
		sess:       sess,
		stats:      NewStats(defaultStatsWindow),
		ctx:        ctx,
		cancel:     cancel,
		utterances: make(chan types.Utterance, utteranceQueue),
		conn:       conn,
	}

	seg, err := segment.New(segment.Config{
		SessionID:      sess.ID,
		Source:         m.cfg.Source,
		Target:         m.cfg.Target,
		Gate:           gate,
		MaxUtterance:   m.cfg.MaxUtterance,
		TargetLanguage: sess.TargetLanguage,
		OnUtterance:    p.enqueue,
		Metrics:        m.cfg.Metrics,
	})
	if err != nil {
		cancel()
		_ = conn.Disconnect()
		return nil, fmt.Errorf("app: start pipeline: %w", err)
	}
	p.seg = seg

	m.mu.Lock()
	m.pipelines[sess.ID] = p
	m.mu.Unlock()

	results := m.cfg.Dispatcher.Stream(ctx, p.utterances)
	go p.deliver(results)
	go p.pump(conn)
	return p, nil
}

// enqueue hands a flushed utterance to the dispatcher stream.
func (p *pipeline) enqueue(u types.Utterance) {
	select {
	case p.utterances <- u:
	case <-p.ctx.Done():
	}
}

// pump forwards transport events into the segmenter until the connection
// ends. A drop triggers reconnection or closes the session.
func (p *pipeline) pump(conn audio.Connection) {
	for {
		dropped := p.consume(conn)
		if p.ctx.Err() != nil || !dropped {
			return
		}
		next, err := p.reconnect()
		if err != nil {
			slog.Warn("app: voice connection lost, closing session",
				"guild_id", p.sess.ID, "err", err)
			if p.m.cfg.Registry.IsCurrent(p.sess) {
				if err := p.m.cfg.Registry.Close(p.sess.ID); err != nil {
					slog.Warn("app: close after drop", "guild_id", p.sess.ID, "err", err)
				}
			}
			return
		}
		p.mu.Lock()
		p.conn = next
		p.mu.Unlock()
		if p.ctx.Err() != nil {
			_ = next.Disconnect()
			return
		}
		conn = next
	}
}

// consume reads conn's events. It reports whether the connection dropped
// rather than being closed locally.
func (p *pipeline) consume(conn audio.Connection) bool {
	reg := p.m.cfg.Registry
	for ev := range conn.Events() {
		switch ev.Type {
		case audio.EventSpeakingStart:
			reg.TrackSpeakerStart(p.sess.ID, ev.SpeakerID)
			_ = p.seg.Start(ev.SpeakerID, ev.DisplayName)
		case audio.EventFrame:
			if !p.acceptFrame(ev) {
				continue
			}
			_ = p.seg.Frame(ev.SpeakerID, ev.Frame.Data)
		case audio.EventSpeakingStop:
			reg.TrackSpeakerStop(p.sess.ID, ev.SpeakerID)
			_ = p.seg.Stop(ev.SpeakerID)
		case audio.EventDisconnected:
			return true
		}
	}
	return p.ctx.Err() == nil
}

// acceptFrame reports whether ev's frame matches the segmenter's source
// format. Frames that do not declare a format are accepted.
func (p *pipeline) acceptFrame(ev audio.Event) bool {
	f := ev.Frame.Format()
	if f == (audio.Format{}) || f == p.m.cfg.Source {
		return true
	}
	if !p.formatWarned {
		p.formatWarned = true
		slog.Warn("app: dropping frames with unexpected audio format",
			"guild_id", p.sess.ID,
			"speaker_id", ev.SpeakerID,
			"frame_format", f,
			"source_format", p.m.cfg.Source,
		)
	}
	return false
}

func (p *pipeline) reconnect() (audio.Connection, error) {
	attempts := p.m.cfg.ReconnectAttempts
	if attempts <= 0 {
		return nil, errors.New("reconnection disabled")
	}
	r := session.NewReconnector(session.ReconnectorConfig{
		Platform:   p.m.cfg.Platform,
		GuildID:    p.sess.ID,
		ChannelID:  p.sess.VoiceChannelID,
		MaxRetries: attempts,
		Backoff:    p.m.cfg.ReconnectBackoff,
	})
	return r.Reconnect(p.ctx)
}

// deliver routes stream results to the sink while the session is current.
func (p *pipeline) deliver(results <-chan dispatch.StreamResult) {
	for r := range results {
		log := slog.With("guild_id", p.sess.ID, "speaker_id", r.Utterance.SpeakerID)
		if r.Err != nil {
			p.stats.RecordFailed()
			log.Warn("app: utterance not translated", "err", r.Err)
			continue
		}
		if !p.m.cfg.Registry.IsCurrent(p.sess) {
			p.stats.RecordDiscarded()
			log.Debug("app: session closed, result discarded")
			continue
		}
		p.stats.RecordDelivered(time.Since(r.Utterance.CapturedAt), r.Result.Degraded)
		if err := p.m.cfg.Sink.Deliver(p.ctx, p.sess.SinkID, r.Result); err != nil {
			log.Warn("app: delivery failed", "err", err)
		}
	}
}

// close tears the pipeline down: buffered audio is discarded, in-flight
// translations are cancelled and the voice connection is left.
func (p *pipeline) close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.seg.Close(true)
		close(p.utterances)

		p.m.mu.Lock()
		if p.m.pipelines[p.sess.ID] == p {
			delete(p.m.pipelines, p.sess.ID)
		}
		p.m.mu.Unlock()

		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if err := conn.Disconnect(); err != nil {
			p.closeErr = types.NewError(types.KindVoiceChannel, "leave", err)
		}
	})
	return p.closeErr
}
