// Package capture owns the WebSocket ingest path. A client opens a
// session, streams raw PCM16LE frames, and receives volume and voice
// activity events back while finalized segments flow into the pipeline.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxlog/capture-gateway/internal/audio"
	"github.com/voxlog/capture-gateway/internal/config"
	"github.com/voxlog/capture-gateway/internal/observability"
	"github.com/voxlog/capture-gateway/internal/pipeline"
	"github.com/voxlog/capture-gateway/internal/vad"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the web client's deploy origin is fixed
		return true
	},
	ReadBufferSize:  8192,
	WriteBufferSize: 4096,
}

// volumeInterval throttles volume_level events toward the client
const volumeInterval = 100 * time.Millisecond

// ControlMessage is a JSON text frame from the client
type ControlMessage struct {
	Type            string  `json:"type"` // start, stop, configure
	SampleRate      int     `json:"sampleRate,omitempty"`
	PreRollDuration float64 `json:"preRollDuration,omitempty"` // Seconds
}

// ServerEvent is a JSON text frame toward the client
type ServerEvent struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId,omitempty"`
	Loudness  float64 `json:"loudness,omitempty"`
	DB        float64 `json:"db,omitempty"`
	Active    bool    `json:"active,omitempty"`
	Activity  string  `json:"activity,omitempty"` // candidate, started, ended
	OffsetMs  int64   `json:"offsetMs,omitempty"`
	MessageID int64   `json:"messageId,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Session is one capture connection. All processing happens on the
// read loop goroutine, so no field needs locking.
type Session struct {
	conn     *websocket.Conn
	cfg      *config.Config
	pipeline *pipeline.Orchestrator

	sessionID string
	logger    zerolog.Logger

	sampler  *audio.Sampler
	detector *vad.Detector
	buffer   *audio.SegmentBuffer

	started        bool
	lastVolumeSent time.Time
}

// NewSession prepares a session for an upgraded connection
func NewSession(conn *websocket.Conn, cfg *config.Config, p *pipeline.Orchestrator) (*Session, error) {
	sessionID := observability.NewSessionID()

	detector, err := vad.New(vad.Config{
		ActivationThreshold: cfg.ActivationThreshold,
		ActivationDuration:  secs(cfg.ActivationDurationSec),
		SilenceDuration:     secs(cfg.SilenceDurationSec),
		MaxSegmentDuration:  secs(cfg.MaxSegmentDurationSec),
	})
	if err != nil {
		return nil, err
	}
	buffer, err := audio.NewSegmentBuffer(cfg.SampleRate, cfg.PreRollDurationSec)
	if err != nil {
		return nil, err
	}

	return &Session{
		conn:      conn,
		cfg:       cfg,
		pipeline:  p,
		sessionID: sessionID,
		logger:    observability.WithSession(sessionID),
		sampler:   audio.NewSampler(cfg.SampleRate),
		detector:  detector,
		buffer:    buffer,
	}, nil
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// HandleCaptureWS upgrades the connection and runs the session loop
func HandleCaptureWS(cfg *config.Config, p *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.GetLogger()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		session, err := NewSession(conn, cfg, p)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create capture session")
			conn.Close()
			return
		}
		session.Run(r.Context())
	}
}

// Run consumes frames until the connection closes or ctx is cancelled.
// An active segment at disconnect is flushed into the pipeline.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	observability.SessionStarted()
	defer observability.SessionEnded()
	s.logger.Info().Msg("Capture session opened")

	for {
		if ctx.Err() != nil {
			break
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Connection closed unexpectedly")
			}
			break
		}

		switch msgType {
		case websocket.TextMessage:
			if done := s.handleControl(ctx, data); done {
				s.logger.Info().Msg("Capture session stopped by client")
				return
			}
		case websocket.BinaryMessage:
			s.handleAudio(ctx, data)
		}
	}

	// Disconnect without a stop message still flushes pending speech
	s.flush(ctx)
	s.logger.Info().Msg("Capture session closed")
}

func (s *Session) handleControl(ctx context.Context, data []byte) bool {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(fmt.Sprintf("malformed control message: %v", err))
		return false
	}

	switch msg.Type {
	case "start":
		if s.started {
			s.sendError("session already started")
			return false
		}
		if msg.SampleRate != 0 && msg.SampleRate != s.cfg.SampleRate {
			s.sendError(fmt.Sprintf("unsupported sample rate %d, expected %d", msg.SampleRate, s.cfg.SampleRate))
			return false
		}
		s.started = true
		s.send(ServerEvent{Type: "started", SessionID: s.sessionID})

	case "configure":
		if msg.PreRollDuration > 0 {
			if err := s.buffer.SetPreRoll(msg.PreRollDuration); err != nil {
				s.sendError(err.Error())
				return false
			}
			s.logger.Debug().Float64("pre_roll_sec", msg.PreRollDuration).Msg("Pre-roll updated")
		}

	case "stop":
		s.flush(ctx)
		s.send(ServerEvent{Type: "stopped", SessionID: s.sessionID})
		return true

	default:
		s.sendError(fmt.Sprintf("unknown control message type %q", msg.Type))
	}
	return false
}

func (s *Session) handleAudio(ctx context.Context, data []byte) {
	if !s.started {
		s.sendError("audio before start")
		return
	}

	frame, err := audio.DecodePCM16(data)
	if err != nil {
		s.sendError(fmt.Sprintf("malformed audio frame: %v", err))
		return
	}
	if len(frame) == 0 {
		return
	}
	observability.RecordAudioBytes(len(data))

	sample := s.sampler.Next(frame)
	events := s.detector.Process(sample.Offset, sample.Loudness)

	// The frame is pushed exactly once. On a forced cutoff it belongs to
	// the segment being closed, so the push happens before Finalize and
	// a follow-on candidate at the same offset owns no audio yet.
	pushed := false
	for _, ev := range events {
		switch ev.Kind {
		case vad.EventCandidateStart:
			s.buffer.BeginCandidate(ev.Offset)
			s.send(ServerEvent{Type: "voice_activity", Activity: "candidate", OffsetMs: ev.Offset.Milliseconds()})

		case vad.EventCandidateCancel:
			s.buffer.CancelCandidate()

		case vad.EventSegmentStart:
			s.buffer.Confirm()
			s.send(ServerEvent{Type: "voice_activity", Activity: "started", OffsetMs: ev.Offset.Milliseconds()})

		case vad.EventSegmentEnd:
			reason := audio.FinalizeSilence
			if ev.Forced {
				reason = audio.FinalizeCutoff
				s.buffer.Push(frame, sample.Offset)
				pushed = true
			}
			s.finalize(ctx, reason)
			s.send(ServerEvent{Type: "voice_activity", Activity: "ended", OffsetMs: ev.Offset.Milliseconds(), Reason: string(reason)})
		}
	}
	if !pushed {
		s.buffer.Push(frame, sample.Offset)
	}

	s.maybeSendVolume(sample)
}

// maybeSendVolume emits a throttled volume_level event
func (s *Session) maybeSendVolume(sample audio.Sample) {
	now := time.Now()
	if now.Sub(s.lastVolumeSent) < volumeInterval {
		return
	}
	s.lastVolumeSent = now
	s.send(ServerEvent{
		Type:     "volume_level",
		Loudness: sample.Loudness,
		DB:       audio.DB(sample.Loudness),
		Active:   s.detector.State() == vad.StateActive || s.detector.State() == vad.StateReleasing,
		OffsetMs: sample.Offset.Milliseconds(),
	})
}

// finalize materializes the active segment, writes its artifact, and
// hands it to the pipeline
func (s *Session) finalize(ctx context.Context, reason audio.FinalizeReason) {
	seg, err := s.buffer.Finalize(reason)
	if err != nil {
		s.logger.Error().Err(err).Msg("Segment finalization failed")
		return
	}
	seg.Metadata.Engine = s.cfg.TranscriptionEngine
	seg.Metadata.Model = s.cfg.TranscriptionModel

	if _, err := audio.WriteArtifact(seg, s.cfg.ArtifactDir); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write segment artifact")
		s.sendError("failed to persist segment audio")
		return
	}

	observability.RecordSegment(string(reason), seg.Duration())

	msg, err := s.pipeline.Submit(ctx, seg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to submit segment")
		s.sendError("failed to queue segment for processing")
		return
	}

	s.logger.Info().
		Int64("message_id", msg.ID).
		Str("reason", string(reason)).
		Dur("duration", seg.Duration()).
		Msg("Segment submitted")
	s.send(ServerEvent{
		Type:      "segment",
		MessageID: msg.ID,
		OffsetMs:  seg.Metadata.StartOffsetMs,
		Reason:    string(reason),
	})
}

// flush closes a still-active segment when capture stops
func (s *Session) flush(ctx context.Context) {
	if s.buffer.Active() {
		s.finalize(ctx, audio.FinalizeStop)
	}
	s.detector.Reset()
}

func (s *Session) send(ev ServerEvent) {
	if err := s.conn.WriteJSON(ev); err != nil {
		s.logger.Debug().Err(err).Str("event", ev.Type).Msg("Failed to send event")
	}
}

func (s *Session) sendError(msg string) {
	s.logger.Warn().Str("error", msg).Msg("Client error")
	s.send(ServerEvent{Type: "error", Error: msg})
}
