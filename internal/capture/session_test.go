package capture

import (
	"context"
	"encoding/binary"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxlog/capture-gateway/internal/config"
	"github.com/voxlog/capture-gateway/internal/engine"
	"github.com/voxlog/capture-gateway/internal/pipeline"
	"github.com/voxlog/capture-gateway/internal/store"
)

const testRate = 16000

type stubTranscriber struct{}

func (stubTranscriber) Name() string { return "fake" }

func (stubTranscriber) Transcribe(ctx context.Context, req engine.TranscribeRequest) (*engine.TranscribeResult, error) {
	return &engine.TranscribeResult{Text: "stub transcript"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SampleRate:                 testRate,
		ActivationThreshold:        0.05,
		ActivationDurationSec:      0.3,
		SilenceDurationSec:         0.5,
		PreRollDurationSec:         0.2,
		MaxSegmentDurationSec:      30,
		TranscriptionEngine:        "fake",
		TranscriptionModel:         "test-model",
		ProviderTimeout:            5,
		WorkerCount:                1,
		SegmentBacklog:             8,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
		RetryMaxBackoff:            10,
		RetryBackoffMultiplier:     2.0,
		CircuitBreakerMaxFailures:  10,
		CircuitBreakerResetTimeout: 30,
		ArtifactDir:                t.TempDir(),
	}
}

func dialSession(t *testing.T, cfg *config.Config) (*websocket.Conn, *store.Store) {
	t.Helper()

	st := store.NewStore()
	registry := engine.NewRegistry(cfg)
	registry.RegisterTranscriber(stubTranscriber{})

	p := pipeline.NewOrchestrator(cfg, st, registry)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	server := httptest.NewServer(HandleCaptureWS(cfg, p))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		server.Close()
		cancel()
		p.Stop()
	})
	return conn, st
}

// pcmFrame encodes n samples of constant amplitude as little-endian PCM16
func pcmFrame(amplitude int16, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

func sendControl(t *testing.T, conn *websocket.Conn, msg ControlMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send control message: %v", err)
	}
}

// readUntil collects server events until one matches, skipping volume noise
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerEvent) bool) ServerEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("Read failed waiting for event: %v", err)
		}
		if ev.Type == "error" {
			t.Fatalf("Server error: %s", ev.Error)
		}
		if match(ev) {
			return ev
		}
	}
}

func TestSession_UtteranceBecomesMessage(t *testing.T) {
	cfg := testConfig(t)
	conn, st := dialSession(t, cfg)

	sendControl(t, conn, ControlMessage{Type: "start", SampleRate: testRate})
	readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "started" })

	// 100ms frames: 5 silence, 6 loud (past the 0.3s activation hold),
	// then 6 silence (past the 0.5s release hold)
	frameSamples := testRate / 10
	silence := pcmFrame(0, frameSamples)
	loud := pcmFrame(12000, frameSamples)

	for i := 0; i < 5; i++ {
		conn.WriteMessage(websocket.BinaryMessage, silence)
	}
	for i := 0; i < 6; i++ {
		conn.WriteMessage(websocket.BinaryMessage, loud)
	}

	started := readUntil(t, conn, func(ev ServerEvent) bool {
		return ev.Type == "voice_activity" && ev.Activity == "started"
	})
	if started.OffsetMs != 800 {
		t.Errorf("Segment started at %dms, expected 800", started.OffsetMs)
	}

	for i := 0; i < 7; i++ {
		conn.WriteMessage(websocket.BinaryMessage, silence)
	}

	segment := readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "segment" })
	if segment.MessageID == 0 {
		t.Fatal("Segment event carries no message id")
	}
	// Pre-roll reaches 0.2s before the 0.5s candidate start
	if segment.OffsetMs != 300 {
		t.Errorf("Segment starts at %dms, expected 300", segment.OffsetMs)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := st.Get(segment.MessageID); ok && msg.Status == store.StatusCompleted {
			if msg.Transcript != "stub transcript" {
				t.Errorf("Unexpected transcript %q", msg.Transcript)
			}
			if !strings.HasPrefix(msg.Segment.FileURI, "file://") {
				t.Errorf("Artifact URI not recorded: %q", msg.Segment.FileURI)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Message never completed")
}

func TestSession_StopFlushesActiveSegment(t *testing.T) {
	cfg := testConfig(t)
	conn, st := dialSession(t, cfg)

	sendControl(t, conn, ControlMessage{Type: "start"})
	readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "started" })

	frameSamples := testRate / 10
	loud := pcmFrame(12000, frameSamples)
	for i := 0; i < 6; i++ {
		conn.WriteMessage(websocket.BinaryMessage, loud)
	}
	readUntil(t, conn, func(ev ServerEvent) bool {
		return ev.Type == "voice_activity" && ev.Activity == "started"
	})

	// Stop mid-speech: the open segment must still reach the pipeline
	sendControl(t, conn, ControlMessage{Type: "stop"})

	segment := readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "segment" })
	if segment.Reason != "stop" {
		t.Errorf("Expected stop reason, got %q", segment.Reason)
	}
	readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "stopped" })

	if len(st.List()) != 1 {
		t.Errorf("Expected one message after stop flush, got %d", len(st.List()))
	}
}

func TestSession_VolumeEvents(t *testing.T) {
	cfg := testConfig(t)
	conn, _ := dialSession(t, cfg)

	sendControl(t, conn, ControlMessage{Type: "start"})
	readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "started" })

	loud := pcmFrame(12000, testRate/10)
	conn.WriteMessage(websocket.BinaryMessage, loud)

	ev := readUntil(t, conn, func(ev ServerEvent) bool { return ev.Type == "volume_level" })
	if ev.Loudness <= 0.05 || ev.Loudness > 1.0 {
		t.Errorf("Loudness %f out of expected range", ev.Loudness)
	}
	if ev.DB >= 0 {
		t.Errorf("Expected negative dBFS, got %f", ev.DB)
	}
}

func TestSession_AudioBeforeStartRejected(t *testing.T) {
	cfg := testConfig(t)
	conn, _ := dialSession(t, cfg)

	conn.WriteMessage(websocket.BinaryMessage, pcmFrame(1000, 160))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev ServerEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ev.Type != "error" {
		t.Errorf("Expected error event, got %q", ev.Type)
	}
}

func TestSession_RejectsMismatchedSampleRate(t *testing.T) {
	cfg := testConfig(t)
	conn, _ := dialSession(t, cfg)

	sendControl(t, conn, ControlMessage{Type: "start", SampleRate: 44100})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev ServerEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ev.Type != "error" {
		t.Errorf("Expected error event, got %q", ev.Type)
	}
}
