package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FinalizeReason records why a segment was closed
type FinalizeReason string

const (
	FinalizeSilence FinalizeReason = "silence" // Sustained silence after speech
	FinalizeCutoff  FinalizeReason = "cutoff"  // Max-duration forced cutoff
	FinalizeStop    FinalizeReason = "stop"    // Capture session stopped
)

// SegmentMetadata describes a finalized segment artifact.
// Immutable once attached to a message.
type SegmentMetadata struct {
	FileURI       string    `json:"fileUri"`
	StartOffsetMs int64     `json:"startOffsetMs"`
	EndOffsetMs   int64     `json:"endOffsetMs"`
	DurationMs    int64     `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
	Engine        string    `json:"engine"`
	Model         string    `json:"model"`
}

// Segment is one finalized utterance handed off to the pipeline exactly once
type Segment struct {
	PCM        []int16
	SampleRate int
	Reason     FinalizeReason
	Metadata   SegmentMetadata
}

// Duration returns the segment length derived from its sample count
func (s *Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.PCM)) * time.Second / time.Duration(s.SampleRate)
}

type bufferMode int

const (
	modeIdle bufferMode = iota
	modeCandidate
	modeActive
)

// frameRec is one captured frame in the rolling pre-roll window
type frameRec struct {
	samples []int16
	offset  time.Duration // Feed position of the frame start
}

// SegmentBuffer retains a rolling pre-roll window of recent audio plus the
// in-progress segment. The rolling window always keeps sliding; it is never
// reset between segments. A watermark at the previous segment's end keeps
// any byte from being spliced into two segments.
type SegmentBuffer struct {
	sampleRate     int
	preRollSamples int

	rolling    []frameRec
	rollingLen int // Total samples currently held in rolling

	mode           bufferMode
	candidate      []int16
	candidateStart time.Duration
	active         []int16
	activeStart    time.Duration

	watermark time.Duration // End of the last finalized segment
}

// NewSegmentBuffer creates a buffer holding preRollDuration seconds of audio
func NewSegmentBuffer(sampleRate int, preRollDuration float64) (*SegmentBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if preRollDuration < 0 {
		return nil, fmt.Errorf("pre-roll duration must be non-negative, got %f", preRollDuration)
	}
	return &SegmentBuffer{
		sampleRate:     sampleRate,
		preRollSamples: int(preRollDuration * float64(sampleRate)),
	}, nil
}

// SetPreRoll recomputes the rolling window capacity after a settings change
func (b *SegmentBuffer) SetPreRoll(preRollDuration float64) error {
	if preRollDuration < 0 {
		return fmt.Errorf("pre-roll duration must be non-negative, got %f", preRollDuration)
	}
	b.preRollSamples = int(preRollDuration * float64(b.sampleRate))
	b.trimRolling()
	return nil
}

// Push consumes one frame at the given feed offset.
// The frame always enters the rolling window; while a candidate or an active
// segment is open it is accumulated there as well.
func (b *SegmentBuffer) Push(frame []int16, offset time.Duration) {
	if len(frame) == 0 {
		return
	}

	copied := append([]int16(nil), frame...)
	b.rolling = append(b.rolling, frameRec{samples: copied, offset: offset})
	b.rollingLen += len(copied)
	b.trimRolling()

	switch b.mode {
	case modeCandidate:
		b.candidate = append(b.candidate, copied...)
	case modeActive:
		b.active = append(b.active, copied...)
	}
}

// BeginCandidate starts accumulating a possible segment at the given offset.
// Audio keeps flowing into the rolling window, so cancelling loses nothing.
func (b *SegmentBuffer) BeginCandidate(offset time.Duration) {
	b.mode = modeCandidate
	b.candidate = nil
	b.candidateStart = offset
}

// CancelCandidate discards a false trigger.
// The candidate audio beyond the rolling pre-roll window is dropped.
func (b *SegmentBuffer) CancelCandidate() {
	b.mode = modeIdle
	b.candidate = nil
}

// Confirm promotes the candidate to an active segment, splicing the pre-roll
// window captured before the candidate started in front of the candidate audio
func (b *SegmentBuffer) Confirm() {
	splice, spliceStart := b.preRollBefore(b.candidateStart)
	b.active = append(splice, b.candidate...)
	if len(splice) > 0 {
		b.activeStart = spliceStart
	} else {
		b.activeStart = b.candidateStart
	}
	b.candidate = nil
	b.mode = modeActive
}

// Active reports whether an active segment is accumulating
func (b *SegmentBuffer) Active() bool {
	return b.mode == modeActive
}

// Finalize materializes the active segment as an immutable artifact and
// resets the active accumulation. The rolling window is left sliding.
func (b *SegmentBuffer) Finalize(reason FinalizeReason) (*Segment, error) {
	if b.mode != modeActive {
		return nil, fmt.Errorf("no active segment to finalize")
	}
	if len(b.active) == 0 {
		b.mode = modeIdle
		b.active = nil
		return nil, fmt.Errorf("active segment is empty")
	}

	duration := time.Duration(len(b.active)) * time.Second / time.Duration(b.sampleRate)
	start := b.activeStart
	end := start + duration

	seg := &Segment{
		PCM:        b.active,
		SampleRate: b.sampleRate,
		Reason:     reason,
		Metadata: SegmentMetadata{
			StartOffsetMs: start.Milliseconds(),
			EndOffsetMs:   end.Milliseconds(),
			DurationMs:    duration.Milliseconds(),
			CreatedAt:     time.Now().UTC(),
		},
	}

	b.watermark = end
	b.active = nil
	b.mode = modeIdle
	return seg, nil
}

// preRollBefore collects up to preRollSamples of rolling audio that ends at
// the given offset and starts no earlier than the previous segment's end
func (b *SegmentBuffer) preRollBefore(offset time.Duration) ([]int16, time.Duration) {
	var frames []frameRec
	total := 0
	for i := len(b.rolling) - 1; i >= 0 && total < b.preRollSamples; i-- {
		rec := b.rolling[i]
		if rec.offset >= offset {
			continue // Frame belongs to the candidate, not the pre-roll
		}
		if rec.offset < b.watermark {
			break // Already committed to the previous segment
		}
		frameEnd := rec.offset + time.Duration(len(rec.samples))*time.Second/time.Duration(b.sampleRate)
		if frameEnd > offset {
			continue
		}
		frames = append(frames, rec)
		total += len(rec.samples)
	}

	if len(frames) == 0 {
		return nil, 0
	}

	// frames were collected newest-first
	splice := make([]int16, 0, total)
	for i := len(frames) - 1; i >= 0; i-- {
		splice = append(splice, frames[i].samples...)
	}
	return splice, frames[len(frames)-1].offset
}

// trimRolling drops the oldest frames once the window exceeds its capacity.
// While a candidate is open, frames inside its pre-roll window are pinned so
// a long activation duration cannot slide the splice out of the window.
func (b *SegmentBuffer) trimRolling() {
	preRoll := time.Duration(b.preRollSamples) * time.Second / time.Duration(b.sampleRate)
	for len(b.rolling) > 0 && b.rollingLen-len(b.rolling[0].samples) >= b.preRollSamples {
		front := b.rolling[0]
		if b.mode == modeCandidate {
			frameEnd := front.offset + time.Duration(len(front.samples))*time.Second/time.Duration(b.sampleRate)
			if frameEnd > b.candidateStart-preRoll {
				break
			}
		}
		b.rollingLen -= len(front.samples)
		b.rolling[0].samples = nil
		b.rolling = b.rolling[1:]
	}
}

// WriteArtifact encodes a segment as WAV under dir and records its file URI
// in the segment metadata. The artifact is owned by the pipeline afterwards.
func WriteArtifact(seg *Segment, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	data, err := EncodeWAV(seg.PCM, seg.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode segment: %w", err)
	}

	name := fmt.Sprintf("segment-%s.wav", uuid.New().String())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	seg.Metadata.FileURI = "file://" + abs
	return path, nil
}
