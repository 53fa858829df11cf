package audio

import (
	"math"
	"time"
)

// Sample is one loudness observation taken from the capture feed.
type Sample struct {
	Offset   time.Duration // Position of the frame in the capture feed
	Loudness float64       // Normalized RMS in [0,1]
}

// Sampler converts raw PCM16 frames into periodic loudness samples.
// It runs in the real-time audio path and must never block.
type Sampler struct {
	sampleRate int
	consumed   int64 // Total samples consumed, drives the offset clock
}

// NewSampler creates a sampler for a PCM16 mono feed at the given rate
func NewSampler(sampleRate int) *Sampler {
	return &Sampler{sampleRate: sampleRate}
}

// Next consumes one frame and returns its loudness sample.
// The returned offset is the position of the frame start in the feed.
func (s *Sampler) Next(frame []int16) Sample {
	offset := s.Offset()
	s.consumed += int64(len(frame))
	return Sample{
		Offset:   offset,
		Loudness: Loudness(frame),
	}
}

// Offset returns the feed position of the next frame
func (s *Sampler) Offset() time.Duration {
	return time.Duration(s.consumed) * time.Second / time.Duration(s.sampleRate)
}

// Reset rewinds the offset clock to the start of a new feed
func (s *Sampler) Reset() {
	s.consumed = 0
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Loudness returns the RMS of a PCM16 frame normalized to [0,1]
func Loudness(samples []int16) float64 {
	return CalculateRMS(samples) / 32768.0
}

// DB converts a normalized loudness value to decibels, floored at -80
func DB(loudness float64) float64 {
	if loudness <= 0 {
		return -80.0
	}
	db := 20.0 * math.Log10(loudness)
	if db < -80.0 {
		return -80.0
	}
	return db
}
