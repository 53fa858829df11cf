package audio

import (
	"math"
	"testing"
	"time"
)

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	// sqrt((1000^2 + 1000^2 + 2000^2 + 2000^2) / 4)
	expected := 1581.14
	if math.Abs(rms-expected) > 1.0 {
		t.Errorf("Expected RMS around %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 for empty input, got %f", rms)
	}
}

func TestLoudness_Normalized(t *testing.T) {
	// Full-scale square wave normalizes to ~1.0
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 32767
		} else {
			samples[i] = -32768
		}
	}

	loudness := Loudness(samples)
	if loudness < 0.99 || loudness > 1.001 {
		t.Errorf("Expected loudness near 1.0 for full-scale signal, got %f", loudness)
	}

	if l := Loudness(make([]int16, 160)); l != 0 {
		t.Errorf("Expected 0 loudness for digital silence, got %f", l)
	}
}

func TestDB(t *testing.T) {
	if db := DB(0); db != -80.0 {
		t.Errorf("Expected -80 dB floor for zero loudness, got %f", db)
	}
	if db := DB(1.0); db != 0 {
		t.Errorf("Expected 0 dB for full scale, got %f", db)
	}
	if db := DB(0.1); math.Abs(db+20.0) > 0.01 {
		t.Errorf("Expected -20 dB for 0.1 loudness, got %f", db)
	}
}

func TestSampler_OffsetClock(t *testing.T) {
	s := NewSampler(16000)

	frame := make([]int16, 1600) // 100ms at 16kHz
	first := s.Next(frame)
	if first.Offset != 0 {
		t.Errorf("Expected first frame at offset 0, got %s", first.Offset)
	}

	second := s.Next(frame)
	if second.Offset != 100*time.Millisecond {
		t.Errorf("Expected second frame at 100ms, got %s", second.Offset)
	}

	s.Reset()
	if s.Offset() != 0 {
		t.Errorf("Expected offset 0 after reset, got %s", s.Offset())
	}
}

func TestSampler_LoudnessInRange(t *testing.T) {
	s := NewSampler(16000)

	frame := make([]int16, 1600)
	for i := range frame {
		frame[i] = 5000
	}

	sample := s.Next(frame)
	if sample.Loudness <= 0 || sample.Loudness > 1 {
		t.Errorf("Expected loudness in (0,1], got %f", sample.Loudness)
	}
}
