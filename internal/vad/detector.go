// Package vad implements amplitude-threshold voice activity detection with
// hysteresis. A single threshold alone is noise-prone: the activation hold
// suppresses transient spikes, the silence hold suppresses breaths and
// plosive gaps, and the max-duration cutoff bounds segment cost for
// pathological non-silence.
package vad

import (
	"fmt"
	"time"
)

// State is the detector's hysteresis state
type State int

const (
	StateIdle State = iota
	StateActivating
	StateActive
	StateReleasing
)

// String returns the state name for logging
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateReleasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// EventKind classifies detector events
type EventKind int

const (
	// EventCandidateStart fires when loudness first crosses the threshold.
	// The segment is not yet confirmed; audio should start accumulating.
	EventCandidateStart EventKind = iota

	// EventCandidateCancel fires when loudness drops before the activation
	// hold elapses. The accumulated candidate audio can be discarded.
	EventCandidateCancel

	// EventSegmentStart fires once loudness has stayed above the threshold
	// for the full activation hold. The pre-roll window should be spliced in.
	EventSegmentStart

	// EventSegmentEnd fires when sustained silence closes the segment, or
	// immediately (Forced) when the max segment duration is reached.
	EventSegmentEnd
)

// Event is one detector transition observed at a sample offset
type Event struct {
	Kind   EventKind
	Offset time.Duration
	Forced bool // Segment-end caused by the max-duration cutoff
}

// Config holds the hysteresis parameters
type Config struct {
	ActivationThreshold float64       // Normalized loudness in [0,1]
	ActivationDuration  time.Duration // Sustained loudness required to confirm a segment
	SilenceDuration     time.Duration // Sustained silence required to close a segment
	MaxSegmentDuration  time.Duration // Forced cutoff measured from segment confirmation
}

// Detector is the hysteresis state machine over loudness samples.
// It runs synchronously in the real-time sample path and never blocks.
type Detector struct {
	cfg   Config
	state State

	candidateStart time.Duration // When Activating was entered
	activeStart    time.Duration // When Active was entered
	releaseStart   time.Duration // When loudness last dropped during Active
}

// New creates a detector in the Idle state
func New(cfg Config) (*Detector, error) {
	if cfg.ActivationThreshold < 0 || cfg.ActivationThreshold > 1 {
		return nil, fmt.Errorf("activation threshold must be in [0,1], got %f", cfg.ActivationThreshold)
	}
	if cfg.ActivationDuration < 0 {
		return nil, fmt.Errorf("activation duration must be non-negative, got %s", cfg.ActivationDuration)
	}
	if cfg.SilenceDuration <= 0 {
		return nil, fmt.Errorf("silence duration must be positive, got %s", cfg.SilenceDuration)
	}
	if cfg.MaxSegmentDuration <= 0 {
		return nil, fmt.Errorf("max segment duration must be positive, got %s", cfg.MaxSegmentDuration)
	}
	return &Detector{cfg: cfg, state: StateIdle}, nil
}

// State returns the current hysteresis state
func (d *Detector) State() State {
	return d.state
}

// Reset returns the detector to Idle without emitting events
func (d *Detector) Reset() {
	d.state = StateIdle
}

// Process consumes one loudness sample and returns the transitions it caused.
// Events are ordered; a forced segment-end may be followed by the candidate
// start of the next segment at the same offset.
//
// Offsets are frame-start times, so a hold of duration D is satisfied by the
// first sample whose offset lies D or more past the hold's start. When driven
// by fixed-size frames this confirms one frame after the hold's audio has
// fully elapsed, never mid-frame.
func (d *Detector) Process(offset time.Duration, loudness float64) []Event {
	var events []Event
	d.step(offset, loudness, &events)
	return events
}

func (d *Detector) step(offset time.Duration, loudness float64, events *[]Event) {
	speech := loudness >= d.cfg.ActivationThreshold

	switch d.state {
	case StateIdle:
		if speech {
			d.state = StateActivating
			d.candidateStart = offset
			*events = append(*events, Event{Kind: EventCandidateStart, Offset: offset})
			d.checkActivation(offset, events)
		}

	case StateActivating:
		if !speech {
			// False trigger before the activation hold elapsed
			d.state = StateIdle
			*events = append(*events, Event{Kind: EventCandidateCancel, Offset: offset})
			return
		}
		d.checkActivation(offset, events)

	case StateActive:
		if d.checkCutoff(offset, loudness, events) {
			return
		}
		if !speech {
			d.state = StateReleasing
			d.releaseStart = offset
		}

	case StateReleasing:
		if d.checkCutoff(offset, loudness, events) {
			return
		}
		if speech {
			// Brief dip; treat as continuation, not a new segment
			d.state = StateActive
			return
		}
		if offset-d.releaseStart >= d.cfg.SilenceDuration {
			d.state = StateIdle
			*events = append(*events, Event{Kind: EventSegmentEnd, Offset: offset})
		}
	}
}

// checkActivation promotes Activating to Active once the hold elapses
func (d *Detector) checkActivation(offset time.Duration, events *[]Event) {
	if offset-d.candidateStart >= d.cfg.ActivationDuration {
		d.state = StateActive
		d.activeStart = offset
		*events = append(*events, Event{Kind: EventSegmentStart, Offset: offset})
	}
}

// checkCutoff forces a segment end at the max duration and re-evaluates the
// triggering sample from a fresh Idle state, so a loud feed immediately
// begins the next candidate without consuming any extra sample.
func (d *Detector) checkCutoff(offset time.Duration, loudness float64, events *[]Event) bool {
	if offset-d.activeStart < d.cfg.MaxSegmentDuration {
		return false
	}
	d.state = StateIdle
	*events = append(*events, Event{Kind: EventSegmentEnd, Offset: offset, Forced: true})
	d.step(offset, loudness, events)
	return true
}
