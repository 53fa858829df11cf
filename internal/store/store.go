// Package store holds the mutable message history produced by the
// capture pipeline. Every segment becomes one Message whose fields are
// filled in asynchronously as the transcription, translation, and QA
// stages complete. All mutation runs through Update under a single
// lock, so stage workers never observe half-applied transitions.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxlog/capture-gateway/internal/audio"
	"github.com/voxlog/capture-gateway/internal/observability"
)

// Status tracks the transcription lifecycle of a message
type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// TranslationStatus tracks the optional translation stage
type TranslationStatus string

const (
	TranslationIdle      TranslationStatus = "idle"
	TranslationPending   TranslationStatus = "pending"
	TranslationCompleted TranslationStatus = "completed"
	TranslationFailed    TranslationStatus = "failed"
)

// QAItem is one extracted question/answer pair
type QAItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Message is one captured segment with everything derived from it.
// Transcript and Translation may be edited after the fact; the QA
// fingerprint fields let the reprocessor detect those edits.
type Message struct {
	ID                int64                 `json:"id"`
	Status            Status                `json:"status"`
	TranslationStatus TranslationStatus     `json:"translationStatus"`
	Transcript        string                `json:"transcript,omitempty"`
	Translation       string                `json:"translation,omitempty"`
	Error             string                `json:"error,omitempty"`
	TranslationError  string                `json:"translationError,omitempty"`
	QAItems           []QAItem              `json:"qaItems,omitempty"`
	QAError           string                `json:"qaError,omitempty"`
	QAProcessedLength int                   `json:"qaProcessedLength"`
	QATranscriptHash  string                `json:"qaTranscriptHash,omitempty"`
	QASettingsSig     string                `json:"qaSettingsSignature,omitempty"`
	QAUpdatedAt       time.Time             `json:"qaUpdatedAt,omitempty"`
	Segment           audio.SegmentMetadata `json:"segment"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy so readers never alias store-owned slices
func (m *Message) Clone() *Message {
	cp := *m
	if m.QAItems != nil {
		cp.QAItems = make([]QAItem, len(m.QAItems))
		copy(cp.QAItems, m.QAItems)
	}
	return &cp
}

// Event notifies subscribers of a message creation or mutation
type Event struct {
	Message *Message
}

const subscriberBuffer = 64

// Store is the in-memory message history. IDs are assigned in strictly
// increasing order and are never reused.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*Message
	subs     map[int]chan Event
	nextSub  int
}

// NewStore creates an empty message store
func NewStore() *Store {
	return &Store{
		nextID:   1,
		messages: make(map[int64]*Message),
		subs:     make(map[int]chan Event),
	}
}

// Create adds a pending message for a freshly finalized segment and
// returns a snapshot of it
func (s *Store) Create(meta audio.SegmentMetadata) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	msg := &Message{
		ID:                s.nextID,
		Status:            StatusPending,
		TranslationStatus: TranslationIdle,
		Segment:           meta,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.nextID++
	s.messages[msg.ID] = msg
	observability.RecordMessageCreated()
	s.notifyLocked(msg)
	return msg.Clone()
}

// Get returns a snapshot of one message
func (s *Store) Get(id int64) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// List returns snapshots of every message ordered by id
func (s *Store) List() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, msg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update applies fn to the message under the store lock, validates the
// resulting state, and notifies subscribers. fn receives a copy; the
// store replaces the stored message only when validation passes.
func (s *Store) Update(id int64, fn func(*Message)) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d not found", id)
	}

	next := cur.Clone()
	fn(next)
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now()

	if err := validate(next); err != nil {
		return nil, fmt.Errorf("invalid update for message %d: %w", id, err)
	}

	s.messages[id] = next
	s.notifyLocked(next)
	return next.Clone(), nil
}

// validate enforces the message state invariants
func validate(m *Message) error {
	switch m.Status {
	case StatusPending, StatusTranscribing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", m.Status)
	}
	switch m.TranslationStatus {
	case TranslationIdle, TranslationPending, TranslationCompleted, TranslationFailed:
	default:
		return fmt.Errorf("unknown translation status %q", m.TranslationStatus)
	}

	if m.Status == StatusCompleted {
		if m.Transcript == "" {
			return fmt.Errorf("completed message without transcript")
		}
		if m.Error != "" {
			return fmt.Errorf("completed message with error %q", m.Error)
		}
	}
	if m.Status == StatusFailed && m.Error == "" {
		return fmt.Errorf("failed message without error")
	}
	if m.Status != StatusCompleted && m.TranslationStatus != TranslationIdle {
		return fmt.Errorf("translation %s before transcription completed", m.TranslationStatus)
	}
	if m.TranslationStatus == TranslationCompleted && m.Translation == "" {
		return fmt.Errorf("completed translation without text")
	}
	if m.TranslationStatus == TranslationFailed && m.TranslationError == "" {
		return fmt.Errorf("failed translation without error")
	}
	return nil
}

// Subscribe returns a channel of message events. Delivery is best
// effort: when a subscriber's buffer fills, the oldest event is dropped
// so store mutation never blocks on a slow consumer.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) notifyLocked(msg *Message) {
	ev := Event{Message: msg.Clone()}
	for id, ch := range s.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
					log.Warn().Int("subscriber", id).Int64("message_id", msg.ID).
						Msg("Subscriber backlog full, dropping oldest event")
					continue
				default:
				}
			}
			break
		}
	}
}
