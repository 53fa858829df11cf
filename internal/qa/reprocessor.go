// Package qa keeps question/answer extractions aligned with their
// transcripts. Transcripts are mutable: segments complete out of
// order, users edit text after the fact, and extraction settings can
// change between runs. The reprocessor watches the message store and
// re-extracts whenever a message's QA output no longer matches the
// transcript it was derived from.
package qa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxlog/capture-gateway/internal/config"
	"github.com/voxlog/capture-gateway/internal/engine"
	"github.com/voxlog/capture-gateway/internal/observability"
	"github.com/voxlog/capture-gateway/internal/resilience"
	"github.com/voxlog/capture-gateway/internal/store"
)

// Settings selects the extraction engine and prompt. The signature of
// the settings is fingerprinted into each message so a settings change
// marks every message stale at once.
type Settings struct {
	Engine string
	Model  string
	Prompt string
}

// Signature returns a stable fingerprint of the settings
func (s Settings) Signature() string {
	sum := sha256.Sum256([]byte(s.Engine + "\x00" + s.Model + "\x00" + s.Prompt))
	return hex.EncodeToString(sum[:])
}

func transcriptHash(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}

// Reprocessor subscribes to store events and keeps QA output fresh
type Reprocessor struct {
	store    *store.Store
	registry *engine.Registry
	timeout  time.Duration
	retryCfg *resilience.RetryConfig
	breaker  *resilience.CircuitBreaker

	mu        sync.Mutex
	settings  Settings
	inflight  map[int64]bool
	attempted map[int64]string // Last fingerprint tried, successful or not

	wg sync.WaitGroup
}

// NewReprocessor wires the reprocessor against the store and the
// configured QA engine
func NewReprocessor(cfg *config.Config, st *store.Store, registry *engine.Registry) *Reprocessor {
	return &Reprocessor{
		store:    st,
		registry: registry,
		timeout:  cfg.ProviderCallTimeout(),
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
			BackoffMultiplier: cfg.RetryBackoffMultiplier,
			Jitter:            true,
		},
		breaker: resilience.NewCircuitBreaker("qa-"+cfg.QAEngine,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		settings: Settings{
			Engine: cfg.QAEngine,
			Model:  cfg.QAModel,
			Prompt: cfg.QAPrompt,
		},
		inflight:  make(map[int64]bool),
		attempted: make(map[int64]string),
	}
}

// Settings returns the active extraction settings
func (r *Reprocessor) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// UpdateSettings replaces the extraction settings and rescans the
// store; every previously processed message is now stale.
func (r *Reprocessor) UpdateSettings(ctx context.Context, s Settings) {
	r.mu.Lock()
	r.settings = s
	r.attempted = make(map[int64]string)
	r.mu.Unlock()

	log.Info().Str("engine", s.Engine).Str("model", s.Model).Msg("QA settings updated")
	r.Rescan(ctx)
}

// Run consumes store events until ctx is cancelled. It rescans once on
// entry so messages completed before startup are covered.
func (r *Reprocessor) Run(ctx context.Context) {
	events, cancel := r.store.Subscribe()
	defer cancel()

	r.Rescan(ctx)

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case ev, ok := <-events:
			if !ok {
				r.wg.Wait()
				return
			}
			r.maybeProcess(ctx, ev.Message)
		}
	}
}

// Rescan checks every stored message for staleness
func (r *Reprocessor) Rescan(ctx context.Context) {
	for _, msg := range r.store.List() {
		r.maybeProcess(ctx, msg)
	}
}

// Wait blocks until in-flight extractions settle. Intended for tests
// and shutdown.
func (r *Reprocessor) Wait() {
	r.wg.Wait()
}

// stale reports whether the message's QA output no longer matches its
// transcript or the active settings
func stale(msg *store.Message, sig string) bool {
	if msg.Status != store.StatusCompleted || msg.Transcript == "" {
		return false
	}
	if msg.QASettingsSig != sig {
		return true
	}
	if len(msg.Transcript) > msg.QAProcessedLength {
		return true
	}
	return transcriptHash(msg.Transcript) != msg.QATranscriptHash
}

func (r *Reprocessor) maybeProcess(ctx context.Context, msg *store.Message) {
	r.mu.Lock()
	sig := r.settings.Signature()
	if !stale(msg, sig) {
		r.mu.Unlock()
		return
	}
	fingerprint := sig + "|" + transcriptHash(msg.Transcript)
	if r.inflight[msg.ID] || r.attempted[msg.ID] == fingerprint {
		r.mu.Unlock()
		observability.RecordQASkip()
		return
	}
	r.inflight[msg.ID] = true
	r.attempted[msg.ID] = fingerprint
	settings := r.settings
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process(ctx, msg.ID, msg.Transcript, settings)

		r.mu.Lock()
		delete(r.inflight, msg.ID)
		r.mu.Unlock()

		// A transcript edit that landed during this run was skipped by
		// the inflight guard above. Re-check now that the slot is free.
		if cur, ok := r.store.Get(msg.ID); ok {
			r.maybeProcess(ctx, cur)
		}
	}()
}

// process extracts QA pairs for one transcript snapshot. A failure
// leaves the previous output and fingerprints untouched so the message
// stays stale and a later trigger can try again.
func (r *Reprocessor) process(ctx context.Context, id int64, transcript string, settings Settings) {
	logger := log.With().Int64("message_id", id).Logger()

	extractor, err := r.registry.QAExtractor(settings.Engine)
	if err != nil {
		logger.Error().Err(err).Msg("QA engine unavailable")
		r.recordFailure(id, err)
		return
	}

	var pairs []engine.QAPair
	started := time.Now()
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return r.breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			var callErr error
			pairs, callErr = extractor.ExtractQA(callCtx, engine.QARequest{
				Transcript: transcript,
				Model:      settings.Model,
				Prompt:     settings.Prompt,
			})
			return callErr
		})
	}, r.retryCfg, engine.IsRetryable)
	observability.RecordStage("qa", err == nil, time.Since(started))
	observability.RecordQARun(err == nil)

	if err != nil {
		logger.Error().Err(err).Msg("QA extraction failed")
		r.recordFailure(id, err)
		return
	}

	items := make([]store.QAItem, 0, len(pairs))
	for _, p := range pairs {
		items = append(items, store.QAItem{Question: p.Question, Answer: p.Answer})
	}

	if _, err := r.store.Update(id, func(m *store.Message) {
		m.QAItems = items
		m.QAProcessedLength = len(transcript)
		m.QATranscriptHash = transcriptHash(transcript)
		m.QASettingsSig = settings.Signature()
		m.QAError = ""
		m.QAUpdatedAt = time.Now()
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to record QA output")
		return
	}
	logger.Debug().Int("pairs", len(items)).Msg("QA extraction completed")
}

func (r *Reprocessor) recordFailure(id int64, cause error) {
	if _, err := r.store.Update(id, func(m *store.Message) {
		m.QAError = fmt.Sprintf("qa extraction: %v", cause)
	}); err != nil {
		log.Error().Err(err).Int64("message_id", id).Msg("Failed to record QA error")
	}
}
